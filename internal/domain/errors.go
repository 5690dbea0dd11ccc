package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicatePosition = errors.New("open position already exists for ticker/strategy")
	ErrInsufficientFunds = errors.New("insufficient available cash")
	ErrEntriesHalted     = errors.New("entries halted for strategy")
	ErrPositionClosed    = errors.New("position already closed")
	ErrStalePrice        = errors.New("price quote is stale")
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrInvalidOverride   = errors.New("invalid override")
	ErrLockHeld          = errors.New("lock already held")
	ErrLedgerDrift       = errors.New("capital ledger drift detected")
)
