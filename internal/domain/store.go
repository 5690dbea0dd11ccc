package domain

import (
	"context"
	"time"
)

// PositionStore persists positions. Implementations enforce the uniqueness
// of one open position per (ticker, strategy).
type PositionStore interface {
	Create(ctx context.Context, p *Position) error
	Get(ctx context.Context, id string) (*Position, error)
	GetOpen(ctx context.Context, ticker string, strategy Strategy) (*Position, error)
	ListOpen(ctx context.Context, strategy Strategy) ([]*Position, error)
	Update(ctx context.Context, p *Position) error
	DeployedCapital(ctx context.Context, strategy Strategy) (float64, error)
	RecentLossTickers(ctx context.Context, strategy Strategy, since time.Time) ([]string, error)
}

// TradeStore is the append-only trade log.
type TradeStore interface {
	Insert(ctx context.Context, t *Trade) error
	ListByPosition(ctx context.Context, positionID string) ([]*Trade, error)
	ListClosedSince(ctx context.Context, strategy Strategy, since time.Time) ([]*Trade, error)
}

// CapitalStore persists per-strategy capital accounts.
type CapitalStore interface {
	Get(ctx context.Context, strategy Strategy) (*CapitalAccount, error)
	Debit(ctx context.Context, strategy Strategy, amount float64) (*CapitalAccount, error)
	Credit(ctx context.Context, strategy Strategy, amount float64) (*CapitalAccount, error)
	SetEntriesHalted(ctx context.Context, strategy Strategy, halted bool) error
}

// Settlement is the atomic outcome of closing a position: the position row
// flips to closed, the sell trade is logged, and the capital account is
// credited, all in one transaction.
type Settlement struct {
	Position  *Position
	ExitPrice float64
	PnL       float64
	Reason    ExitReason
	ClosedAt  time.Time
}

// SettlementStore applies a Settlement atomically.
type SettlementStore interface {
	CloseAndSettle(ctx context.Context, s Settlement) (*CapitalAccount, error)
}

// SnapshotStore persists end-of-day capital snapshots.
type SnapshotStore interface {
	Upsert(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, strategy Strategy, date time.Time) (*Snapshot, error)
}
