package domain

import "time"

// OverrideKind enumerates manual interventions on an open position.
//
//   - hold: suppress ordinary exits for the day; the hard stop still fires.
//   - force-exit: close at next evaluated price regardless of other rules.
//   - smart-stop: suppress the circuit breaker and let layered stops govern.
type OverrideKind string

const (
	OverrideHold      OverrideKind = "hold"
	OverrideForceExit OverrideKind = "force-exit"
	OverrideSmartStop OverrideKind = "smart-stop"
)

// ManualOverride is a per-(ticker,strategy) intervention that expires at the
// end of the trading day.
type ManualOverride struct {
	Ticker    string
	Strategy  Strategy
	Kind      OverrideKind
	Source    string // e.g. "api", "circuit-breaker"
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether k is a recognized override kind.
func (k OverrideKind) Valid() bool {
	switch k {
	case OverrideHold, OverrideForceExit, OverrideSmartStop:
		return true
	}
	return false
}
