package domain

import "time"

// Strategy identifies an independent capital pool. Each strategy has its own
// capital account, position set, and parameter block.
type Strategy string

const (
	StrategyDaily Strategy = "daily"
	StrategySwing Strategy = "swing"
)

// Category is the market-cap risk bucket a ticker belongs to.
type Category string

const (
	CategoryLargeCap Category = "large-cap"
	CategoryMidCap   Category = "mid-cap"
	CategoryMicroCap Category = "micro-cap"
)

// PositionStatus tracks the lifecycle state of a position.
//
// open -> held is reversible (the hold expires at end of day or is lifted by
// an override); open/held -> closed is terminal.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusHeld   PositionStatus = "held"
	PositionStatusClosed PositionStatus = "closed"
)

// ProtectionMethod names the stop layer currently governing a position.
type ProtectionMethod string

const (
	MethodFixed      ProtectionMethod = "fixed"
	MethodVolatility ProtectionMethod = "volatility"
	MethodChandelier ProtectionMethod = "chandelier"
	MethodSupport    ProtectionMethod = "support"
	MethodProfitLock ProtectionMethod = "profit-lock"
)

// Position is one open (or historical) trade for a (ticker, strategy) pair.
// At most one open position may exist per pair.
type Position struct {
	ID       string
	Ticker   string
	Strategy Strategy
	Category Category

	EntryPrice float64
	Quantity   int64
	EntryDate  time.Time

	CurrentPrice float64
	HighestPrice float64 // running high since entry, monotonic non-decreasing
	PriceAsOf    time.Time

	StopLoss   float64
	TakeProfit float64
	Method     ProtectionMethod

	ProfitLockActive bool
	LockedFloor      float64 // monotonic non-decreasing once profit-lock activates
	LockedFloorPct   float64

	Status   PositionStatus
	OpenedAt time.Time
	ClosedAt *time.Time
}

// Invested returns the principal deployed into this position.
func (p Position) Invested() float64 {
	return p.EntryPrice * float64(p.Quantity)
}

// UnrealizedPnL returns the mark-to-market profit at the last observed price.
func (p Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.EntryPrice) * float64(p.Quantity)
}

// UnrealizedPnLPct returns the unrealized profit as a percentage of entry.
func (p Position) UnrealizedPnLPct() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// DaysHeld returns elapsed calendar days since entry, counted on dates in
// now's location. An entry at 15:00 is on day 1 the next morning, not after
// a full 24 hours.
func (p Position) DaysHeld(now time.Time) int {
	entry := p.EntryDate.In(now.Location())
	e := time.Date(entry.Year(), entry.Month(), entry.Day(), 0, 0, 0, 0, time.UTC)
	n := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	d := int(n.Sub(e).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// Key returns the (ticker, strategy) identity used for locks and overrides.
func (p Position) Key() string {
	return p.Ticker + ":" + string(p.Strategy)
}
