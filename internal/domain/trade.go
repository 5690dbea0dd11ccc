package domain

import "time"

// TradeAction distinguishes the two sides of the trade log.
type TradeAction string

const (
	TradeActionBuy  TradeAction = "buy"
	TradeActionSell TradeAction = "sell"
)

// ExitReason records why a position was closed (or why an exit verdict fired).
type ExitReason string

const (
	ExitReasonStopLoss     ExitReason = "stop-loss"
	ExitReasonTakeProfit   ExitReason = "take-profit"
	ExitReasonMaxHold      ExitReason = "max-hold"
	ExitReasonCircuitBreak ExitReason = "circuit-breaker"
	ExitReasonForced       ExitReason = "force-exit"
)

// Trade is one row of the append-only trade log. Buys record the entry fill,
// sells record the exit fill together with realized PnL and the exit reason.
type Trade struct {
	ID         string
	PositionID string
	Ticker     string
	Strategy   Strategy
	Action     TradeAction
	Price      float64
	Quantity   int64
	PnL        float64
	Reason     ExitReason
	ExecutedAt time.Time
}

// Notional returns the cash value of the fill.
func (t Trade) Notional() float64 {
	return t.Price * float64(t.Quantity)
}
