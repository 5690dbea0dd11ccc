package risk

import (
	"time"

	"github.com/alphadeck/stockpilot/internal/config"
	"github.com/alphadeck/stockpilot/internal/domain"
)

// StopInputs carries everything the calculator needs to price the stop
// layers for one position.
type StopInputs struct {
	EntryPrice   float64
	HighestPrice float64
	CurrentPrice float64
	ATR          float64
	RecentLow    float64

	ProfitLockActive bool
	LockedFloor      float64
}

// StopResult is the computed stop: the governing level, the layer that set
// it, and every layer that was priced (for logging and notifications).
type StopResult struct {
	Stop   float64
	Method domain.ProtectionMethod
	Layers map[domain.ProtectionMethod]float64
}

// StopCalculator prices the protective stop for one strategy's parameter
// block. The final stop is the tightest (highest) of the available layers,
// so protection only ever ratchets toward price.
type StopCalculator struct {
	params config.StrategyParams
}

func NewStopCalculator(params config.StrategyParams) *StopCalculator {
	return &StopCalculator{params: params}
}

// Compute prices every applicable layer and returns the tightest one.
//
// Layers:
//   - fixed:      entry * (1 - fixed_stop_pct), always present
//   - volatility: entry - atr_multiplier * ATR, when ATR is known
//   - chandelier: highest - chandelier_multiplier * ATR, when ATR is known
//   - support:    recent_low * (1 - support_stop_pct), when a low is known
//   - profit-lock: the locked floor, once activated; additionally a trail of
//     current * (1 - locked_trail_pct) floored at the locked level
func (c *StopCalculator) Compute(in StopInputs) StopResult {
	layers := make(map[domain.ProtectionMethod]float64, 5)

	layers[domain.MethodFixed] = in.EntryPrice * (1 - c.params.FixedStopPct)

	if in.ATR > 0 {
		if v := in.EntryPrice - c.params.ATRMultiplier*in.ATR; v > 0 {
			layers[domain.MethodVolatility] = v
		}
		high := in.HighestPrice
		if high < in.EntryPrice {
			high = in.EntryPrice
		}
		if v := high - c.params.ChandelierMultiplier*in.ATR; v > 0 {
			layers[domain.MethodChandelier] = v
		}
	}

	if in.RecentLow > 0 {
		layers[domain.MethodSupport] = in.RecentLow * (1 - c.params.SupportStopPct)
	}

	if in.ProfitLockActive && in.LockedFloor > 0 {
		lock := in.LockedFloor
		if in.CurrentPrice > 0 {
			if trail := in.CurrentPrice * (1 - c.params.LockedTrailPct); trail > lock {
				lock = trail
			}
		}
		layers[domain.MethodProfitLock] = lock
	}

	res := StopResult{Layers: layers}
	for method, level := range layers {
		if level > res.Stop {
			res.Stop = level
			res.Method = method
		}
	}
	return res
}

// Tighten applies a freshly computed stop to a position, only ever raising
// it. It reports whether the stop moved.
func Tighten(p *domain.Position, r StopResult) bool {
	if r.Stop <= p.StopLoss {
		return false
	}
	p.StopLoss = r.Stop
	p.Method = r.Method
	return true
}

// LockTier picks the locked-floor percentage for the given unrealized gain.
// Tiers are ordered by descending min_pnl_pct; the first band at or below
// the gain wins.
func (c *StopCalculator) LockTier(pnlPct float64) (float64, bool) {
	for _, t := range c.params.ProfitLockTiers {
		if pnlPct >= t.MinPnLPct {
			return t.LockPct, true
		}
	}
	return 0, false
}

// ActivateProfitLock turns the profit lock on for a position that has aged
// past the activation horizon while profitable. It sets the locked floor per
// the tier table, moves the target to just above current price, and reports
// whether activation happened on this call.
//
// Once active, the lock never deactivates and the floor never drops; repeat
// calls may only raise the floor when the position graduates to a higher
// tier.
func (c *StopCalculator) ActivateProfitLock(p *domain.Position, now time.Time) bool {
	if c.params.ProfitLockAfterDays <= 0 || len(c.params.ProfitLockTiers) == 0 {
		return false
	}
	if p.DaysHeld(now) < c.params.ProfitLockAfterDays {
		return false
	}
	pnlPct := p.UnrealizedPnLPct()
	if pnlPct <= 0 {
		return false
	}
	lockPct, ok := c.LockTier(pnlPct)
	if !ok {
		return false
	}

	floor := p.EntryPrice * (1 + lockPct)
	activated := !p.ProfitLockActive
	if activated || floor > p.LockedFloor {
		p.LockedFloor = floor
		p.LockedFloorPct = lockPct
	}
	p.ProfitLockActive = true
	p.TakeProfit = p.CurrentPrice * (1 + c.params.LockedTargetPct)
	return activated
}

// HoldHorizon returns the max holding period in days, extended once the
// profit lock is active.
func (c *StopCalculator) HoldHorizon(p *domain.Position) int {
	if p.ProfitLockActive {
		return c.params.ExtendedHoldDays
	}
	return c.params.MaxHoldDays
}
