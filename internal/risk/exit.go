package risk

import (
	"fmt"
	"time"

	"github.com/alphadeck/stockpilot/internal/config"
	"github.com/alphadeck/stockpilot/internal/domain"
)

// Action is the evaluator's instruction for one position on one tick.
type Action string

const (
	ActionClose    Action = "close"
	ActionHold     Action = "hold"
	ActionContinue Action = "continue"
)

// TickInput is one position's worth of monitor-tick context. Override is nil
// when no manual intervention is in force. PriceFresh is false when the last
// quote is older than the staleness horizon; stale prices block price-based
// exits but never the calendar-based ones.
type TickInput struct {
	Price      float64
	PriceAsOf  time.Time
	PriceFresh bool
	ATR        float64
	RecentLow  float64
	Override   *domain.ManualOverride
	Now        time.Time
}

// Verdict is the evaluated outcome. When Action is close, Reason and
// ExitPrice are set. On the continue path the position has been updated in
// place (highest price, stop, profit lock) and the flags report what moved.
type Verdict struct {
	Action    Action
	Reason    domain.ExitReason
	ExitPrice float64
	Detail    string

	AutoHold            bool // advisory drawdown tripped; hold for the day
	DrawdownAlert       bool
	StopUpdated         bool
	ProfitLockActivated bool
}

// ExitEvaluator applies the exit rule stack to open positions. Rules are
// strictly ordered; the first that fires wins:
//
//  1. force-exit override
//  2. hold override (the hard stop still fires underneath it)
//  3. circuit breaker: hard stop, then advisory drawdown + same-day hold
//  4. stop loss (whichever layer is binding)
//  5. take profit
//  6. max holding period (evaluated even on a stale price)
//  7. continue: ratchet highest price, retighten the stop, maybe activate
//     the profit lock
type ExitEvaluator struct {
	params config.StrategyParams
	stops  *StopCalculator
}

func NewExitEvaluator(params config.StrategyParams) *ExitEvaluator {
	return &ExitEvaluator{params: params, stops: NewStopCalculator(params)}
}

// Evaluate runs the rule stack for one position. It may mutate p on the
// continue path; close verdicts leave p untouched for the caller to settle.
func (e *ExitEvaluator) Evaluate(p *domain.Position, in TickInput) Verdict {
	// 1. Force-exit beats everything, including a stale quote: the operator
	// asked for out, the last observed price is the best available fill.
	if in.Override != nil && in.Override.Kind == domain.OverrideForceExit {
		exitPrice := in.Price
		if exitPrice <= 0 {
			exitPrice = p.CurrentPrice
		}
		return Verdict{
			Action:    ActionClose,
			Reason:    domain.ExitReasonForced,
			ExitPrice: exitPrice,
			Detail:    "manual force-exit",
		}
	}

	pnlPct := 0.0
	if in.Price > 0 && p.EntryPrice > 0 {
		pnlPct = (in.Price - p.EntryPrice) / p.EntryPrice * 100
	}

	smartStop := in.Override != nil && in.Override.Kind == domain.OverrideSmartStop

	// 2. Hold override: suppress ordinary exits for the day. The hard stop
	// is the one rule a hold cannot mute.
	if in.Override != nil && in.Override.Kind == domain.OverrideHold {
		if in.PriceFresh && pnlPct <= -e.params.HardStopPct*100 {
			return Verdict{
				Action:    ActionClose,
				Reason:    domain.ExitReasonCircuitBreak,
				ExitPrice: in.Price,
				Detail:    fmt.Sprintf("hard stop through hold at %.2f%% from entry", pnlPct),
			}
		}
		return Verdict{Action: ActionHold, Detail: "manual hold"}
	}

	if in.PriceFresh {
		// 3. Circuit breaker, measured from entry. A smart-stop override
		// silences it and lets the layered stops govern instead.
		if !smartStop {
			if pnlPct <= -e.params.HardStopPct*100 {
				return Verdict{
					Action:    ActionClose,
					Reason:    domain.ExitReasonCircuitBreak,
					ExitPrice: in.Price,
					Detail:    fmt.Sprintf("hard stop at %.2f%% from entry", pnlPct),
				}
			}
			if pnlPct <= -e.params.DrawdownAlertPct*100 {
				return Verdict{
					Action:        ActionHold,
					AutoHold:      true,
					DrawdownAlert: true,
					Detail:        fmt.Sprintf("drawdown alert at %.2f%% from entry", pnlPct),
				}
			}
		}

		// 4. Stop loss.
		if p.StopLoss > 0 && in.Price <= p.StopLoss {
			return Verdict{
				Action:    ActionClose,
				Reason:    domain.ExitReasonStopLoss,
				ExitPrice: in.Price,
				Detail:    fmt.Sprintf("%s stop at %.2f", p.Method, p.StopLoss),
			}
		}

		// 5. Take profit.
		if p.TakeProfit > 0 && in.Price >= p.TakeProfit {
			return Verdict{
				Action:    ActionClose,
				Reason:    domain.ExitReasonTakeProfit,
				ExitPrice: in.Price,
				Detail:    fmt.Sprintf("target %.2f reached", p.TakeProfit),
			}
		}
	}

	// 6. Max holding period. Calendar-driven, so a stale or missing quote
	// must not keep a position alive past its horizon; the exit prices at
	// the last observed quote.
	horizon := e.stops.HoldHorizon(p)
	if held := p.DaysHeld(in.Now); held >= horizon {
		exitPrice := in.Price
		if exitPrice <= 0 {
			exitPrice = p.CurrentPrice
		}
		return Verdict{
			Action:    ActionClose,
			Reason:    domain.ExitReasonMaxHold,
			ExitPrice: exitPrice,
			Detail:    fmt.Sprintf("held %d days, horizon %d", held, horizon),
		}
	}

	if !in.PriceFresh {
		return Verdict{Action: ActionContinue, Detail: "stale price, no update"}
	}

	// 7. Continue: ratchet state and retighten protection.
	v := Verdict{Action: ActionContinue}

	p.CurrentPrice = in.Price
	p.PriceAsOf = in.PriceAsOf
	if in.Price > p.HighestPrice {
		p.HighestPrice = in.Price
	}

	v.ProfitLockActivated = e.stops.ActivateProfitLock(p, in.Now)

	res := e.stops.Compute(StopInputs{
		EntryPrice:       p.EntryPrice,
		HighestPrice:     p.HighestPrice,
		CurrentPrice:     p.CurrentPrice,
		ATR:              in.ATR,
		RecentLow:        in.RecentLow,
		ProfitLockActive: p.ProfitLockActive,
		LockedFloor:      p.LockedFloor,
	})
	v.StopUpdated = Tighten(p, res)

	// Once locked, the target trails just above price so winners are given
	// room without surrendering the floor.
	if p.ProfitLockActive {
		if target := p.CurrentPrice * (1 + e.params.LockedTargetPct); target > 0 {
			p.TakeProfit = target
		}
	}

	return v
}

// InitialProtection prices the stop and target for a brand-new position.
func (e *ExitEvaluator) InitialProtection(p *domain.Position, atr, recentLow float64) StopResult {
	res := e.stops.Compute(StopInputs{
		EntryPrice:   p.EntryPrice,
		HighestPrice: p.EntryPrice,
		CurrentPrice: p.EntryPrice,
		ATR:          atr,
		RecentLow:    recentLow,
	})
	p.StopLoss = res.Stop
	p.Method = res.Method
	p.TakeProfit = p.EntryPrice * (1 + e.params.TakeProfitPct)
	return res
}
