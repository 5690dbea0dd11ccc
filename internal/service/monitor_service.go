package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alphadeck/stockpilot/internal/config"
	"github.com/alphadeck/stockpilot/internal/domain"
	"github.com/alphadeck/stockpilot/internal/ledger"
	"github.com/alphadeck/stockpilot/internal/notify"
	"github.com/alphadeck/stockpilot/internal/risk"
)

// monitorConcurrency caps per-tick worker goroutines.
const monitorConcurrency = 4

// IndicatorSource supplies the volatility inputs for stop recomputation.
// Implementations may return zeros when history is unavailable; the fixed
// stop layer still protects the position.
type IndicatorSource interface {
	Indicators(ctx context.Context, ticker string) (atr, recentLow float64, err error)
}

// TickReport summarizes one monitor pass over a strategy's open positions.
type TickReport struct {
	Strategy     domain.Strategy
	Evaluated    int
	Closed       int
	Held         int
	Skipped      int
	StopsUpdated int
	ProfitLocks  int
	Errors       []error
}

// MonitorService runs the per-tick exit evaluation over all open positions.
// Each position is processed under its (ticker, strategy) lock so a
// concurrent entry or a second monitor instance cannot interleave; the
// settlement path is additionally idempotent at the store level, making a
// re-run of the same tick harmless.
type MonitorService struct {
	book       *ledger.Ledger
	positions  domain.PositionStore
	prices     domain.PriceCache
	overrides  domain.OverrideCache
	locks      domain.LockManager
	indicators IndicatorSource
	bus        domain.EventPublisher
	notifier   *notify.Notifier
	clock      *TradingClock
	logger     *slog.Logger

	evaluators  map[domain.Strategy]*risk.ExitEvaluator
	priceMaxAge time.Duration
	lockTTL     time.Duration
}

// NewMonitorService creates a MonitorService with all required dependencies.
// indicators may be nil; stops then tighten on the fixed layer only.
func NewMonitorService(
	book *ledger.Ledger,
	positions domain.PositionStore,
	prices domain.PriceCache,
	overrides domain.OverrideCache,
	locks domain.LockManager,
	indicators IndicatorSource,
	bus domain.EventPublisher,
	notifier *notify.Notifier,
	clock *TradingClock,
	engineCfg config.EngineConfig,
	logger *slog.Logger,
) *MonitorService {
	return &MonitorService{
		book:       book,
		positions:  positions,
		prices:     prices,
		overrides:  overrides,
		locks:      locks,
		indicators: indicators,
		bus:        bus,
		notifier:   notifier,
		clock:      clock,
		logger:     logger.With(slog.String("component", "monitor_service")),
		evaluators: map[domain.Strategy]*risk.ExitEvaluator{
			domain.StrategyDaily: risk.NewExitEvaluator(engineCfg.Daily),
			domain.StrategySwing: risk.NewExitEvaluator(engineCfg.Swing),
		},
		priceMaxAge: engineCfg.PriceMaxAge.Duration,
		lockTTL:     engineCfg.LockTTL.Duration,
	}
}

// Tick evaluates every open position of one strategy against the latest
// cached quotes.
func (s *MonitorService) Tick(ctx context.Context, strategy domain.Strategy) (TickReport, error) {
	report := TickReport{Strategy: strategy}

	evaluator, ok := s.evaluators[strategy]
	if !ok {
		return report, fmt.Errorf("monitor_service: tick: %w", domain.ErrUnknownStrategy)
	}

	open, err := s.positions.ListOpen(ctx, strategy)
	if err != nil {
		return report, fmt.Errorf("monitor_service: tick: %w", err)
	}
	if len(open) == 0 {
		return report, nil
	}

	tickers := make([]string, 0, len(open))
	for _, p := range open {
		tickers = append(tickers, p.Ticker)
	}
	quotes, err := s.prices.GetQuotes(ctx, tickers)
	if err != nil {
		return report, fmt.Errorf("monitor_service: tick quotes: %w", err)
	}

	now := s.clock.Now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(monitorConcurrency)

	for _, p := range open {
		g.Go(func() error {
			outcome, err := s.process(gctx, evaluator, p, quotes[p.Ticker], now)
			mu.Lock()
			defer mu.Unlock()
			report.Evaluated++
			if err != nil {
				report.Errors = append(report.Errors, err)
				return nil // one bad position must not stop the pass
			}
			report.Closed += outcome.closed
			report.Held += outcome.held
			report.Skipped += outcome.skipped
			report.StopsUpdated += outcome.stopUpdated
			report.ProfitLocks += outcome.profitLocked
			return nil
		})
	}
	_ = g.Wait()

	s.logger.InfoContext(ctx, "monitor tick complete",
		slog.String("strategy", string(strategy)),
		slog.Int("evaluated", report.Evaluated),
		slog.Int("closed", report.Closed),
		slog.Int("held", report.Held),
		slog.Int("stops_updated", report.StopsUpdated),
		slog.Int("errors", len(report.Errors)))
	return report, nil
}

// TickAll runs Tick for both strategy pools.
func (s *MonitorService) TickAll(ctx context.Context) ([]TickReport, error) {
	var reports []TickReport
	for _, strategy := range []domain.Strategy{domain.StrategyDaily, domain.StrategySwing} {
		r, err := s.Tick(ctx, strategy)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

type tickOutcome struct {
	closed       int
	held         int
	skipped      int
	stopUpdated  int
	profitLocked int
}

func (s *MonitorService) process(ctx context.Context, evaluator *risk.ExitEvaluator, p *domain.Position, q domain.Quote, now time.Time) (tickOutcome, error) {
	var out tickOutcome

	unlock, err := s.locks.Acquire(ctx, p.Key(), s.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			out.skipped++
			return out, nil
		}
		return out, fmt.Errorf("monitor_service: lock %s: %w", p.Key(), err)
	}
	defer unlock()

	override, err := s.overrides.Get(ctx, p.Ticker, p.Strategy)
	if err != nil {
		return out, fmt.Errorf("monitor_service: override %s: %w", p.Key(), err)
	}

	var atr, recentLow float64
	if s.indicators != nil {
		atr, recentLow, err = s.indicators.Indicators(ctx, p.Ticker)
		if err != nil {
			s.logger.WarnContext(ctx, "indicators unavailable",
				slog.String("ticker", p.Ticker),
				slog.String("error", err.Error()))
			atr, recentLow = 0, 0
		}
	}

	in := risk.TickInput{
		Price:      q.Price,
		PriceAsOf:  q.AsOf,
		PriceFresh: q.Fresh(now, s.priceMaxAge),
		ATR:        atr,
		RecentLow:  recentLow,
		Override:   override,
		Now:        now,
	}
	verdict := evaluator.Evaluate(p, in)

	switch verdict.Action {
	case risk.ActionClose:
		return s.applyClose(ctx, p, verdict, now)
	case risk.ActionHold:
		return s.applyHold(ctx, p, verdict, in, now)
	default:
		return s.applyContinue(ctx, p, verdict, now)
	}
}

func (s *MonitorService) applyClose(ctx context.Context, p *domain.Position, v risk.Verdict, now time.Time) (tickOutcome, error) {
	var out tickOutcome

	pnl := (v.ExitPrice - p.EntryPrice) * float64(p.Quantity)
	_, err := s.book.Settle(ctx, domain.Settlement{
		Position:  p,
		ExitPrice: v.ExitPrice,
		PnL:       pnl,
		Reason:    v.Reason,
		ClosedAt:  now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPositionClosed) {
			out.skipped++
			return out, nil
		}
		return out, err
	}
	out.closed++

	if v.Reason == domain.ExitReasonForced {
		if err := s.overrides.Clear(ctx, p.Ticker, p.Strategy); err != nil {
			s.logger.WarnContext(ctx, "clear override after forced exit",
				slog.String("ticker", p.Ticker),
				slog.String("error", err.Error()))
		}
	}

	s.publish(ctx, domain.Event{
		Type:     domain.EventPositionClosed,
		Ticker:   p.Ticker,
		Strategy: p.Strategy,
		Message:  fmt.Sprintf("closed %d @ %.2f: %s", p.Quantity, v.ExitPrice, v.Detail),
		Fields: map[string]any{
			"reason": string(v.Reason),
			"pnl":    fmt.Sprintf("%.2f", pnl),
		},
		CreatedAt: now,
	})
	return out, nil
}

func (s *MonitorService) applyHold(ctx context.Context, p *domain.Position, v risk.Verdict, in risk.TickInput, now time.Time) (tickOutcome, error) {
	var out tickOutcome
	out.held++

	if v.AutoHold {
		// Circuit breaker: park the position for the rest of the session so
		// a falling knife is reviewed, not re-evaluated every tick.
		if err := s.overrides.Set(ctx, domain.ManualOverride{
			Ticker:    p.Ticker,
			Strategy:  p.Strategy,
			Kind:      domain.OverrideHold,
			Source:    "circuit-breaker",
			CreatedAt: now,
			ExpiresAt: s.clock.EndOfDay(now),
		}); err != nil {
			return out, fmt.Errorf("monitor_service: auto-hold %s: %w", p.Key(), err)
		}
	}

	changed := p.Status != domain.PositionStatusHeld
	p.Status = domain.PositionStatusHeld
	if in.PriceFresh {
		p.CurrentPrice = in.Price
		p.PriceAsOf = in.PriceAsOf
	}
	if err := s.positions.Update(ctx, p); err != nil {
		return out, fmt.Errorf("monitor_service: hold %s: %w", p.Key(), err)
	}

	if v.DrawdownAlert && changed {
		s.publish(ctx, domain.Event{
			Type:      domain.EventDrawdownAlert,
			Ticker:    p.Ticker,
			Strategy:  p.Strategy,
			Message:   v.Detail + "; holding for the session",
			CreatedAt: now,
		})
	}
	return out, nil
}

func (s *MonitorService) applyContinue(ctx context.Context, p *domain.Position, v risk.Verdict, now time.Time) (tickOutcome, error) {
	var out tickOutcome

	// A held position whose override has lapsed goes back to open.
	if p.Status == domain.PositionStatusHeld {
		p.Status = domain.PositionStatusOpen
	}
	if err := s.positions.Update(ctx, p); err != nil {
		return out, fmt.Errorf("monitor_service: update %s: %w", p.Key(), err)
	}

	if v.ProfitLockActivated {
		out.profitLocked++
		s.publish(ctx, domain.Event{
			Type:     domain.EventProfitLockActivated,
			Ticker:   p.Ticker,
			Strategy: p.Strategy,
			Message: fmt.Sprintf("locked floor %.2f (+%.0f%% over entry)",
				p.LockedFloor, p.LockedFloorPct*100),
			CreatedAt: now,
		})
	}
	if v.StopUpdated {
		out.stopUpdated++
		s.publish(ctx, domain.Event{
			Type:     domain.EventStopUpdated,
			Ticker:   p.Ticker,
			Strategy: p.Strategy,
			Message:  fmt.Sprintf("stop raised to %.2f (%s)", p.StopLoss, p.Method),
			CreatedAt: now,
		})
	}
	return out, nil
}

func (s *MonitorService) publish(ctx context.Context, e domain.Event) {
	if s.bus != nil {
		if err := s.bus.Publish(ctx, e); err != nil {
			s.logger.WarnContext(ctx, "event publish failed", slog.String("error", err.Error()))
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyEvent(ctx, e); err != nil {
			s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}
