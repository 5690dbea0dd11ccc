package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alphadeck/stockpilot/internal/alloc"
	"github.com/alphadeck/stockpilot/internal/config"
	"github.com/alphadeck/stockpilot/internal/domain"
	"github.com/alphadeck/stockpilot/internal/ledger"
	"github.com/alphadeck/stockpilot/internal/notify"
	"github.com/alphadeck/stockpilot/internal/risk"
)

// EntryService plans and opens positions. Each strategy gets its own planner
// and evaluator built from that strategy's parameter block.
type EntryService struct {
	book      *ledger.Ledger
	positions domain.PositionStore
	trades    domain.TradeStore
	locks     domain.LockManager
	bus       domain.EventPublisher
	notifier  *notify.Notifier
	logger    *slog.Logger

	planners   map[domain.Strategy]*alloc.Planner
	evaluators map[domain.Strategy]*risk.ExitEvaluator
	lockTTL    time.Duration
	cooldowns  map[domain.Strategy]int
}

// NewEntryService creates an EntryService with all required dependencies.
func NewEntryService(
	book *ledger.Ledger,
	positions domain.PositionStore,
	trades domain.TradeStore,
	locks domain.LockManager,
	bus domain.EventPublisher,
	notifier *notify.Notifier,
	engineCfg config.EngineConfig,
	logger *slog.Logger,
) *EntryService {
	logger = logger.With(slog.String("component", "entry_service"))
	return &EntryService{
		book:      book,
		positions: positions,
		trades:    trades,
		locks:     locks,
		bus:       bus,
		notifier:  notifier,
		logger:    logger,
		planners: map[domain.Strategy]*alloc.Planner{
			domain.StrategyDaily: alloc.NewPlanner(engineCfg.Daily, engineCfg.Regime, logger),
			domain.StrategySwing: alloc.NewPlanner(engineCfg.Swing, engineCfg.Regime, logger),
		},
		evaluators: map[domain.Strategy]*risk.ExitEvaluator{
			domain.StrategyDaily: risk.NewExitEvaluator(engineCfg.Daily),
			domain.StrategySwing: risk.NewExitEvaluator(engineCfg.Swing),
		},
		lockTTL: engineCfg.LockTTL.Duration,
		cooldowns: map[domain.Strategy]int{
			domain.StrategyDaily: engineCfg.Daily.RecentLossCooldownDays,
			domain.StrategySwing: engineCfg.Swing.RecentLossCooldownDays,
		},
	}
}

// Plan sizes the candidate list against the strategy's free cash and the
// current book: open tickers are excluded, recently-lossed tickers sit out
// their cooldown, and the regime gates what remains.
func (s *EntryService) Plan(ctx context.Context, strategy domain.Strategy, candidates []domain.Candidate, regime domain.Regime) (alloc.Plan, error) {
	planner, ok := s.planners[strategy]
	if !ok {
		return alloc.Plan{}, fmt.Errorf("entry_service: plan: %w", domain.ErrUnknownStrategy)
	}

	acct, err := s.book.Account(ctx, strategy)
	if err != nil {
		return alloc.Plan{}, fmt.Errorf("entry_service: plan: %w", err)
	}
	if acct.EntriesHalted {
		return alloc.Plan{}, fmt.Errorf("entry_service: plan %s: %w", strategy, domain.ErrEntriesHalted)
	}

	open, err := s.positions.ListOpen(ctx, strategy)
	if err != nil {
		return alloc.Plan{}, fmt.Errorf("entry_service: plan: %w", err)
	}
	openTickers := make(map[string]bool, len(open))
	for _, p := range open {
		openTickers[p.Ticker] = true
	}

	cooldown := time.Now().AddDate(0, 0, -s.cooldowns[strategy])
	losers, err := s.positions.RecentLossTickers(ctx, strategy, cooldown)
	if err != nil {
		return alloc.Plan{}, fmt.Errorf("entry_service: plan: %w", err)
	}
	recentLosers := make(map[string]bool, len(losers))
	for _, t := range losers {
		recentLosers[t] = true
	}

	return planner.Build(alloc.PlanInput{
		Strategy:      strategy,
		Candidates:    candidates,
		AvailableCash: acct.AvailableCash,
		OpenTickers:   openTickers,
		RecentLosers:  recentLosers,
		OpenCount:     len(open),
		Regime:        regime,
	}), nil
}

// Open executes one allocation: debit first, then record the position and
// its entry fill. A failed insert refunds the debit. The per-pair lock
// excludes the monitor path while the entry lands.
func (s *EntryService) Open(ctx context.Context, strategy domain.Strategy, a domain.Allocation) (*domain.Position, error) {
	evaluator, ok := s.evaluators[strategy]
	if !ok {
		return nil, fmt.Errorf("entry_service: open: %w", domain.ErrUnknownStrategy)
	}

	key := a.Candidate.Ticker + ":" + string(strategy)
	unlock, err := s.locks.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("entry_service: open %s: %w", key, err)
	}
	defer unlock()

	if _, err := s.positions.GetOpen(ctx, a.Candidate.Ticker, strategy); err == nil {
		return nil, fmt.Errorf("entry_service: open %s: %w", key, domain.ErrDuplicatePosition)
	} else if err != domain.ErrNotFound {
		return nil, fmt.Errorf("entry_service: open %s: %w", key, err)
	}

	cost := a.Candidate.Price * float64(a.Quantity)
	if _, err := s.book.Debit(ctx, strategy, cost); err != nil {
		return nil, fmt.Errorf("entry_service: open %s: %w", key, err)
	}

	now := time.Now().UTC()
	p := &domain.Position{
		ID:           uuid.NewString(),
		Ticker:       a.Candidate.Ticker,
		Strategy:     strategy,
		Category:     a.Candidate.Category,
		EntryPrice:   a.Candidate.Price,
		Quantity:     a.Quantity,
		EntryDate:    now,
		CurrentPrice: a.Candidate.Price,
		HighestPrice: a.Candidate.Price,
		PriceAsOf:    now,
		Status:       domain.PositionStatusOpen,
		OpenedAt:     now,
	}
	stops := evaluator.InitialProtection(p, a.Candidate.ATR, a.Candidate.RecentLow)

	if err := s.positions.Create(ctx, p); err != nil {
		if refundErr := s.book.Refund(ctx, strategy, cost); refundErr != nil {
			s.logger.ErrorContext(ctx, "refund after failed insert",
				slog.String("ticker", p.Ticker),
				slog.String("error", refundErr.Error()))
		}
		return nil, fmt.Errorf("entry_service: open %s: %w", key, err)
	}

	trade := &domain.Trade{
		ID:         uuid.NewString(),
		PositionID: p.ID,
		Ticker:     p.Ticker,
		Strategy:   strategy,
		Action:     domain.TradeActionBuy,
		Price:      p.EntryPrice,
		Quantity:   p.Quantity,
		ExecutedAt: now,
	}
	if err := s.trades.Insert(ctx, trade); err != nil {
		// Position and debit are committed; the missing buy row is a log
		// gap, not an inconsistency in the book.
		s.logger.ErrorContext(ctx, "entry trade log failed",
			slog.String("ticker", p.Ticker),
			slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "position opened",
		slog.String("strategy", string(strategy)),
		slog.String("ticker", p.Ticker),
		slog.String("tier", string(a.Tier)),
		slog.Float64("entry", p.EntryPrice),
		slog.Int64("quantity", p.Quantity),
		slog.Float64("stop", p.StopLoss),
		slog.String("method", string(p.Method)))

	s.publish(ctx, domain.Event{
		Type:     domain.EventPositionOpened,
		Ticker:   p.Ticker,
		Strategy: strategy,
		Message: fmt.Sprintf("entered %d @ %.2f (tier %s)",
			p.Quantity, p.EntryPrice, a.Tier),
		Fields: map[string]any{
			"stop":   fmt.Sprintf("%.2f (%s)", p.StopLoss, stops.Method),
			"target": fmt.Sprintf("%.2f", p.TakeProfit),
			"cost":   fmt.Sprintf("%.2f", cost),
		},
		CreatedAt: now,
	})

	return p, nil
}

// OpenAll executes a plan sequentially, accumulating per-allocation failures
// without aborting the rest.
func (s *EntryService) OpenAll(ctx context.Context, strategy domain.Strategy, plan alloc.Plan) ([]*domain.Position, []error) {
	var opened []*domain.Position
	var errs []error
	for _, a := range plan.Allocations {
		p, err := s.Open(ctx, strategy, a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		opened = append(opened, p)
	}
	return opened, errs
}

func (s *EntryService) publish(ctx context.Context, e domain.Event) {
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
