// Package ledger serializes all capital movement for the strategy pools.
// Cash is debited when a position opens and settled back on close; deployed
// capital is never stored, always derived from the open position set.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// driftTolerance absorbs float rounding across many settlements. Anything
// beyond a paisa is treated as real drift.
const driftTolerance = 0.01

// Ledger owns the capital accounts. Every mutation for a strategy runs under
// that strategy's mutex, so check-then-debit sequences cannot interleave.
type Ledger struct {
	capital     domain.CapitalStore
	positions   domain.PositionStore
	settlements domain.SettlementStore
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[domain.Strategy]*sync.Mutex
}

func New(capital domain.CapitalStore, positions domain.PositionStore, settlements domain.SettlementStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		capital:     capital,
		positions:   positions,
		settlements: settlements,
		logger:      logger.With(slog.String("component", "ledger")),
		locks:       make(map[domain.Strategy]*sync.Mutex),
	}
}

func (l *Ledger) strategyLock(s domain.Strategy) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[s]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[s] = lk
	}
	return lk
}

// Account returns the current capital account for a strategy.
func (l *Ledger) Account(ctx context.Context, strategy domain.Strategy) (*domain.CapitalAccount, error) {
	acct, err := l.capital.Get(ctx, strategy)
	if err != nil {
		return nil, fmt.Errorf("ledger: get account: %w", err)
	}
	return acct, nil
}

// Deployed derives the strategy's deployed capital from its open positions.
func (l *Ledger) Deployed(ctx context.Context, strategy domain.Strategy) (float64, error) {
	deployed, err := l.positions.DeployedCapital(ctx, strategy)
	if err != nil {
		return 0, fmt.Errorf("ledger: derive deployed: %w", err)
	}
	return deployed, nil
}

// Debit reserves cash for a new position. It fails with
// domain.ErrEntriesHalted when the strategy is halted and with
// domain.ErrInsufficientFunds when available cash cannot cover the amount.
func (l *Ledger) Debit(ctx context.Context, strategy domain.Strategy, amount float64) (*domain.CapitalAccount, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger: debit amount must be positive, got %.2f", amount)
	}

	lk := l.strategyLock(strategy)
	lk.Lock()
	defer lk.Unlock()

	acct, err := l.capital.Get(ctx, strategy)
	if err != nil {
		return nil, fmt.Errorf("ledger: debit: %w", err)
	}
	if acct.EntriesHalted {
		return nil, fmt.Errorf("ledger: debit %s: %w", strategy, domain.ErrEntriesHalted)
	}
	if acct.AvailableCash < amount {
		return nil, fmt.Errorf("ledger: debit %s %.2f (available %.2f): %w",
			strategy, amount, acct.AvailableCash, domain.ErrInsufficientFunds)
	}

	acct, err = l.capital.Debit(ctx, strategy, amount)
	if err != nil {
		return nil, fmt.Errorf("ledger: debit: %w", err)
	}

	l.logger.InfoContext(ctx, "capital debited",
		slog.String("strategy", string(strategy)),
		slog.Float64("amount", amount),
		slog.Float64("available", acct.AvailableCash))
	return acct, nil
}

// Refund returns a debit to the pool after the entry that reserved it could
// not be recorded.
func (l *Ledger) Refund(ctx context.Context, strategy domain.Strategy, amount float64) error {
	lk := l.strategyLock(strategy)
	lk.Lock()
	defer lk.Unlock()

	if _, err := l.capital.Credit(ctx, strategy, amount); err != nil {
		return fmt.Errorf("ledger: refund: %w", err)
	}
	l.logger.WarnContext(ctx, "debit refunded",
		slog.String("strategy", string(strategy)),
		slog.Float64("amount", amount))
	return nil
}

// Settle closes a position and credits its capital back atomically: the
// principal returns to available cash; gains land in locked profits and stay
// out of the deployable pool; losses reduce cash and accrue to realized
// losses. Exits are never blocked by a halted strategy.
func (l *Ledger) Settle(ctx context.Context, s domain.Settlement) (*domain.CapitalAccount, error) {
	lk := l.strategyLock(s.Position.Strategy)
	lk.Lock()
	defer lk.Unlock()

	acct, err := l.settlements.CloseAndSettle(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("ledger: settle %s: %w", s.Position.Ticker, err)
	}

	l.logger.InfoContext(ctx, "position settled",
		slog.String("strategy", string(s.Position.Strategy)),
		slog.String("ticker", s.Position.Ticker),
		slog.Float64("exit_price", s.ExitPrice),
		slog.Float64("pnl", s.PnL),
		slog.String("reason", string(s.Reason)),
		slog.Float64("available", acct.AvailableCash))
	return acct, nil
}

// VerifyInvariant checks cash conservation for a strategy:
//
//	available + deployed == initial - realized_losses
//
// (locked profits sit outside the deployable pool, so they do not appear on
// the left side). On drift beyond tolerance the strategy is flipped into
// entries-halted mode; exits remain allowed so the book can still be wound
// down. The returned error wraps domain.ErrLedgerDrift.
func (l *Ledger) VerifyInvariant(ctx context.Context, strategy domain.Strategy) error {
	lk := l.strategyLock(strategy)
	lk.Lock()
	defer lk.Unlock()

	acct, err := l.capital.Get(ctx, strategy)
	if err != nil {
		return fmt.Errorf("ledger: verify: %w", err)
	}
	deployed, err := l.positions.DeployedCapital(ctx, strategy)
	if err != nil {
		return fmt.Errorf("ledger: verify: %w", err)
	}

	got := acct.AvailableCash + deployed
	want := acct.InitialCapital - acct.RealizedLosses
	drift := got - want
	if math.Abs(drift) <= driftTolerance {
		return nil
	}

	l.logger.ErrorContext(ctx, "capital invariant violated, halting entries",
		slog.String("strategy", string(strategy)),
		slog.Float64("available", acct.AvailableCash),
		slog.Float64("deployed", deployed),
		slog.Float64("drift", drift))

	if err := l.capital.SetEntriesHalted(ctx, strategy, true); err != nil {
		return fmt.Errorf("ledger: halt entries after drift of %.2f: %w", drift, err)
	}
	return fmt.Errorf("ledger: %s drift %.2f (have %.2f, want %.2f): %w",
		strategy, drift, got, want, domain.ErrLedgerDrift)
}

// ResumeEntries clears the entries-halted flag after an operator has
// reconciled the books.
func (l *Ledger) ResumeEntries(ctx context.Context, strategy domain.Strategy) error {
	if err := l.capital.SetEntriesHalted(ctx, strategy, false); err != nil {
		return fmt.Errorf("ledger: resume entries: %w", err)
	}
	l.logger.InfoContext(ctx, "entries resumed", slog.String("strategy", string(strategy)))
	return nil
}

// BuildSnapshot assembles the end-of-day capital snapshot for a strategy.
func (l *Ledger) BuildSnapshot(ctx context.Context, strategy domain.Strategy, date time.Time) (*domain.Snapshot, error) {
	acct, err := l.capital.Get(ctx, strategy)
	if err != nil {
		return nil, fmt.Errorf("ledger: snapshot: %w", err)
	}
	open, err := l.positions.ListOpen(ctx, strategy)
	if err != nil {
		return nil, fmt.Errorf("ledger: snapshot: %w", err)
	}

	var deployed, unrealized float64
	for _, p := range open {
		deployed += p.Invested()
		unrealized += p.UnrealizedPnL()
	}

	return &domain.Snapshot{
		Strategy:        strategy,
		Date:            date,
		AvailableCash:   acct.AvailableCash,
		DeployedCapital: deployed,
		LockedProfits:   acct.LockedProfits,
		RealizedLosses:  acct.RealizedLosses,
		OpenPositions:   len(open),
		TotalEquity:     acct.TotalEquity(deployed),
		UnrealizedPnL:   unrealized,
		CreatedAt:       time.Now().UTC(),
	}, nil
}
