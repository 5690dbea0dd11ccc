package ledger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// fakeCapitalStore is an in-memory CapitalStore + SettlementStore that mirrors
// the SQL semantics: settle credits principal back to cash, routes gains to
// locked profits and losses to realized losses, and flips the position row.
type fakeCapitalStore struct {
	accounts  map[domain.Strategy]*domain.CapitalAccount
	positions *fakePositionStore
	settled   []domain.Settlement
}

func newFakeCapitalStore(positions *fakePositionStore) *fakeCapitalStore {
	return &fakeCapitalStore{
		accounts:  make(map[domain.Strategy]*domain.CapitalAccount),
		positions: positions,
	}
}

func (f *fakeCapitalStore) seed(strategy domain.Strategy, initial float64) {
	f.accounts[strategy] = &domain.CapitalAccount{
		Strategy:       strategy,
		InitialCapital: initial,
		AvailableCash:  initial,
	}
}

func (f *fakeCapitalStore) Get(_ context.Context, strategy domain.Strategy) (*domain.CapitalAccount, error) {
	acct, ok := f.accounts[strategy]
	if !ok {
		return nil, domain.ErrUnknownStrategy
	}
	cp := *acct
	return &cp, nil
}

func (f *fakeCapitalStore) Debit(_ context.Context, strategy domain.Strategy, amount float64) (*domain.CapitalAccount, error) {
	acct := f.accounts[strategy]
	if acct.EntriesHalted {
		return nil, domain.ErrEntriesHalted
	}
	if acct.AvailableCash < amount {
		return nil, domain.ErrInsufficientFunds
	}
	acct.AvailableCash -= amount
	cp := *acct
	return &cp, nil
}

func (f *fakeCapitalStore) Credit(_ context.Context, strategy domain.Strategy, amount float64) (*domain.CapitalAccount, error) {
	acct := f.accounts[strategy]
	acct.AvailableCash += amount
	cp := *acct
	return &cp, nil
}

func (f *fakeCapitalStore) SetEntriesHalted(_ context.Context, strategy domain.Strategy, halted bool) error {
	f.accounts[strategy].EntriesHalted = halted
	return nil
}

func (f *fakeCapitalStore) CloseAndSettle(_ context.Context, s domain.Settlement) (*domain.CapitalAccount, error) {
	p := f.positions.byID[s.Position.ID]
	if p == nil || p.Status == domain.PositionStatusClosed {
		return nil, domain.ErrPositionClosed
	}
	p.Status = domain.PositionStatusClosed
	closedAt := s.ClosedAt
	p.ClosedAt = &closedAt

	acct := f.accounts[s.Position.Strategy]
	acct.AvailableCash += s.Position.Invested()
	if s.PnL >= 0 {
		acct.LockedProfits += s.PnL
	} else {
		acct.AvailableCash += s.PnL
		acct.RealizedLosses += -s.PnL
	}
	f.settled = append(f.settled, s)
	cp := *acct
	return &cp, nil
}

type fakePositionStore struct {
	byID map[string]*domain.Position
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{byID: make(map[string]*domain.Position)}
}

func (f *fakePositionStore) add(p *domain.Position) { f.byID[p.ID] = p }

func (f *fakePositionStore) Create(_ context.Context, p *domain.Position) error {
	f.byID[p.ID] = p
	return nil
}

func (f *fakePositionStore) Get(_ context.Context, id string) (*domain.Position, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePositionStore) GetOpen(_ context.Context, ticker string, strategy domain.Strategy) (*domain.Position, error) {
	for _, p := range f.byID {
		if p.Ticker == ticker && p.Strategy == strategy && p.Status != domain.PositionStatusClosed {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakePositionStore) ListOpen(_ context.Context, strategy domain.Strategy) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, p := range f.byID {
		if p.Strategy == strategy && p.Status != domain.PositionStatusClosed {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePositionStore) Update(_ context.Context, p *domain.Position) error {
	f.byID[p.ID] = p
	return nil
}

func (f *fakePositionStore) DeployedCapital(_ context.Context, strategy domain.Strategy) (float64, error) {
	var sum float64
	for _, p := range f.byID {
		if p.Strategy == strategy && p.Status != domain.PositionStatusClosed {
			sum += p.Invested()
		}
	}
	return sum, nil
}

func (f *fakePositionStore) RecentLossTickers(context.Context, domain.Strategy, time.Time) ([]string, error) {
	return nil, nil
}

func newTestLedger(t *testing.T) (*Ledger, *fakeCapitalStore, *fakePositionStore) {
	t.Helper()
	positions := newFakePositionStore()
	capital := newFakeCapitalStore(positions)
	capital.seed(domain.StrategySwing, 500_000)
	return New(capital, positions, capital, slog.Default()), capital, positions
}

func TestDebitAndSettleConserveCapital(t *testing.T) {
	ctx := context.Background()
	book, _, positions := newTestLedger(t)

	p := &domain.Position{
		ID: "p1", Ticker: "RELIANCE", Strategy: domain.StrategySwing,
		EntryPrice: 100, Quantity: 500, Status: domain.PositionStatusOpen,
	}
	positions.add(p)

	acct, err := book.Debit(ctx, domain.StrategySwing, p.Invested())
	require.NoError(t, err)
	assert.InDelta(t, 450_000, acct.AvailableCash, 1e-9)

	// Cash + deployed still equals initial while the position is open.
	require.NoError(t, book.VerifyInvariant(ctx, domain.StrategySwing))

	// Close at a gain: principal returns to cash, the gain is locked away.
	acct, err = book.Settle(ctx, domain.Settlement{
		Position: p, ExitPrice: 110, PnL: 5_000,
		Reason: domain.ExitReasonTakeProfit, ClosedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.InDelta(t, 500_000, acct.AvailableCash, 1e-9)
	assert.InDelta(t, 5_000, acct.LockedProfits, 1e-9)
	assert.InDelta(t, 0, acct.RealizedLosses, 1e-9)

	require.NoError(t, book.VerifyInvariant(ctx, domain.StrategySwing))
}

func TestSettleLossReducesCash(t *testing.T) {
	ctx := context.Background()
	book, _, positions := newTestLedger(t)

	p := &domain.Position{
		ID: "p1", Ticker: "RELIANCE", Strategy: domain.StrategySwing,
		EntryPrice: 100, Quantity: 500, Status: domain.PositionStatusOpen,
	}
	positions.add(p)

	_, err := book.Debit(ctx, domain.StrategySwing, p.Invested())
	require.NoError(t, err)

	acct, err := book.Settle(ctx, domain.Settlement{
		Position: p, ExitPrice: 96, PnL: -2_000,
		Reason: domain.ExitReasonStopLoss, ClosedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.InDelta(t, 498_000, acct.AvailableCash, 1e-9)
	assert.InDelta(t, 2_000, acct.RealizedLosses, 1e-9)

	// available + deployed == initial - realized_losses still holds.
	require.NoError(t, book.VerifyInvariant(ctx, domain.StrategySwing))
}

func TestSettleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	book, _, positions := newTestLedger(t)

	p := &domain.Position{
		ID: "p1", Ticker: "RELIANCE", Strategy: domain.StrategySwing,
		EntryPrice: 100, Quantity: 100, Status: domain.PositionStatusOpen,
	}
	positions.add(p)
	_, err := book.Debit(ctx, domain.StrategySwing, p.Invested())
	require.NoError(t, err)

	s := domain.Settlement{Position: p, ExitPrice: 105, PnL: 500, Reason: domain.ExitReasonTakeProfit, ClosedAt: time.Now()}
	_, err = book.Settle(ctx, s)
	require.NoError(t, err)

	_, err = book.Settle(ctx, s)
	assert.ErrorIs(t, err, domain.ErrPositionClosed)
}

func TestDebitRejections(t *testing.T) {
	ctx := context.Background()
	book, capital, _ := newTestLedger(t)

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := book.Debit(ctx, domain.StrategySwing, 0)
		assert.Error(t, err)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := book.Debit(ctx, domain.StrategySwing, 600_000)
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	})

	t.Run("entries halted", func(t *testing.T) {
		require.NoError(t, capital.SetEntriesHalted(ctx, domain.StrategySwing, true))
		_, err := book.Debit(ctx, domain.StrategySwing, 1_000)
		assert.ErrorIs(t, err, domain.ErrEntriesHalted)

		// Exits stay possible while entries are halted; only resume lifts it.
		require.NoError(t, book.ResumeEntries(ctx, domain.StrategySwing))
		_, err = book.Debit(ctx, domain.StrategySwing, 1_000)
		assert.NoError(t, err)
	})
}

func TestRefundRestoresCash(t *testing.T) {
	ctx := context.Background()
	book, capital, _ := newTestLedger(t)

	_, err := book.Debit(ctx, domain.StrategySwing, 50_000)
	require.NoError(t, err)
	require.NoError(t, book.Refund(ctx, domain.StrategySwing, 50_000))

	acct, err := capital.Get(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.InDelta(t, 500_000, acct.AvailableCash, 1e-9)
}

func TestDriftHaltsEntries(t *testing.T) {
	ctx := context.Background()
	book, capital, positions := newTestLedger(t)

	// A position that never went through Debit: deployed exceeds the cash
	// that ever left the account.
	positions.add(&domain.Position{
		ID: "ghost", Ticker: "GHOST", Strategy: domain.StrategySwing,
		EntryPrice: 100, Quantity: 100, Status: domain.PositionStatusOpen,
	})

	err := book.VerifyInvariant(ctx, domain.StrategySwing)
	require.ErrorIs(t, err, domain.ErrLedgerDrift)

	acct, err := capital.Get(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.True(t, acct.EntriesHalted)

	_, err = book.Debit(ctx, domain.StrategySwing, 1_000)
	assert.ErrorIs(t, err, domain.ErrEntriesHalted)
}

func TestBuildSnapshot(t *testing.T) {
	ctx := context.Background()
	book, _, positions := newTestLedger(t)

	p := &domain.Position{
		ID: "p1", Ticker: "RELIANCE", Strategy: domain.StrategySwing,
		EntryPrice: 100, Quantity: 500, CurrentPrice: 104,
		Status: domain.PositionStatusOpen,
	}
	positions.add(p)
	_, err := book.Debit(ctx, domain.StrategySwing, p.Invested())
	require.NoError(t, err)

	snap, err := book.BuildSnapshot(ctx, domain.StrategySwing, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 450_000, snap.AvailableCash, 1e-9)
	assert.InDelta(t, 50_000, snap.DeployedCapital, 1e-9)
	assert.InDelta(t, 500_000, snap.TotalEquity, 1e-9)
	assert.InDelta(t, 2_000, snap.UnrealizedPnL, 1e-9)
	assert.Equal(t, 1, snap.OpenPositions)
}
