package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphadeck/stockpilot/internal/config"
	"github.com/alphadeck/stockpilot/internal/domain"
	"github.com/alphadeck/stockpilot/internal/ledger"
)

// ---------------------------------------------------------------------------
// In-memory fakes. They mirror the store-level semantics the services rely
// on: idempotent settlement, one open position per (ticker, strategy), and
// TTL-free overrides.
// ---------------------------------------------------------------------------

type memStores struct {
	mu        sync.Mutex
	accounts  map[domain.Strategy]*domain.CapitalAccount
	positions map[string]*domain.Position
	trades    []*domain.Trade
	settled   int
}

func newMemStores() *memStores {
	return &memStores{
		accounts:  make(map[domain.Strategy]*domain.CapitalAccount),
		positions: make(map[string]*domain.Position),
	}
}

func (m *memStores) seed(strategy domain.Strategy, cash float64) {
	m.accounts[strategy] = &domain.CapitalAccount{
		Strategy: strategy, InitialCapital: cash, AvailableCash: cash,
	}
}

func (m *memStores) Get(_ context.Context, strategy domain.Strategy) (*domain.CapitalAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[strategy]
	if !ok {
		return nil, domain.ErrUnknownStrategy
	}
	cp := *acct
	return &cp, nil
}

func (m *memStores) Debit(_ context.Context, strategy domain.Strategy, amount float64) (*domain.CapitalAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.accounts[strategy]
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

func (m *memStores) Credit(_ context.Context, strategy domain.Strategy, amount float64) (*domain.CapitalAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.accounts[strategy]
	acct.AvailableCash += amount
	cp := *acct
	return &cp, nil
}

func (m *memStores) SetEntriesHalted(_ context.Context, strategy domain.Strategy, halted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[strategy].EntriesHalted = halted
	return nil
}

func (m *memStores) CloseAndSettle(_ context.Context, s domain.Settlement) (*domain.CapitalAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[s.Position.ID]
	if !ok || p.Status == domain.PositionStatusClosed {
		return nil, domain.ErrPositionClosed
	}
	p.Status = domain.PositionStatusClosed
	closedAt := s.ClosedAt
	p.ClosedAt = &closedAt

	acct := m.accounts[s.Position.Strategy]
	acct.AvailableCash += s.Position.Invested()
	if s.PnL >= 0 {
		acct.LockedProfits += s.PnL
	} else {
		acct.AvailableCash += s.PnL
		acct.RealizedLosses += -s.PnL
	}
	m.settled++
	cp := *acct
	return &cp, nil
}

func (m *memStores) Create(_ context.Context, p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.positions {
		if q.Ticker == p.Ticker && q.Strategy == p.Strategy && q.Status != domain.PositionStatusClosed {
			return domain.ErrDuplicatePosition
		}
	}
	m.positions[p.ID] = p
	return nil
}

func (m *memStores) GetPosition(_ context.Context, id string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (m *memStores) GetOpen(_ context.Context, ticker string, strategy domain.Strategy) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.Ticker == ticker && p.Strategy == strategy && p.Status != domain.PositionStatusClosed {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStores) ListOpen(_ context.Context, strategy domain.Strategy) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Position
	for _, p := range m.positions {
		if p.Strategy == strategy && p.Status != domain.PositionStatusClosed {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStores) Update(_ context.Context, p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p
	return nil
}

func (m *memStores) DeployedCapital(_ context.Context, strategy domain.Strategy) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, p := range m.positions {
		if p.Strategy == strategy && p.Status != domain.PositionStatusClosed {
			sum += p.Invested()
		}
	}
	return sum, nil
}

func (m *memStores) RecentLossTickers(context.Context, domain.Strategy, time.Time) ([]string, error) {
	return nil, nil
}

// positionStoreAdapter renames GetPosition back to the interface's Get.
type positionStoreAdapter struct{ *memStores }

func (a positionStoreAdapter) Get(ctx context.Context, id string) (*domain.Position, error) {
	return a.GetPosition(ctx, id)
}

type memPriceCache struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{quotes: make(map[string]domain.Quote)}
}

func (c *memPriceCache) SetQuote(_ context.Context, q domain.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.Ticker] = q
	return nil
}

func (c *memPriceCache) GetQuote(_ context.Context, ticker string) (domain.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quotes[ticker], nil
}

func (c *memPriceCache) GetQuotes(_ context.Context, tickers []string) (map[string]domain.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.Quote, len(tickers))
	for _, t := range tickers {
		if q, ok := c.quotes[t]; ok {
			out[t] = q
		}
	}
	return out, nil
}

type memOverrideCache struct {
	mu        sync.Mutex
	overrides map[string]domain.ManualOverride
}

func newMemOverrideCache() *memOverrideCache {
	return &memOverrideCache{overrides: make(map[string]domain.ManualOverride)}
}

func (c *memOverrideCache) Set(_ context.Context, o domain.ManualOverride) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[o.Ticker+":"+string(o.Strategy)] = o
	return nil
}

func (c *memOverrideCache) Get(_ context.Context, ticker string, strategy domain.Strategy) (*domain.ManualOverride, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.overrides[ticker+":"+string(strategy)]
	if !ok {
		return nil, nil
	}
	cp := o
	return &cp, nil
}

func (c *memOverrideCache) Clear(_ context.Context, ticker string, strategy domain.Strategy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.overrides, ticker+":"+string(strategy))
	return nil
}

type memLockManager struct {
	mu    sync.Mutex
	locks map[string]bool
}

func newMemLockManager() *memLockManager {
	return &memLockManager{locks: make(map[string]bool)}
}

func (l *memLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] {
		return nil, domain.ErrLockHeld
	}
	l.locks[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.locks, key)
	}, nil
}

type memBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *memBus) Publish(_ context.Context, e domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *memBus) byType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------

type monitorFixture struct {
	stores    *memStores
	prices    *memPriceCache
	overrides *memOverrideCache
	locks     *memLockManager
	bus       *memBus
	book      *ledger.Ledger
	monitor   *MonitorService
	clock     *TradingClock
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()

	stores := newMemStores()
	stores.seed(domain.StrategySwing, 500_000)
	stores.seed(domain.StrategyDaily, 300_000)

	prices := newMemPriceCache()
	overrides := newMemOverrideCache()
	locks := newMemLockManager()
	bus := &memBus{}

	logger := slog.Default()
	positions := positionStoreAdapter{stores}
	book := ledger.New(stores, positions, stores, logger)

	clock, err := NewTradingClock("Asia/Kolkata", "15:30")
	require.NoError(t, err)

	monitor := NewMonitorService(
		book, positions, prices, overrides, locks,
		nil, bus, nil, clock, config.Defaults().Engine, logger,
	)

	return &monitorFixture{
		stores: stores, prices: prices, overrides: overrides,
		locks: locks, bus: bus, book: book, monitor: monitor, clock: clock,
	}
}

func (f *monitorFixture) open(t *testing.T, ticker string, entry float64, qty int64, daysAgo int) *domain.Position {
	t.Helper()
	ctx := context.Background()

	cost := entry * float64(qty)
	_, err := f.book.Debit(ctx, domain.StrategySwing, cost)
	require.NoError(t, err)

	now := time.Now()
	p := &domain.Position{
		ID:           ticker + "-pos",
		Ticker:       ticker,
		Strategy:     domain.StrategySwing,
		Category:     domain.CategoryLargeCap,
		EntryPrice:   entry,
		Quantity:     qty,
		EntryDate:    now.AddDate(0, 0, -daysAgo),
		CurrentPrice: entry,
		HighestPrice: entry,
		PriceAsOf:    now,
		StopLoss:     entry * 0.96,
		TakeProfit:   entry * 1.12,
		Method:       domain.MethodFixed,
		Status:       domain.PositionStatusOpen,
		OpenedAt:     now,
	}
	require.NoError(t, f.stores.Create(ctx, p))
	return p
}

func (f *monitorFixture) quote(ticker string, price float64) {
	_ = f.prices.SetQuote(context.Background(), domain.Quote{
		Ticker: ticker, Price: price, AsOf: time.Now(),
	})
}

func TestTickClosesStoppedPosition(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	p := f.open(t, "RELIANCE", 100, 100, 2)
	p.StopLoss = 98 // ratcheted above the drawdown band
	require.NoError(t, f.stores.Update(ctx, p))
	f.quote("RELIANCE", 97.5)

	report, err := f.monitor.Tick(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 1, report.Closed)
	assert.Empty(t, report.Errors)

	// Settled at a loss: principal minus the loss back to cash.
	acct, err := f.stores.Get(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.InDelta(t, 499_750, acct.AvailableCash, 1e-6)
	assert.InDelta(t, 250, acct.RealizedLosses, 1e-6)

	closed := f.bus.byType(domain.EventPositionClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "RELIANCE", closed[0].Ticker)

	// A second tick over the same book is a no-op.
	report, err = f.monitor.Tick(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.Zero(t, report.Evaluated)
}

func TestTickDrawdownParksPosition(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	p := f.open(t, "TCS", 100, 100, 2)
	p.StopLoss = 90 // keep the layered stop out of the way
	require.NoError(t, f.stores.Update(ctx, p))
	f.quote("TCS", 96.5) // -3.5%, alert band

	report, err := f.monitor.Tick(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Held)
	assert.Zero(t, report.Closed)

	got, err := f.stores.GetOpen(ctx, "TCS", domain.StrategySwing)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusHeld, got.Status)

	// The breaker left a same-day hold override behind.
	o, err := f.overrides.Get(ctx, "TCS", domain.StrategySwing)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, domain.OverrideHold, o.Kind)
	assert.Equal(t, "circuit-breaker", o.Source)

	require.Len(t, f.bus.byType(domain.EventDrawdownAlert), 1)

	// Same tick again: still held, but no duplicate alert.
	_, err = f.monitor.Tick(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.Len(t, f.bus.byType(domain.EventDrawdownAlert), 1)
}

func TestTickForceExitClosesAndClearsOverride(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	f.open(t, "INFY", 100, 50, 2)
	f.quote("INFY", 103)
	require.NoError(t, f.overrides.Set(ctx, domain.ManualOverride{
		Ticker: "INFY", Strategy: domain.StrategySwing,
		Kind: domain.OverrideForceExit, Source: "api",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	report, err := f.monitor.Tick(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)

	o, err := f.overrides.Get(ctx, "INFY", domain.StrategySwing)
	require.NoError(t, err)
	assert.Nil(t, o, "override cleared after the forced exit")

	acct, err := f.stores.Get(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.InDelta(t, 500_000, acct.AvailableCash, 1e-6)
	assert.InDelta(t, 150, acct.LockedProfits, 1e-6)
}

func TestTickHeldPositionRecoversWhenOverrideLapses(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	p := f.open(t, "HDFC", 100, 50, 2)
	p.Status = domain.PositionStatusHeld
	require.NoError(t, f.stores.Update(ctx, p))
	f.quote("HDFC", 101)

	// No override in the cache: the hold has lapsed.
	report, err := f.monitor.Tick(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.Zero(t, report.Held)

	got, err := f.stores.GetOpen(ctx, "HDFC", domain.StrategySwing)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
}

func TestTickSkipsLockedPosition(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	p := f.open(t, "SBIN", 100, 50, 2)
	f.quote("SBIN", 95) // would close, but the pair is locked

	unlock, err := f.locks.Acquire(ctx, p.Key(), time.Minute)
	require.NoError(t, err)
	defer unlock()

	report, err := f.monitor.Tick(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Closed)
}

func TestTickMaxHoldOnStaleQuote(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	p := f.open(t, "WIPRO", 100, 50, 12) // past the 10-day horizon
	p.CurrentPrice = 102
	require.NoError(t, f.stores.Update(ctx, p))
	// No quote in the cache at all.

	report, err := f.monitor.Tick(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)

	// Exit priced at the last observed quote.
	acct, err := f.stores.Get(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.InDelta(t, 500_000, acct.AvailableCash, 1e-6)
	assert.InDelta(t, 100, acct.LockedProfits, 1e-6)
}

func TestTickTwiceWithUnchangedPriceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	f.open(t, "LT", 100, 50, 9)
	f.quote("LT", 106)

	// First pass ratchets: highest price, profit lock, trailing stop/target.
	report, err := f.monitor.Tick(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ProfitLocks)
	assert.Equal(t, 1, report.StopsUpdated)

	first, err := f.stores.GetOpen(ctx, "LT", domain.StrategySwing)
	require.NoError(t, err)
	snapshot := *first
	events := len(f.bus.events)

	// Second pass over the same quote must change nothing and stay silent.
	report, err = f.monitor.Tick(ctx, domain.StrategySwing)
	require.NoError(t, err)
	assert.Zero(t, report.Closed)
	assert.Zero(t, report.ProfitLocks)
	assert.Zero(t, report.StopsUpdated)

	second, err := f.stores.GetOpen(ctx, "LT", domain.StrategySwing)
	require.NoError(t, err)
	assert.Equal(t, snapshot.StopLoss, second.StopLoss)
	assert.Equal(t, snapshot.TakeProfit, second.TakeProfit)
	assert.Equal(t, snapshot.HighestPrice, second.HighestPrice)
	assert.Equal(t, snapshot.LockedFloor, second.LockedFloor)
	assert.Equal(t, snapshot.Status, second.Status)
	assert.Len(t, f.bus.events, events)
}

func TestTickUnknownStrategy(t *testing.T) {
	f := newMonitorFixture(t)
	_, err := f.monitor.Tick(context.Background(), domain.Strategy("scalp"))
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)
}
