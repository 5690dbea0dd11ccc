package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. A partial
// unique index enforces one open position per (ticker, strategy).
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, ticker, strategy, category,
	entry_price, quantity, entry_date,
	current_price, highest_price, price_as_of,
	stop_loss, take_profit, method,
	profit_lock_active, locked_floor, locked_floor_pct,
	status, opened_at, closed_at`

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var strategy, category, method, status string

	err := row.Scan(
		&p.ID, &p.Ticker, &strategy, &category,
		&p.EntryPrice, &p.Quantity, &p.EntryDate,
		&p.CurrentPrice, &p.HighestPrice, &p.PriceAsOf,
		&p.StopLoss, &p.TakeProfit, &method,
		&p.ProfitLockActive, &p.LockedFloor, &p.LockedFloorPct,
		&status, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Strategy = domain.Strategy(strategy)
	p.Category = domain.Category(category)
	p.Method = domain.ProtectionMethod(method)
	p.Status = domain.PositionStatus(status)
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position. A second open position for the same
// (ticker, strategy) pair trips the partial unique index and is surfaced as
// domain.ErrDuplicatePosition.
func (s *PositionStore) Create(ctx context.Context, p *domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, ticker, strategy, category,
			entry_price, quantity, entry_date,
			current_price, highest_price, price_as_of,
			stop_loss, take_profit, method,
			profit_lock_active, locked_floor, locked_floor_pct,
			status, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Ticker, string(p.Strategy), string(p.Category),
		p.EntryPrice, p.Quantity, p.EntryDate,
		p.CurrentPrice, p.HighestPrice, p.PriceAsOf,
		p.StopLoss, p.TakeProfit, string(p.Method),
		p.ProfitLockActive, p.LockedFloor, p.LockedFloorPct,
		string(p.Status), p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create position %s/%s: %w",
				p.Ticker, p.Strategy, domain.ErrDuplicatePosition)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Get retrieves a single position by its ID.
func (s *PositionStore) Get(ctx context.Context, id string) (*domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpen returns the live position for a (ticker, strategy) pair. Held
// positions count as live; only closed ones do not.
func (s *PositionStore) GetOpen(ctx context.Context, ticker string, strategy domain.Strategy) (*domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE ticker = $1 AND strategy = $2 AND status <> 'closed'`,
		ticker, string(strategy))

	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get open position %s/%s: %w", ticker, strategy, err)
	}
	return p, nil
}

// ListOpen returns all live positions for the given strategy.
func (s *PositionStore) ListOpen(ctx context.Context, strategy domain.Strategy) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE strategy = $1 AND status <> 'closed'
		 ORDER BY opened_at ASC`, string(strategy))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	const query = `
		UPDATE positions SET
			current_price      = $2,
			highest_price      = $3,
			price_as_of        = $4,
			stop_loss          = $5,
			take_profit        = $6,
			method             = $7,
			profit_lock_active = $8,
			locked_floor       = $9,
			locked_floor_pct   = $10,
			status             = $11,
			closed_at          = $12,
			updated_at         = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.CurrentPrice, p.HighestPrice, p.PriceAsOf,
		p.StopLoss, p.TakeProfit, string(p.Method),
		p.ProfitLockActive, p.LockedFloor, p.LockedFloorPct,
		string(p.Status), p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeployedCapital derives the strategy's deployed capital by summing
// entry_price * quantity over its live positions.
func (s *PositionStore) DeployedCapital(ctx context.Context, strategy domain.Strategy) (float64, error) {
	var deployed float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(entry_price * quantity), 0) FROM positions
		 WHERE strategy = $1 AND status <> 'closed'`,
		string(strategy)).Scan(&deployed)
	if err != nil {
		return 0, fmt.Errorf("postgres: deployed capital: %w", err)
	}
	return deployed, nil
}

// RecentLossTickers returns tickers whose position for this strategy closed
// at a loss since the given time. Entry paths use this as a cooldown list.
func (s *PositionStore) RecentLossTickers(ctx context.Context, strategy domain.Strategy, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT p.ticker FROM positions p
		 JOIN trades t ON t.position_id = p.id AND t.action = 'sell'
		 WHERE p.strategy = $1 AND p.status = 'closed'
		   AND p.closed_at >= $2 AND t.pnl < 0`,
		string(strategy), since)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent loss tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("postgres: scan recent loss ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}
