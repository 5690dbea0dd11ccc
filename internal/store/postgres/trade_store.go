package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. The trades table
// is append-only.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `id, position_id, ticker, strategy, action,
	price, quantity, pnl, reason, executed_at`

const tradeInsertQuery = `
	INSERT INTO trades (
		id, position_id, ticker, strategy, action,
		price, quantity, pnl, reason, executed_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10
	)`

func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var strategy, action, reason string
		if err := rows.Scan(
			&t.ID, &t.PositionID, &t.Ticker, &strategy, &action,
			&t.Price, &t.Quantity, &t.PnL, &reason, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		t.Strategy = domain.Strategy(strategy)
		t.Action = domain.TradeAction(action)
		t.Reason = domain.ExitReason(reason)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// Insert appends one trade to the log.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	_, err := s.pool.Exec(ctx, tradeInsertQuery,
		t.ID, t.PositionID, t.Ticker, string(t.Strategy), string(t.Action),
		t.Price, t.Quantity, t.PnL, string(t.Reason), t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByPosition returns the trades for one position, oldest first.
func (s *TradeStore) ListByPosition(ctx context.Context, positionID string) ([]*domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE position_id = $1 ORDER BY executed_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for position %s: %w", positionID, err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListClosedSince returns sell-side trades for a strategy since the given
// time, oldest first. The archiver exports these as daily JSONL.
func (s *TradeStore) ListClosedSince(ctx context.Context, strategy domain.Strategy, since time.Time) ([]*domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE strategy = $1 AND action = 'sell' AND executed_at >= $2
		 ORDER BY executed_at ASC`, string(strategy), since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}
