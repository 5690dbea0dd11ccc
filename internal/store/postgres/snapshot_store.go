package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. One row
// per (strategy, date); re-running the end-of-day job overwrites the row.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// Upsert writes (or rewrites) the snapshot for its (strategy, date).
func (s *SnapshotStore) Upsert(ctx context.Context, snap *domain.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_snapshots (
			strategy, snapshot_date, available_cash, deployed_capital,
			locked_profits, realized_losses, open_positions,
			total_equity, unrealized_pnl, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (strategy, snapshot_date) DO UPDATE SET
			available_cash   = EXCLUDED.available_cash,
			deployed_capital = EXCLUDED.deployed_capital,
			locked_profits   = EXCLUDED.locked_profits,
			realized_losses  = EXCLUDED.realized_losses,
			open_positions   = EXCLUDED.open_positions,
			total_equity     = EXCLUDED.total_equity,
			unrealized_pnl   = EXCLUDED.unrealized_pnl,
			created_at       = EXCLUDED.created_at`,
		string(snap.Strategy), snap.Date, snap.AvailableCash, snap.DeployedCapital,
		snap.LockedProfits, snap.RealizedLosses, snap.OpenPositions,
		snap.TotalEquity, snap.UnrealizedPnL, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert snapshot %s/%s: %w",
			snap.Strategy, snap.Date.Format("2006-01-02"), err)
	}
	return nil
}

// Get returns the snapshot for a strategy on a given date.
func (s *SnapshotStore) Get(ctx context.Context, strategy domain.Strategy, date time.Time) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	var strat string
	err := s.pool.QueryRow(ctx, `
		SELECT strategy, snapshot_date, available_cash, deployed_capital,
		       locked_profits, realized_losses, open_positions,
		       total_equity, unrealized_pnl, created_at
		FROM daily_snapshots
		WHERE strategy = $1 AND snapshot_date = $2`,
		string(strategy), date).Scan(
		&strat, &snap.Date, &snap.AvailableCash, &snap.DeployedCapital,
		&snap.LockedProfits, &snap.RealizedLosses, &snap.OpenPositions,
		&snap.TotalEquity, &snap.UnrealizedPnL, &snap.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get snapshot: %w", err)
	}
	snap.Strategy = domain.Strategy(strat)
	return &snap, nil
}
