package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// CapitalStore implements domain.CapitalStore and domain.SettlementStore
// using PostgreSQL. Deployed capital has no column here on purpose: it is
// derived from the positions table.
type CapitalStore struct {
	pool *pgxpool.Pool
}

// NewCapitalStore creates a new CapitalStore backed by the given connection pool.
func NewCapitalStore(pool *pgxpool.Pool) *CapitalStore {
	return &CapitalStore{pool: pool}
}

var (
	_ domain.CapitalStore    = (*CapitalStore)(nil)
	_ domain.SettlementStore = (*CapitalStore)(nil)
)

const capitalSelectCols = `strategy, initial_capital, available_cash,
	locked_profits, realized_losses, entries_halted, updated_at`

func scanAccount(row pgx.Row) (*domain.CapitalAccount, error) {
	var a domain.CapitalAccount
	var strategy string
	err := row.Scan(
		&strategy, &a.InitialCapital, &a.AvailableCash,
		&a.LockedProfits, &a.RealizedLosses, &a.EntriesHalted, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Strategy = domain.Strategy(strategy)
	return &a, nil
}

// Get returns the capital account for a strategy.
func (s *CapitalStore) Get(ctx context.Context, strategy domain.Strategy) (*domain.CapitalAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+capitalSelectCols+` FROM capital_accounts WHERE strategy = $1`,
		string(strategy))

	a, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("postgres: capital account %s: %w", strategy, domain.ErrUnknownStrategy)
		}
		return nil, fmt.Errorf("postgres: get capital account %s: %w", strategy, err)
	}
	return a, nil
}

// Ensure seeds the capital account for a strategy if it does not exist yet.
func (s *CapitalStore) Ensure(ctx context.Context, strategy domain.Strategy, initialCapital float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO capital_accounts (strategy, initial_capital, available_cash)
		VALUES ($1, $2, $2)
		ON CONFLICT (strategy) DO NOTHING`,
		string(strategy), initialCapital)
	if err != nil {
		return fmt.Errorf("postgres: ensure capital account %s: %w", strategy, err)
	}
	return nil
}

// Debit reserves cash for an entry. The WHERE clause makes the
// check-and-debit atomic: it only fires when cash covers the amount and the
// strategy is not halted, so concurrent debits cannot overdraw.
func (s *CapitalStore) Debit(ctx context.Context, strategy domain.Strategy, amount float64) (*domain.CapitalAccount, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE capital_accounts SET
			available_cash = available_cash - $2,
			updated_at     = NOW()
		WHERE strategy = $1 AND available_cash >= $2 AND NOT entries_halted
		RETURNING `+capitalSelectCols,
		string(strategy), amount)

	a, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Disambiguate: halted vs short of cash vs missing account.
			acct, getErr := s.Get(ctx, strategy)
			if getErr != nil {
				return nil, getErr
			}
			if acct.EntriesHalted {
				return nil, domain.ErrEntriesHalted
			}
			return nil, domain.ErrInsufficientFunds
		}
		return nil, fmt.Errorf("postgres: debit %s: %w", strategy, err)
	}
	return a, nil
}

// Credit returns plain cash to the pool. Used to unwind a debit when the
// position insert that followed it failed.
func (s *CapitalStore) Credit(ctx context.Context, strategy domain.Strategy, amount float64) (*domain.CapitalAccount, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE capital_accounts SET
			available_cash = available_cash + $2,
			updated_at     = NOW()
		WHERE strategy = $1
		RETURNING `+capitalSelectCols,
		string(strategy), amount)

	a, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("postgres: credit %s: %w", strategy, domain.ErrUnknownStrategy)
		}
		return nil, fmt.Errorf("postgres: credit %s: %w", strategy, err)
	}
	return a, nil
}

// SetEntriesHalted flips the entries-halted flag for a strategy.
func (s *CapitalStore) SetEntriesHalted(ctx context.Context, strategy domain.Strategy, halted bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE capital_accounts SET entries_halted = $2, updated_at = NOW()
		WHERE strategy = $1`,
		string(strategy), halted)
	if err != nil {
		return fmt.Errorf("postgres: set entries_halted %s: %w", strategy, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set entries_halted %s: %w", strategy, domain.ErrUnknownStrategy)
	}
	return nil
}

// CloseAndSettle closes a position, logs the sell trade, and credits the
// capital account in a single transaction. The principal always returns to
// available cash; a gain accrues to locked profits, a loss reduces cash and
// accrues to realized losses.
func (s *CapitalStore) CloseAndSettle(ctx context.Context, st domain.Settlement) (*domain.CapitalAccount, error) {
	p := st.Position

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: settle begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// Flip the position to closed; the status guard makes settlement
	// idempotent under concurrent monitor ticks.
	tag, err := tx.Exec(ctx, `
		UPDATE positions SET
			status        = 'closed',
			current_price = $2,
			closed_at     = $3,
			updated_at    = NOW()
		WHERE id = $1 AND status <> 'closed'`,
		p.ID, st.ExitPrice, st.ClosedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: settle close %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("postgres: settle %s: %w", p.ID, domain.ErrPositionClosed)
	}

	// Log the exit fill.
	_, err = tx.Exec(ctx, tradeInsertQuery,
		uuid.NewString(), p.ID, p.Ticker, string(p.Strategy), string(domain.TradeActionSell),
		st.ExitPrice, p.Quantity, st.PnL, string(st.Reason), st.ClosedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: settle trade log %s: %w", p.ID, err)
	}

	// Credit the account.
	principal := p.Invested()
	var gain, loss float64
	if st.PnL > 0 {
		gain = st.PnL
	} else {
		loss = -st.PnL
	}
	row := tx.QueryRow(ctx, `
		UPDATE capital_accounts SET
			available_cash  = available_cash + $2 - $4,
			locked_profits  = locked_profits + $3,
			realized_losses = realized_losses + $4,
			updated_at      = NOW()
		WHERE strategy = $1
		RETURNING `+capitalSelectCols,
		string(p.Strategy), principal, gain, loss)

	acct, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("postgres: settle credit %s: %w", p.Strategy, domain.ErrUnknownStrategy)
		}
		return nil, fmt.Errorf("postgres: settle credit %s: %w", p.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: settle commit %s: %w", p.ID, err)
	}
	return acct, nil
}
