package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alphadeck/stockpilot/internal/domain"
	"github.com/alphadeck/stockpilot/internal/ledger"
	"github.com/alphadeck/stockpilot/internal/notify"
)

// Archiver exports end-of-day artifacts to blob storage.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, snap *domain.Snapshot) error
	ArchiveTrades(ctx context.Context, strategy domain.Strategy, date time.Time, trades []*domain.Trade) error
}

// SnapshotService runs the end-of-day close: verify the capital invariant,
// persist the daily snapshot per strategy, and archive the snapshot plus the
// session's closed trades.
type SnapshotService struct {
	book      *ledger.Ledger
	snapshots domain.SnapshotStore
	trades    domain.TradeStore
	archiver  Archiver
	bus       domain.EventPublisher
	notifier  *notify.Notifier
	clock     *TradingClock
	logger    *slog.Logger
}

// NewSnapshotService creates a SnapshotService with all required
// dependencies. archiver may be nil; snapshots are then database-only.
func NewSnapshotService(
	book *ledger.Ledger,
	snapshots domain.SnapshotStore,
	trades domain.TradeStore,
	archiver Archiver,
	bus domain.EventPublisher,
	notifier *notify.Notifier,
	clock *TradingClock,
	logger *slog.Logger,
) *SnapshotService {
	return &SnapshotService{
		book:      book,
		snapshots: snapshots,
		trades:    trades,
		archiver:  archiver,
		bus:       bus,
		notifier:  notifier,
		clock:     clock,
		logger:    logger.With(slog.String("component", "snapshot_service")),
	}
}

// Run closes the day for both strategy pools. Drift on one pool halts that
// pool's entries and is reported, but never blocks the other pool's
// snapshot.
func (s *SnapshotService) Run(ctx context.Context, now time.Time) error {
	var errs []error
	for _, strategy := range []domain.Strategy{domain.StrategyDaily, domain.StrategySwing} {
		if err := s.runOne(ctx, strategy, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SnapshotService) runOne(ctx context.Context, strategy domain.Strategy, now time.Time) error {
	if err := s.book.VerifyInvariant(ctx, strategy); err != nil {
		if !errors.Is(err, domain.ErrLedgerDrift) {
			return err
		}
		s.publish(ctx, domain.Event{
			Type:      domain.EventLedgerDrift,
			Strategy:  strategy,
			Message:   err.Error(),
			CreatedAt: now,
		})
		// Continue: a drifted pool still gets its snapshot for forensics.
	}

	date := s.clock.SessionDate(now)
	snap, err := s.book.BuildSnapshot(ctx, strategy, date)
	if err != nil {
		return err
	}
	if err := s.snapshots.Upsert(ctx, snap); err != nil {
		return fmt.Errorf("snapshot_service: %s: %w", strategy, err)
	}

	if s.archiver != nil {
		if err := s.archiver.ArchiveSnapshot(ctx, snap); err != nil {
			s.logger.ErrorContext(ctx, "snapshot archive failed",
				slog.String("strategy", string(strategy)),
				slog.String("error", err.Error()))
		}

		closed, err := s.trades.ListClosedSince(ctx, strategy, date)
		if err != nil {
			return fmt.Errorf("snapshot_service: %s trades: %w", strategy, err)
		}
		if len(closed) > 0 {
			if err := s.archiver.ArchiveTrades(ctx, strategy, date, closed); err != nil {
				s.logger.ErrorContext(ctx, "trade archive failed",
					slog.String("strategy", string(strategy)),
					slog.String("error", err.Error()))
			}
		}
	}

	s.logger.InfoContext(ctx, "daily snapshot written",
		slog.String("strategy", string(strategy)),
		slog.String("date", date.Format("2006-01-02")),
		slog.Float64("total_equity", snap.TotalEquity),
		slog.Int("open_positions", snap.OpenPositions))
	return nil
}

func (s *SnapshotService) publish(ctx context.Context, e domain.Event) {
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
