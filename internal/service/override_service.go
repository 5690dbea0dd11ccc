package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// OverrideService validates and applies manual interventions. Overrides are
// only accepted against live positions and expire at the session close.
type OverrideService struct {
	positions domain.PositionStore
	overrides domain.OverrideCache
	clock     *TradingClock
	logger    *slog.Logger
}

// NewOverrideService creates an OverrideService with all required dependencies.
func NewOverrideService(
	positions domain.PositionStore,
	overrides domain.OverrideCache,
	clock *TradingClock,
	logger *slog.Logger,
) *OverrideService {
	return &OverrideService{
		positions: positions,
		overrides: overrides,
		clock:     clock,
		logger:    logger.With(slog.String("component", "override_service")),
	}
}

// Apply places an override on a live position. A hold flips the position to
// held immediately; force-exit and smart-stop take effect on the next
// monitor tick.
func (s *OverrideService) Apply(ctx context.Context, ticker string, strategy domain.Strategy, kind domain.OverrideKind, source string) (*domain.ManualOverride, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("override_service: kind %q: %w", kind, domain.ErrInvalidOverride)
	}

	p, err := s.positions.GetOpen(ctx, ticker, strategy)
	if err != nil {
		return nil, fmt.Errorf("override_service: %s/%s: %w", ticker, strategy, err)
	}

	now := time.Now()
	o := domain.ManualOverride{
		Ticker:    p.Ticker,
		Strategy:  p.Strategy,
		Kind:      kind,
		Source:    source,
		CreatedAt: now,
		ExpiresAt: s.clock.EndOfDay(now),
	}
	if err := s.overrides.Set(ctx, o); err != nil {
		return nil, fmt.Errorf("override_service: set %s/%s: %w", ticker, strategy, err)
	}

	if kind == domain.OverrideHold && p.Status != domain.PositionStatusHeld {
		p.Status = domain.PositionStatusHeld
		if err := s.positions.Update(ctx, p); err != nil {
			return nil, fmt.Errorf("override_service: hold %s/%s: %w", ticker, strategy, err)
		}
	}

	s.logger.InfoContext(ctx, "override applied",
		slog.String("ticker", ticker),
		slog.String("strategy", string(strategy)),
		slog.String("kind", string(kind)),
		slog.String("source", source),
		slog.Time("expires_at", o.ExpiresAt))
	return &o, nil
}

// Clear lifts an override early. A held position returns to open on the
// next monitor tick.
func (s *OverrideService) Clear(ctx context.Context, ticker string, strategy domain.Strategy) error {
	if err := s.overrides.Clear(ctx, ticker, strategy); err != nil {
		return fmt.Errorf("override_service: clear %s/%s: %w", ticker, strategy, err)
	}
	s.logger.InfoContext(ctx, "override cleared",
		slog.String("ticker", ticker),
		slog.String("strategy", string(strategy)))
	return nil
}

// Get returns the active override for a position, or nil.
func (s *OverrideService) Get(ctx context.Context, ticker string, strategy domain.Strategy) (*domain.ManualOverride, error) {
	o, err := s.overrides.Get(ctx, ticker, strategy)
	if err != nil {
		return nil, fmt.Errorf("override_service: get %s/%s: %w", ticker, strategy, err)
	}
	return o, nil
}
