package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Engine.Swing.MaxPositions = 0
	cfg.Engine.Swing.LargeCapPct = 0.9 // split no longer sums to 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "engine.swing: max_positions")
	assert.Contains(t, err.Error(), "budget split")
}

func TestValidateStrategyParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StrategyParams)
		want   string
	}{
		{"zero capital", func(p *StrategyParams) { p.InitialCapital = 0 }, "initial_capital"},
		{"stop out of range", func(p *StrategyParams) { p.FixedStopPct = 1.5 }, "fixed_stop_pct"},
		{"extended below max hold", func(p *StrategyParams) { p.ExtendedHoldDays = 3 }, "extended_hold_days"},
		{"hard stop under alert", func(p *StrategyParams) { p.HardStopPct = 0.01 }, "hard_stop_pct"},
		{"tiers out of order", func(p *StrategyParams) {
			p.ProfitLockTiers = []ProfitLockTier{{MinPnLPct: 1, LockPct: 0.01}, {MinPnLPct: 5, LockPct: 0.03}}
		}, "profit_lock_tiers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg.Engine.Swing)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STOCKPILOT_MODE", "server")
	t.Setenv("STOCKPILOT_DATABASE_DSN", "postgres://env/override")
	t.Setenv("STOCKPILOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("STOCKPILOT_SERVER_PORT", "9001")
	t.Setenv("STOCKPILOT_SERVER_ENABLED", "false")
	t.Setenv("STOCKPILOT_ENGINE_PRICE_MAX_AGE", "90s")
	t.Setenv("STOCKPILOT_ENGINE_SWING_INITIAL_CAPITAL", "750000")
	t.Setenv("STOCKPILOT_NOTIFY_EVENTS", "position.opened, position.closed")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "postgres://env/override", cfg.Database.DSN)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, "90s", cfg.Engine.PriceMaxAge.Duration.String())
	assert.InDelta(t, 750_000, cfg.Engine.Swing.InitialCapital, 1e-9)
	assert.Equal(t, []string{"position.opened", "position.closed"}, cfg.Notify.Events)
}

func TestEnvOverridesIgnoreUnset(t *testing.T) {
	cfg := Defaults()
	before := cfg.Server.Port
	applyEnvOverrides(&cfg)
	assert.Equal(t, before, cfg.Server.Port)
}

func TestParamsLookup(t *testing.T) {
	e := Defaults().Engine

	daily, ok := e.Params("daily")
	require.True(t, ok)
	assert.InDelta(t, 300_000, daily.InitialCapital, 1e-9)

	swing, ok := e.Params("SWING")
	require.True(t, ok)
	assert.InDelta(t, 500_000, swing.InitialCapital, 1e-9)

	_, ok = e.Params("scalp")
	assert.False(t, ok)
}
