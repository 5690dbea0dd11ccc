package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphadeck/stockpilot/internal/config"
	"github.com/alphadeck/stockpilot/internal/domain"
)

func swingParams() config.StrategyParams {
	return config.Defaults().Engine.Swing
}

func TestComputeTightestLayerWins(t *testing.T) {
	calc := NewStopCalculator(swingParams())

	tests := []struct {
		name       string
		in         StopInputs
		wantStop   float64
		wantMethod domain.ProtectionMethod
	}{
		{
			name:       "volatility binds near entry",
			in:         StopInputs{EntryPrice: 100, HighestPrice: 100, CurrentPrice: 100, ATR: 1.5, RecentLow: 97},
			wantStop:   97, // 100 - 2.0*1.5
			wantMethod: domain.MethodVolatility,
		},
		{
			name:       "chandelier binds after a run-up",
			in:         StopInputs{EntryPrice: 100, HighestPrice: 110, CurrentPrice: 108, ATR: 1.5},
			wantStop:   106.25, // 110 - 2.5*1.5
			wantMethod: domain.MethodChandelier,
		},
		{
			name:       "fixed is the only layer without indicators",
			in:         StopInputs{EntryPrice: 100, HighestPrice: 100, CurrentPrice: 100},
			wantStop:   96, // 100 * (1 - 0.04)
			wantMethod: domain.MethodFixed,
		},
		{
			name:       "support layer prices off the recent low",
			in:         StopInputs{EntryPrice: 100, HighestPrice: 100, CurrentPrice: 100, RecentLow: 99},
			wantStop:   97.02, // 99 * (1 - 0.02)
			wantMethod: domain.MethodSupport,
		},
		{
			name: "profit lock trails below current price",
			in: StopInputs{
				EntryPrice: 100, HighestPrice: 110, CurrentPrice: 110,
				ProfitLockActive: true, LockedFloor: 103,
			},
			wantStop:   107.8, // trail 110*(1-0.02) above the 103 floor
			wantMethod: domain.MethodProfitLock,
		},
		{
			name: "locked floor holds when the trail dips under it",
			in: StopInputs{
				EntryPrice: 100, HighestPrice: 110, CurrentPrice: 104,
				ProfitLockActive: true, LockedFloor: 103,
			},
			wantStop:   103,
			wantMethod: domain.MethodProfitLock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := calc.Compute(tt.in)
			assert.InDelta(t, tt.wantStop, res.Stop, 1e-9)
			assert.Equal(t, tt.wantMethod, res.Method)
		})
	}
}

func TestComputeNegativeLayersDropped(t *testing.T) {
	calc := NewStopCalculator(swingParams())

	// A huge ATR would put the volatility and chandelier layers below zero;
	// the fixed layer must still protect.
	res := calc.Compute(StopInputs{EntryPrice: 10, HighestPrice: 10, CurrentPrice: 10, ATR: 50})
	assert.InDelta(t, 9.6, res.Stop, 1e-9)
	assert.Equal(t, domain.MethodFixed, res.Method)
	assert.NotContains(t, res.Layers, domain.MethodVolatility)
	assert.NotContains(t, res.Layers, domain.MethodChandelier)
}

func TestTightenOnlyRaises(t *testing.T) {
	p := &domain.Position{StopLoss: 97, Method: domain.MethodVolatility}

	moved := Tighten(p, StopResult{Stop: 96, Method: domain.MethodFixed})
	assert.False(t, moved)
	assert.InDelta(t, 97.0, p.StopLoss, 1e-9)
	assert.Equal(t, domain.MethodVolatility, p.Method)

	moved = Tighten(p, StopResult{Stop: 101.25, Method: domain.MethodChandelier})
	assert.True(t, moved)
	assert.InDelta(t, 101.25, p.StopLoss, 1e-9)
	assert.Equal(t, domain.MethodChandelier, p.Method)
}

func TestLockTier(t *testing.T) {
	calc := NewStopCalculator(swingParams())

	tests := []struct {
		pnlPct float64
		want   float64
		ok     bool
	}{
		{6.0, 0.03, true},
		{5.0, 0.03, true},
		{3.5, 0.02, true},
		{1.0, 0.01, true},
		{0.0, 0.01, true},
		{-1.0, 0, false},
	}
	for _, tt := range tests {
		got, ok := calc.LockTier(tt.pnlPct)
		assert.Equal(t, tt.ok, ok, "pnl %.1f", tt.pnlPct)
		assert.InDelta(t, tt.want, got, 1e-9, "pnl %.1f", tt.pnlPct)
	}
}

func TestActivateProfitLock(t *testing.T) {
	calc := NewStopCalculator(swingParams())
	now := time.Now()

	p := &domain.Position{
		EntryPrice:   100,
		CurrentPrice: 106,
		EntryDate:    now.AddDate(0, 0, -9),
	}

	require.True(t, calc.ActivateProfitLock(p, now))
	assert.True(t, p.ProfitLockActive)
	assert.InDelta(t, 103, p.LockedFloor, 1e-9) // 6% gain locks the 3% floor
	assert.InDelta(t, 0.03, p.LockedFloorPct, 1e-9)
	assert.InDelta(t, 107.06, p.TakeProfit, 1e-9)

	// A pullback must not lower the floor, and activation fires only once.
	p.CurrentPrice = 104
	assert.False(t, calc.ActivateProfitLock(p, now))
	assert.InDelta(t, 103, p.LockedFloor, 1e-9)
	assert.InDelta(t, 0.03, p.LockedFloorPct, 1e-9)

	assert.Equal(t, 15, calc.HoldHorizon(p))
}

func TestActivateProfitLockGating(t *testing.T) {
	calc := NewStopCalculator(swingParams())
	now := time.Now()

	t.Run("too young", func(t *testing.T) {
		p := &domain.Position{EntryPrice: 100, CurrentPrice: 110, EntryDate: now.AddDate(0, 0, -3)}
		assert.False(t, calc.ActivateProfitLock(p, now))
		assert.False(t, p.ProfitLockActive)
	})

	t.Run("not profitable", func(t *testing.T) {
		p := &domain.Position{EntryPrice: 100, CurrentPrice: 99, EntryDate: now.AddDate(0, 0, -9)}
		assert.False(t, calc.ActivateProfitLock(p, now))
		assert.False(t, p.ProfitLockActive)
	})

	t.Run("disabled for the daily pool", func(t *testing.T) {
		daily := NewStopCalculator(config.Defaults().Engine.Daily)
		p := &domain.Position{EntryPrice: 100, CurrentPrice: 110, EntryDate: now.AddDate(0, 0, -9)}
		assert.False(t, daily.ActivateProfitLock(p, now))
		assert.Equal(t, 5, daily.HoldHorizon(p))
	})
}

func TestATR(t *testing.T) {
	bars := []Bar{
		{High: 10, Low: 9, Close: 9.5},
		{High: 10.5, Low: 9.5, Close: 10},
		{High: 11, Low: 10, Close: 10.5},
	}
	// True ranges after the first bar: max(10.5-9.5, |10.5-9.5|, |9.5-9.5|)=1,
	// max(11-10, |11-10|, |10-10|)=1.
	got := ATR(bars, 2)
	assert.InDelta(t, 1.0, got, 1e-9)

	// With fewer bars than the period it averages what it has.
	assert.InDelta(t, 1.0, ATR(bars, 5), 1e-9)

	assert.Zero(t, ATR(nil, 14))
	assert.Zero(t, ATR(bars[:1], 14))
}
