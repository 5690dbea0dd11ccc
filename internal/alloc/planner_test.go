package alloc

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphadeck/stockpilot/internal/config"
	"github.com/alphadeck/stockpilot/internal/domain"
)

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	cfg := config.Defaults().Engine
	return NewPlanner(cfg.Swing, cfg.Regime, slog.Default())
}

func baseInput(candidates ...domain.Candidate) PlanInput {
	return PlanInput{
		Strategy:      domain.StrategySwing,
		Candidates:    candidates,
		AvailableCash: 500_000,
		OpenTickers:   map[string]bool{},
		RecentLosers:  map[string]bool{},
		Regime:        domain.RegimeRiskOn,
	}
}

func rejectionReasons(plan Plan) map[string]string {
	out := make(map[string]string, len(plan.Rejections))
	for _, r := range plan.Rejections {
		out[r.Candidate.Ticker] = r.Reason
	}
	return out
}

func TestBuildTierClassificationAndSizing(t *testing.T) {
	pl := newTestPlanner(t)

	plan := pl.Build(baseInput(
		domain.Candidate{Ticker: "AAA", Category: domain.CategoryLargeCap, Price: 1000, Score: 80, RSRating: 95},
		domain.Candidate{Ticker: "AAB", Category: domain.CategoryLargeCap, Price: 1000, Score: 75, RSRating: 92},
		domain.Candidate{Ticker: "BBB", Category: domain.CategoryLargeCap, Price: 500, Score: 66, RSRating: 75},
		domain.Candidate{Ticker: "CCC", Category: domain.CategoryLargeCap, Price: 400, Score: 61, RSRating: 62},
		domain.Candidate{Ticker: "XXX", Category: domain.CategoryLargeCap, Price: 100, Score: 50, RSRating: 50},
	))

	require.Len(t, plan.Allocations, 4)
	byTicker := make(map[string]domain.Allocation)
	for _, a := range plan.Allocations {
		byTicker[a.Candidate.Ticker] = a
	}

	// Large-cap budget 300k; tier A gets 60% = 180k across two picks.
	assert.Equal(t, domain.TierA, byTicker["AAA"].Tier)
	assert.EqualValues(t, 90, byTicker["AAA"].Quantity)
	assert.Equal(t, domain.TierA, byTicker["AAB"].Tier)
	assert.EqualValues(t, 90, byTicker["AAB"].Quantity)

	// Tier B gets its 60k slice whole.
	assert.Equal(t, domain.TierB, byTicker["BBB"].Tier)
	assert.EqualValues(t, 120, byTicker["BBB"].Quantity)

	// Tier C's 60k slice clamps to the 40k per-position cap.
	assert.Equal(t, domain.TierC, byTicker["CCC"].Tier)
	assert.EqualValues(t, 100, byTicker["CCC"].Quantity)
	assert.InDelta(t, 40_000, byTicker["CCC"].Invested, 1e-9)

	assert.Equal(t, "below quality bands", rejectionReasons(plan)["XXX"])

	// Output sorted best score first.
	assert.Equal(t, "AAA", plan.Allocations[0].Candidate.Ticker)
}

func TestBuildIsDeterministic(t *testing.T) {
	pl := newTestPlanner(t)

	// One free slot contested by identical candidates in two categories: the
	// fixed category order must hand it to the large-cap every time.
	contested := func() PlanInput {
		in := baseInput(
			domain.Candidate{Ticker: "BBB", Category: domain.CategoryMidCap, Price: 1000, Score: 80, RSRating: 95},
			domain.Candidate{Ticker: "AAA", Category: domain.CategoryLargeCap, Price: 1000, Score: 80, RSRating: 95},
		)
		in.OpenCount = 9
		return in
	}

	for i := 0; i < 100; i++ {
		plan := pl.Build(contested())
		require.Len(t, plan.Allocations, 1)
		assert.Equal(t, "AAA", plan.Allocations[0].Candidate.Ticker)
		assert.Equal(t, "position limit reached", rejectionReasons(plan)["BBB"])
	}

	// Equal scores inside one tier order by ticker.
	for i := 0; i < 100; i++ {
		plan := pl.Build(baseInput(
			domain.Candidate{Ticker: "ZED", Category: domain.CategoryLargeCap, Price: 1000, Score: 80, RSRating: 95},
			domain.Candidate{Ticker: "ACE", Category: domain.CategoryLargeCap, Price: 1000, Score: 80, RSRating: 95},
		))
		require.Len(t, plan.Allocations, 2)
		assert.Equal(t, "ACE", plan.Allocations[0].Candidate.Ticker)
		assert.Equal(t, "ZED", plan.Allocations[1].Candidate.Ticker)
	}
}

func TestBuildBudgetRollsDownEmptyTiers(t *testing.T) {
	pl := newTestPlanner(t)

	// Only a tier C candidate in mid-cap: the A and B slices roll down, so
	// tier C sees the full 100k category budget, clamped to its 40k cap.
	plan := pl.Build(baseInput(
		domain.Candidate{Ticker: "MID", Category: domain.CategoryMidCap, Price: 400, Score: 61, RSRating: 62},
	))

	require.Len(t, plan.Allocations, 1)
	a := plan.Allocations[0]
	assert.Equal(t, domain.TierC, a.Tier)
	assert.InDelta(t, 40_000, a.Invested, 1e-9)
}

func TestBuildRegimeGates(t *testing.T) {
	pl := newTestPlanner(t)

	tierA := domain.Candidate{Ticker: "AAA", Category: domain.CategoryLargeCap, Price: 1000, Score: 80, RSRating: 95}
	tierB := domain.Candidate{Ticker: "BBB", Category: domain.CategoryLargeCap, Price: 500, Score: 66, RSRating: 75}

	t.Run("neutral scales sizing", func(t *testing.T) {
		in := baseInput(tierA)
		in.Regime = domain.RegimeNeutral
		plan := pl.Build(in)

		require.Len(t, plan.Allocations, 1)
		// 180k tier slice * 0.75 = 135k, clamped to the 100k cap.
		assert.InDelta(t, 100_000, plan.Allocations[0].Invested, 1e-9)
	})

	t.Run("risk-off admits tier A only", func(t *testing.T) {
		in := baseInput(tierA, tierB)
		in.Regime = domain.RegimeRiskOff
		plan := pl.Build(in)

		require.Len(t, plan.Allocations, 1)
		assert.Equal(t, "AAA", plan.Allocations[0].Candidate.Ticker)
		// 180k * 0.5 = 90k for the single tier A pick.
		assert.InDelta(t, 90_000, plan.Allocations[0].Invested, 1e-9)
		assert.Equal(t, "risk-off regime admits tier A only", rejectionReasons(plan)["BBB"])
	})
}

func TestBuildFilters(t *testing.T) {
	pl := newTestPlanner(t)

	in := baseInput(
		domain.Candidate{Ticker: "HELD", Category: domain.CategoryLargeCap, Price: 1000, Score: 80, RSRating: 95},
		domain.Candidate{Ticker: "LOSS", Category: domain.CategoryLargeCap, Price: 1000, Score: 80, RSRating: 95},
		domain.Candidate{Ticker: "FREE", Category: domain.CategoryLargeCap, Score: 80, RSRating: 95}, // no price
	)
	in.OpenTickers["HELD"] = true
	in.RecentLosers["LOSS"] = true

	plan := pl.Build(in)
	assert.Empty(t, plan.Allocations)

	reasons := rejectionReasons(plan)
	assert.Equal(t, "already holding", reasons["HELD"])
	assert.Equal(t, "recent loss cooldown", reasons["LOSS"])
	assert.Equal(t, "no price", reasons["FREE"])
}

func TestBuildSlotLimit(t *testing.T) {
	pl := newTestPlanner(t)

	in := baseInput(
		domain.Candidate{Ticker: "AAA", Category: domain.CategoryLargeCap, Price: 1000, Score: 80, RSRating: 95},
	)
	in.OpenCount = 10 // pool is full

	plan := pl.Build(in)
	assert.Empty(t, plan.Allocations)
	assert.Equal(t, "position limit reached", rejectionReasons(plan)["AAA"])
}

func TestBuildRejectsBelowPositionFloor(t *testing.T) {
	pl := newTestPlanner(t)

	// 100k cash: large-cap budget 60k, tier A slice 36k, under the 50k floor.
	in := baseInput(
		domain.Candidate{Ticker: "AAA", Category: domain.CategoryLargeCap, Price: 1000, Score: 80, RSRating: 95},
	)
	in.AvailableCash = 100_000

	plan := pl.Build(in)
	assert.Empty(t, plan.Allocations)
	assert.Equal(t, "tier A budget below floor", rejectionReasons(plan)["AAA"])
}

func TestBuildTierPickCut(t *testing.T) {
	pl := newTestPlanner(t)

	plan := pl.Build(baseInput(
		domain.Candidate{Ticker: "AAA", Category: domain.CategoryLargeCap, Price: 1000, Score: 90, RSRating: 95},
		domain.Candidate{Ticker: "AAB", Category: domain.CategoryLargeCap, Price: 1000, Score: 85, RSRating: 95},
		domain.Candidate{Ticker: "AAC", Category: domain.CategoryLargeCap, Price: 1000, Score: 80, RSRating: 95},
	))

	// Tier A admits two picks; the lowest score is cut.
	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, "AAA", plan.Allocations[0].Candidate.Ticker)
	assert.Equal(t, "AAB", plan.Allocations[1].Candidate.Ticker)
	assert.Equal(t, "tier A full", rejectionReasons(plan)["AAC"])
}
