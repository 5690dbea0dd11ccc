// Package alloc sizes new entries. Candidates are bucketed into quality
// tiers per category, each tier draws on a fixed slice of the category
// budget, and the market regime scales (or gates) the result.
package alloc

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/alphadeck/stockpilot/internal/config"
	"github.com/alphadeck/stockpilot/internal/domain"
)

// PlanInput is one allocation request. Regime is an explicit argument per
// invocation; the planner holds no market state between calls.
type PlanInput struct {
	Strategy      domain.Strategy
	Candidates    []domain.Candidate
	AvailableCash float64
	OpenTickers   map[string]bool
	RecentLosers  map[string]bool
	OpenCount     int
	Regime        domain.Regime
}

// Plan is the sized result: accepted allocations plus a rejection per
// skipped candidate with the reason spelled out.
type Plan struct {
	Allocations []domain.Allocation
	Rejections  []domain.Rejection
	Budget      float64
}

// Planner allocates for one strategy's parameter block.
type Planner struct {
	params config.StrategyParams
	regime config.RegimeConfig
	logger *slog.Logger
}

func NewPlanner(params config.StrategyParams, regime config.RegimeConfig, logger *slog.Logger) *Planner {
	return &Planner{
		params: params,
		regime: regime,
		logger: logger.With(slog.String("component", "alloc")),
	}
}

func (pl *Planner) regimeMultiplier(r domain.Regime) float64 {
	switch r {
	case domain.RegimeRiskOn:
		return pl.regime.RiskOnMultiplier
	case domain.RegimeRiskOff:
		return pl.regime.RiskOffMultiplier
	default:
		return pl.regime.NeutralMultiplier
	}
}

// classify places a candidate into its quality tier; ok is false when the
// candidate clears no band.
func (pl *Planner) classify(c domain.Candidate) (domain.QualityTier, config.TierConfig, bool) {
	switch {
	case c.Score >= pl.params.TierA.MinScore && c.RSRating >= pl.params.TierA.MinRS:
		return domain.TierA, pl.params.TierA, true
	case c.Score >= pl.params.TierB.MinScore && c.RSRating >= pl.params.TierB.MinRS:
		return domain.TierB, pl.params.TierB, true
	case c.Score >= pl.params.TierC.MinScore && c.RSRating >= pl.params.TierC.MinRS:
		return domain.TierC, pl.params.TierC, true
	}
	return "", config.TierConfig{}, false
}

func (pl *Planner) categoryBudget(cat domain.Category, deployable float64) float64 {
	switch cat {
	case domain.CategoryLargeCap:
		return deployable * pl.params.LargeCapPct
	case domain.CategoryMidCap:
		return deployable * pl.params.MidCapPct
	case domain.CategoryMicroCap:
		return deployable * pl.params.MicroCapPct
	}
	return 0
}

// Build sizes the candidate list against available cash. Filtering happens
// first (duplicates, recent losers, quality bands, regime gate), then each
// category's budget is split across tiers; a tier with no survivors rolls
// its slice down to the next tier.
func (pl *Planner) Build(in PlanInput) Plan {
	plan := Plan{Budget: in.AvailableCash}
	mult := pl.regimeMultiplier(in.Regime)

	slots := pl.params.MaxPositions - in.OpenCount
	if slots <= 0 {
		for _, c := range in.Candidates {
			plan.Rejections = append(plan.Rejections, domain.Rejection{
				Candidate: c, Reason: "position limit reached",
			})
		}
		return plan
	}

	// Filter and bucket by category+tier.
	type bucket struct {
		tier config.TierConfig
		cs   []domain.Candidate
	}
	buckets := make(map[domain.Category]map[domain.QualityTier]*bucket)
	for _, c := range in.Candidates {
		switch {
		case c.Price <= 0:
			plan.Rejections = append(plan.Rejections, domain.Rejection{Candidate: c, Reason: "no price"})
			continue
		case in.OpenTickers[c.Ticker]:
			plan.Rejections = append(plan.Rejections, domain.Rejection{Candidate: c, Reason: "already holding"})
			continue
		case in.RecentLosers[c.Ticker]:
			plan.Rejections = append(plan.Rejections, domain.Rejection{Candidate: c, Reason: "recent loss cooldown"})
			continue
		}
		tierName, tierCfg, ok := pl.classify(c)
		if !ok {
			plan.Rejections = append(plan.Rejections, domain.Rejection{Candidate: c, Reason: "below quality bands"})
			continue
		}
		if in.Regime == domain.RegimeRiskOff && tierName != domain.TierA {
			plan.Rejections = append(plan.Rejections, domain.Rejection{
				Candidate: c, Reason: "risk-off regime admits tier A only",
			})
			continue
		}
		if buckets[c.Category] == nil {
			buckets[c.Category] = make(map[domain.QualityTier]*bucket)
		}
		b := buckets[c.Category][tierName]
		if b == nil {
			b = &bucket{tier: tierCfg}
			buckets[c.Category][tierName] = b
		}
		b.cs = append(b.cs, c)
	}

	// Size per category, tiers in descending quality order so unused budget
	// rolls downhill. Categories run in a fixed order so the slot budget is
	// consumed the same way on every call with the same input.
	for _, cat := range []domain.Category{domain.CategoryLargeCap, domain.CategoryMidCap, domain.CategoryMicroCap} {
		tiers := buckets[cat]
		if tiers == nil {
			continue
		}
		catBudget := pl.categoryBudget(cat, in.AvailableCash)
		carry := 0.0
		for _, tierName := range []domain.QualityTier{domain.TierA, domain.TierB, domain.TierC} {
			b := tiers[tierName]
			var tierCfg config.TierConfig
			switch tierName {
			case domain.TierA:
				tierCfg = pl.params.TierA
			case domain.TierB:
				tierCfg = pl.params.TierB
			case domain.TierC:
				tierCfg = pl.params.TierC
			}
			tierBudget := catBudget*tierCfg.BudgetPct + carry
			if b == nil || len(b.cs) == 0 {
				carry = tierBudget
				continue
			}
			carry = 0

			sort.SliceStable(b.cs, func(i, j int) bool {
				if b.cs[i].Score != b.cs[j].Score {
					return b.cs[i].Score > b.cs[j].Score
				}
				return b.cs[i].Ticker < b.cs[j].Ticker
			})
			picks := b.cs
			if len(picks) > tierCfg.MaxPicks {
				for _, c := range picks[tierCfg.MaxPicks:] {
					plan.Rejections = append(plan.Rejections, domain.Rejection{
						Candidate: c, Reason: fmt.Sprintf("tier %s full", tierName),
					})
				}
				picks = picks[:tierCfg.MaxPicks]
			}

			perPosition := tierBudget / float64(len(picks)) * mult
			if perPosition > tierCfg.MaxPosition {
				perPosition = tierCfg.MaxPosition
			}
			for _, c := range picks {
				if slots <= 0 {
					plan.Rejections = append(plan.Rejections, domain.Rejection{
						Candidate: c, Reason: "position limit reached",
					})
					continue
				}
				if perPosition < tierCfg.MinPosition {
					plan.Rejections = append(plan.Rejections, domain.Rejection{
						Candidate: c, Reason: fmt.Sprintf("tier %s budget below floor", tierName),
					})
					continue
				}
				qty := int64(math.Floor(perPosition / c.Price))
				if qty < 1 {
					plan.Rejections = append(plan.Rejections, domain.Rejection{
						Candidate: c, Reason: "price exceeds per-position budget",
					})
					continue
				}
				plan.Allocations = append(plan.Allocations, domain.Allocation{
					Candidate: c,
					Tier:      tierName,
					Quantity:  qty,
					Invested:  c.Price * float64(qty),
				})
				slots--
			}
		}
	}

	// Deterministic output order: best score first, ticker as tie-break.
	sort.SliceStable(plan.Allocations, func(i, j int) bool {
		a, b := plan.Allocations[i].Candidate, plan.Allocations[j].Candidate
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Ticker < b.Ticker
	})

	pl.logger.Debug("allocation plan built",
		slog.String("strategy", string(in.Strategy)),
		slog.String("regime", string(in.Regime)),
		slog.Int("allocations", len(plan.Allocations)),
		slog.Int("rejections", len(plan.Rejections)))
	return plan
}
