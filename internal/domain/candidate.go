package domain

// Regime is the market posture supplied to allocation per invocation.
// It scales position sizing and gates entries; it is an explicit input,
// not shared state.
type Regime string

const (
	RegimeRiskOn  Regime = "risk-on"
	RegimeNeutral Regime = "neutral"
	RegimeRiskOff Regime = "risk-off"
)

// QualityTier buckets candidates by score and relative strength.
type QualityTier string

const (
	TierA QualityTier = "A"
	TierB QualityTier = "B"
	TierC QualityTier = "C"
)

// Candidate is one scored entry candidate handed to the allocation planner.
type Candidate struct {
	Ticker    string
	Category  Category
	Price     float64
	Score     float64
	RSRating  float64
	ATR       float64
	RecentLow float64
}

// Allocation is a sized, accepted candidate ready for entry.
type Allocation struct {
	Candidate Candidate
	Tier      QualityTier
	Quantity  int64
	Invested  float64
}

// Rejection explains why a candidate was not allocated.
type Rejection struct {
	Candidate Candidate
	Reason    string
}
