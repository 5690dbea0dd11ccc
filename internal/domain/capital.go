package domain

import "time"

// CapitalAccount is the persistent cash state for one strategy pool.
//
// Deployed capital is intentionally absent: it is always derived as
// SUM(entry_price * quantity) over the strategy's open positions, never
// stored, so it cannot drift from the position set.
type CapitalAccount struct {
	Strategy       Strategy
	InitialCapital float64
	AvailableCash  float64
	LockedProfits  float64 // realized gains, kept out of the deployable pool
	RealizedLosses float64 // cumulative, recorded as a positive number
	EntriesHalted  bool
	UpdatedAt      time.Time
}

// TotalEquity returns cash plus the given derived deployed amount plus
// locked profits. Callers pass deployed from the open position set.
func (a CapitalAccount) TotalEquity(deployed float64) float64 {
	return a.AvailableCash + deployed + a.LockedProfits
}

// Snapshot is the end-of-day record of one strategy's capital state,
// persisted daily and archived to blob storage.
type Snapshot struct {
	Strategy        Strategy
	Date            time.Time
	AvailableCash   float64
	DeployedCapital float64
	LockedProfits   float64
	RealizedLosses  float64
	OpenPositions   int
	TotalEquity     float64
	UnrealizedPnL   float64
	CreatedAt       time.Time
}
