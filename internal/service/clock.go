// Package service wires the engine together: entries, the monitor tick,
// manual overrides, and end-of-day snapshots.
package service

import (
	"fmt"
	"time"
)

// TradingClock resolves market-session boundaries in the exchange timezone.
// Overrides and circuit-breaker holds expire at the session close.
type TradingClock struct {
	loc       *time.Location
	closeHour int
	closeMin  int
}

// NewTradingClock parses the timezone name and an HH:MM close time.
func NewTradingClock(timezone, marketClose string) (*TradingClock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("service: load timezone %q: %w", timezone, err)
	}
	t, err := time.Parse("15:04", marketClose)
	if err != nil {
		return nil, fmt.Errorf("service: parse market close %q: %w", marketClose, err)
	}
	return &TradingClock{loc: loc, closeHour: t.Hour(), closeMin: t.Minute()}, nil
}

// EndOfDay returns the next session close at or after now. Past today's
// close it rolls to tomorrow, so an override placed after hours covers the
// whole next session.
func (c *TradingClock) EndOfDay(now time.Time) time.Time {
	local := now.In(c.loc)
	eod := time.Date(local.Year(), local.Month(), local.Day(), c.closeHour, c.closeMin, 0, 0, c.loc)
	if !eod.After(local) {
		eod = eod.AddDate(0, 0, 1)
	}
	return eod
}

// Now returns the current instant in the exchange timezone. Calendar-based
// rules (days held, max hold) count session dates, so they must be read
// there, not in server-local time.
func (c *TradingClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// SessionDate returns the calendar date of the session containing now.
func (c *TradingClock) SessionDate(now time.Time) time.Time {
	local := now.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}
