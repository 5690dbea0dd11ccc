package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysHeldCountsCalendarDays(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	p := Position{EntryDate: time.Date(2026, 1, 1, 15, 0, 0, 0, ist)}

	t.Run("same session is day zero", func(t *testing.T) {
		assert.Equal(t, 0, p.DaysHeld(time.Date(2026, 1, 1, 15, 25, 0, 0, ist)))
	})

	t.Run("next morning is day one", func(t *testing.T) {
		// Less than 24 hours elapsed, but the date has turned.
		assert.Equal(t, 1, p.DaysHeld(time.Date(2026, 1, 2, 9, 30, 0, 0, ist)))
	})

	t.Run("a late entry does not slip a session", func(t *testing.T) {
		// Jan 1 -> Jan 9 is eight calendar days regardless of the clock.
		assert.Equal(t, 8, p.DaysHeld(time.Date(2026, 1, 9, 10, 0, 0, 0, ist)))
	})

	t.Run("entry stored in UTC reads on the session date", func(t *testing.T) {
		// 20:00 UTC on Jan 1 is already Jan 2 in Kolkata.
		utc := Position{EntryDate: time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)}
		assert.Equal(t, 0, utc.DaysHeld(time.Date(2026, 1, 2, 10, 0, 0, 0, ist)))
		assert.Equal(t, 1, utc.DaysHeld(time.Date(2026, 1, 3, 10, 0, 0, 0, ist)))
	})

	t.Run("clock skew never goes negative", func(t *testing.T) {
		assert.Equal(t, 0, p.DaysHeld(time.Date(2025, 12, 31, 10, 0, 0, 0, ist)))
	})
}
