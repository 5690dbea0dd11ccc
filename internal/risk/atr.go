// Package risk implements the protection side of the engine: layered stop
// computation, profit locking, and priority-ordered exit evaluation.
package risk

// Bar is one OHLC candle, oldest-first in slices passed to ATR.
type Bar struct {
	High  float64
	Low   float64
	Close float64
}

// ATR returns the average true range over the trailing period bars. It needs
// period+1 bars (the previous close seeds the first true range); with fewer
// bars it averages what it has, and with fewer than two bars it returns 0.
func ATR(bars []Bar, period int) float64 {
	if len(bars) < 2 || period < 1 {
		return 0
	}
	start := len(bars) - period
	if start < 1 {
		start = 1
	}
	var sum float64
	var n int
	for i := start; i < len(bars); i++ {
		tr := trueRange(bars[i], bars[i-1].Close)
		sum += tr
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func trueRange(b Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if d := b.High - prevClose; d > tr {
		tr = d
	}
	if d := prevClose - b.Low; d > tr {
		tr = d
	}
	if tr < 0 {
		return 0
	}
	return tr
}
