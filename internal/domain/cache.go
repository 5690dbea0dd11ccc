package domain

import (
	"context"
	"time"
)

// Quote is a last-traded price with its observation time.
type Quote struct {
	Ticker string
	Price  float64
	AsOf   time.Time
}

// Fresh reports whether the quote is newer than maxAge at the given instant.
func (q Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	return q.Price > 0 && now.Sub(q.AsOf) <= maxAge
}

// PriceCache holds last observed prices keyed by ticker.
type PriceCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, ticker string) (Quote, error)
	GetQuotes(ctx context.Context, tickers []string) (map[string]Quote, error)
}

// OverrideCache holds manual overrides with end-of-day expiry.
type OverrideCache interface {
	Set(ctx context.Context, o ManualOverride) error
	Get(ctx context.Context, ticker string, strategy Strategy) (*ManualOverride, error)
	Clear(ctx context.Context, ticker string, strategy Strategy) error
}

// LockManager provides short-lived mutual exclusion per (ticker, strategy)
// between the entry and monitor paths.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter throttles request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// EventPublisher fans engine events out to a stream.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// QuoteProvider fetches live prices from the broker.
type QuoteProvider interface {
	Quote(ctx context.Context, ticker string) (Quote, error)
	Quotes(ctx context.Context, tickers []string) (map[string]Quote, error)
}
