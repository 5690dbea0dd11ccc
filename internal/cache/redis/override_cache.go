package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// OverrideCache implements domain.OverrideCache using plain keys with a TTL.
// The TTL is set from the override's ExpiresAt, so hold/force-exit/smart-stop
// flags evaporate at end of trading day without a cleanup job.
type OverrideCache struct {
	rdb *redis.Client
}

// NewOverrideCache creates an OverrideCache backed by the given Client.
func NewOverrideCache(c *Client) *OverrideCache {
	return &OverrideCache{rdb: c.Underlying()}
}

func overrideKey(ticker string, strategy domain.Strategy) string {
	return "override:" + ticker + ":" + string(strategy)
}

// Set stores an override until its expiry. An override with an expiry in the
// past is rejected.
func (oc *OverrideCache) Set(ctx context.Context, o domain.ManualOverride) error {
	ttl := time.Until(o.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("redis: override %s/%s expires in the past: %w",
			o.Ticker, o.Strategy, domain.ErrInvalidOverride)
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("redis: marshal override %s/%s: %w", o.Ticker, o.Strategy, err)
	}
	if err := oc.rdb.Set(ctx, overrideKey(o.Ticker, o.Strategy), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set override %s/%s: %w", o.Ticker, o.Strategy, err)
	}
	return nil
}

// Get returns the active override for a (ticker, strategy), or nil when none
// is in force.
func (oc *OverrideCache) Get(ctx context.Context, ticker string, strategy domain.Strategy) (*domain.ManualOverride, error) {
	payload, err := oc.rdb.Get(ctx, overrideKey(ticker, strategy)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: get override %s/%s: %w", ticker, strategy, err)
	}

	var o domain.ManualOverride
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, fmt.Errorf("redis: unmarshal override %s/%s: %w", ticker, strategy, err)
	}
	return &o, nil
}

// Clear removes an override before its natural expiry.
func (oc *OverrideCache) Clear(ctx context.Context, ticker string, strategy domain.Strategy) error {
	if err := oc.rdb.Del(ctx, overrideKey(ticker, strategy)).Err(); err != nil {
		return fmt.Errorf("redis: clear override %s/%s: %w", ticker, strategy, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OverrideCache = (*OverrideCache)(nil)
