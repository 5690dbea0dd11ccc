package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each ticker's quote is stored as a hash at key "price:{ticker}" with fields
// "price" and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(ticker string) string {
	return "price:" + ticker
}

// SetQuote stores the latest price and timestamp for a ticker.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := priceKey(q.Ticker)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(q.Price, 'f', -1, 64),
		"ts":    strconv.FormatInt(q.AsOf.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Ticker, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a ticker.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetQuote(ctx context.Context, ticker string) (domain.Quote, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(ticker)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", ticker, err)
	}
	q, ok, err := parseQuote(ticker, vals)
	if err != nil {
		return domain.Quote{}, err
	}
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

// GetQuotes retrieves the latest quotes for multiple tickers using a
// pipeline. Tickers whose keys do not exist are silently omitted from the
// result map.
func (pc *PriceCache) GetQuotes(ctx context.Context, tickers []string) (map[string]domain.Quote, error) {
	if len(tickers) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(tickers))
	for _, t := range tickers {
		cmds[t] = pipe.HGetAll(ctx, priceKey(t))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.Quote, len(tickers))
	for t, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		q, ok, err := parseQuote(t, vals)
		if err != nil || !ok {
			continue
		}
		result[t] = q
	}

	return result, nil
}

func parseQuote(ticker string, vals map[string]string) (domain.Quote, bool, error) {
	if len(vals) == 0 {
		return domain.Quote{}, false, nil
	}
	priceStr, ok := vals["price"]
	if !ok {
		return domain.Quote{}, false, nil
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("redis: parse price %s: %w", ticker, err)
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, false, nil
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("redis: parse ts %s: %w", ticker, err)
	}
	return domain.Quote{Ticker: ticker, Price: price, AsOf: time.Unix(0, tsNano)}, true, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
