// Package angelone integrates the AngelOne SmartAPI: a REST client for
// quotes and daily candles, and a websocket feed that streams ticks into the
// price cache.
package angelone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alphadeck/stockpilot/internal/domain"
	"github.com/alphadeck/stockpilot/internal/risk"
)

const (
	quotePath  = "/rest/secure/angelbroking/market/v1/quote/"
	candlePath = "/rest/secure/angelbroking/historical/v1/getCandleData"

	// apiRateKey throttles all SmartAPI REST calls under one shared budget.
	apiRateKey = "angelone:rest"
	apiRate    = 10 // requests per second allowed by SmartAPI market endpoints

	atrPeriod      = 14
	recentLowDays  = 10
	candleLookback = 30
)

// ClientConfig holds SmartAPI credentials and the instrument token map.
type ClientConfig struct {
	BaseURL    string
	ApiKey     string
	ClientCode string
	// AccessToken is the JWT obtained at login, decrypted from the keystore.
	AccessToken string
	// SymbolTokens maps tickers to NSE instrument tokens.
	SymbolTokens map[string]string
}

// Client is the SmartAPI REST client. It implements domain.QuoteProvider and
// the monitor's indicator source.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    domain.RateLimiter
}

// NewClient creates a SmartAPI REST client. limiter may be nil, in which
// case requests are not throttled client-side.
func NewClient(cfg ClientConfig, limiter domain.RateLimiter) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    limiter,
	}
}

var _ domain.QuoteProvider = (*Client)(nil)

type quoteRequest struct {
	Mode           string              `json:"mode"`
	ExchangeTokens map[string][]string `json:"exchangeTokens"`
}

type quoteResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Fetched []struct {
			Token         string  `json:"symbolToken"`
			TradingSymbol string  `json:"tradingSymbol"`
			LTP           float64 `json:"ltp"`
			ExchTradeTime string  `json:"exchTradeTime"`
		} `json:"fetched"`
	} `json:"data"`
}

// Quote fetches the last traded price for one ticker.
func (c *Client) Quote(ctx context.Context, ticker string) (domain.Quote, error) {
	quotes, err := c.Quotes(ctx, []string{ticker})
	if err != nil {
		return domain.Quote{}, err
	}
	q, ok := quotes[ticker]
	if !ok {
		return domain.Quote{}, fmt.Errorf("angelone: quote %s: %w", ticker, domain.ErrNotFound)
	}
	return q, nil
}

// Quotes fetches last traded prices for multiple tickers in one call.
// Tickers without a known instrument token are omitted from the result.
func (c *Client) Quotes(ctx context.Context, tickers []string) (map[string]domain.Quote, error) {
	tokens := make([]string, 0, len(tickers))
	byToken := make(map[string]string, len(tickers))
	for _, t := range tickers {
		token, ok := c.cfg.SymbolTokens[t]
		if !ok {
			continue
		}
		tokens = append(tokens, token)
		byToken[token] = t
	}
	if len(tokens) == 0 {
		return map[string]domain.Quote{}, nil
	}

	reqBody := quoteRequest{
		Mode:           "LTP",
		ExchangeTokens: map[string][]string{"NSE": tokens},
	}
	var resp quoteResponse
	if err := c.post(ctx, quotePath, reqBody, &resp); err != nil {
		return nil, fmt.Errorf("angelone: quotes: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("angelone: quotes rejected: %s", resp.Message)
	}

	now := time.Now()
	quotes := make(map[string]domain.Quote, len(resp.Data.Fetched))
	for _, f := range resp.Data.Fetched {
		ticker, ok := byToken[f.Token]
		if !ok || f.LTP <= 0 {
			continue
		}
		quotes[ticker] = domain.Quote{Ticker: ticker, Price: f.LTP, AsOf: now}
	}
	return quotes, nil
}

type candleRequest struct {
	Exchange    string `json:"exchange"`
	SymbolToken string `json:"symboltoken"`
	Interval    string `json:"interval"`
	FromDate    string `json:"fromdate"`
	ToDate      string `json:"todate"`
}

type candleResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    [][]json.Number `json:"data"`
}

// Indicators computes the ATR and recent swing low from daily candles. It
// satisfies the monitor's indicator source.
func (c *Client) Indicators(ctx context.Context, ticker string) (float64, float64, error) {
	token, ok := c.cfg.SymbolTokens[ticker]
	if !ok {
		return 0, 0, fmt.Errorf("angelone: indicators %s: %w", ticker, domain.ErrNotFound)
	}

	to := time.Now()
	from := to.AddDate(0, 0, -candleLookback)
	reqBody := candleRequest{
		Exchange:    "NSE",
		SymbolToken: token,
		Interval:    "ONE_DAY",
		FromDate:    from.Format("2006-01-02 15:04"),
		ToDate:      to.Format("2006-01-02 15:04"),
	}

	var resp candleResponse
	if err := c.post(ctx, candlePath, reqBody, &resp); err != nil {
		return 0, 0, fmt.Errorf("angelone: candles %s: %w", ticker, err)
	}
	if !resp.Status {
		return 0, 0, fmt.Errorf("angelone: candles %s rejected: %s", ticker, resp.Message)
	}

	// Rows are [timestamp, open, high, low, close, volume].
	bars := make([]risk.Bar, 0, len(resp.Data))
	for _, row := range resp.Data {
		if len(row) < 6 {
			continue
		}
		high, err1 := row[2].Float64()
		low, err2 := row[3].Float64()
		cl, err3 := row[4].Float64()
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		bars = append(bars, risk.Bar{High: high, Low: low, Close: cl})
	}
	if len(bars) == 0 {
		return 0, 0, fmt.Errorf("angelone: candles %s: empty response", ticker)
	}

	atr := risk.ATR(bars, atrPeriod)

	start := len(bars) - recentLowDays
	if start < 0 {
		start = 0
	}
	recentLow := bars[start].Low
	for _, b := range bars[start:] {
		if b.Low < recentLow {
			recentLow = b.Low
		}
	}
	return atr, recentLow, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c.limiter != nil {
		if allowed, err := c.limiter.Allow(ctx, apiRateKey, apiRate, time.Second); err == nil && !allowed {
			if err := c.limiter.Wait(ctx, apiRateKey); err != nil {
				return err
			}
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-PrivateKey", c.cfg.ApiKey)
	req.Header.Set("X-ClientCode", c.cfg.ClientCode)
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
