package angelone

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alphadeck/stockpilot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// ltpPacketMin is the minimum length of an LTP-mode binary tick.
	ltpPacketMin = 51

	exchangeNSE = 1
	modeLTP     = 1
)

// Feed streams LTP ticks from the SmartAPI websocket into the price cache.
// It reconnects with exponential backoff and restores its subscription after
// each reconnect.
type Feed struct {
	wsURL       string
	apiKey      string
	clientCode  string
	accessToken string

	prices domain.PriceCache
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	tickers map[string]string // instrument token -> ticker
}

// NewFeed creates a Feed publishing into prices. symbolTokens maps tickers
// to NSE instrument tokens, as in ClientConfig.
func NewFeed(wsURL string, cfg ClientConfig, prices domain.PriceCache, logger *slog.Logger) *Feed {
	byToken := make(map[string]string, len(cfg.SymbolTokens))
	for ticker, token := range cfg.SymbolTokens {
		byToken[token] = ticker
	}
	return &Feed{
		wsURL:       wsURL,
		apiKey:      cfg.ApiKey,
		clientCode:  cfg.ClientCode,
		accessToken: cfg.AccessToken,
		prices:      prices,
		logger:      logger.With(slog.String("component", "angelone_feed")),
		tickers:     byToken,
	}
}

// Run connects and pumps ticks until the context is cancelled, reconnecting
// on any failure.
func (f *Feed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := f.connectAndPump(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.WarnContext(ctx, "feed disconnected, reconnecting",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *Feed) connectAndPump(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	header := map[string][]string{
		"Authorization": {"Bearer " + f.accessToken},
		"x-api-key":     {f.apiKey},
		"x-client-code": {f.clientCode},
		"x-feed-token":  {f.accessToken},
	}

	conn, _, err := dialer.DialContext(ctx, f.wsURL, header)
	if err != nil {
		return fmt.Errorf("angelone/ws: connect: %w", err)
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := f.subscribe(conn); err != nil {
		return err
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("angelone/ws: read: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		f.handleTick(ctx, payload)
	}
}

// subscribe sends the LTP-mode subscription for every known token.
func (f *Feed) subscribe(conn *websocket.Conn) error {
	tokens := make([]string, 0, len(f.tickers))
	for token := range f.tickers {
		tokens = append(tokens, token)
	}

	req := map[string]any{
		"correlationID": "stockpilot-feed",
		"action":        1,
		"params": map[string]any{
			"mode": modeLTP,
			"tokenList": []map[string]any{
				{"exchangeType": exchangeNSE, "tokens": tokens},
			},
		},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("angelone/ws: marshal subscribe: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("angelone/ws: subscribe: %w", err)
	}
	return nil
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// handleTick decodes one LTP-mode binary packet: the instrument token sits
// in bytes 2..27 as a null-padded string and the last traded price in
// paise as a little-endian int64 at offset 43.
func (f *Feed) handleTick(ctx context.Context, payload []byte) {
	if len(payload) < ltpPacketMin {
		return
	}

	token := string(bytes.TrimRight(payload[2:27], "\x00"))
	ticker, ok := f.tickers[token]
	if !ok {
		return
	}

	paise := int64(binary.LittleEndian.Uint64(payload[43:51]))
	if paise <= 0 {
		return
	}

	q := domain.Quote{
		Ticker: ticker,
		Price:  float64(paise) / 100,
		AsOf:   time.Now(),
	}
	if err := f.prices.SetQuote(ctx, q); err != nil {
		f.logger.WarnContext(ctx, "price cache write failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()))
	}
}
