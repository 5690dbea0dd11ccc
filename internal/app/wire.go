package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alphadeck/stockpilot/internal/blob/s3"
	"github.com/alphadeck/stockpilot/internal/cache/redis"
	"github.com/alphadeck/stockpilot/internal/config"
	"github.com/alphadeck/stockpilot/internal/crypto"
	"github.com/alphadeck/stockpilot/internal/domain"
	"github.com/alphadeck/stockpilot/internal/ledger"
	"github.com/alphadeck/stockpilot/internal/notify"
	"github.com/alphadeck/stockpilot/internal/platform/angelone"
	"github.com/alphadeck/stockpilot/internal/server/handler"
	"github.com/alphadeck/stockpilot/internal/service"
	"github.com/alphadeck/stockpilot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	TradeStore    domain.TradeStore
	CapitalStore  domain.CapitalStore
	SnapshotStore domain.SnapshotStore

	// Caches
	PriceCache    domain.PriceCache
	OverrideCache domain.OverrideCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	Bus           domain.EventPublisher

	// Ledger
	Book *ledger.Ledger

	// Services
	Entries   *service.EntryService
	Monitor   *service.MonitorService
	Overrides *service.OverrideService
	Snapshots *service.SnapshotService
	Clock     *service.TradingClock

	// Broker
	Broker *angelone.Client
	Feed   *angelone.Feed

	// Notifications
	Notifier *notify.Notifier

	// Health probes, keyed by dependency name.
	Pingers map[string]handler.Pinger
}

// pingerFunc adapts a plain probe function to handler.Pinger.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsBroker returns true for modes that talk to the SmartAPI.
func needsBroker(mode string) bool {
	switch mode {
	case "monitor", "allocate", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	capitalStore := postgres.NewCapitalStore(pool)
	deps.CapitalStore = capitalStore
	deps.SnapshotStore = postgres.NewSnapshotStore(pool)
	deps.Pingers["postgres"] = pingerFunc(pool.Ping)

	// Seed both strategy pools on first run.
	if err := capitalStore.Ensure(ctx, domain.StrategyDaily, cfg.Engine.Daily.InitialCapital); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed daily pool: %w", err)
	}
	if err := capitalStore.Ensure(ctx, domain.StrategySwing, cfg.Engine.Swing.InitialCapital); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed swing pool: %w", err)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.OverrideCache = redis.NewOverrideCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)
	deps.Pingers["redis"] = pingerFunc(redisClient.Ping)

	// --- S3 archival ---
	var archiver service.Archiver
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		// Archival is best-effort; the engine still runs with database-only
		// snapshots.
		logger.WarnContext(ctx, "wire: s3 unavailable, snapshots stay database-only",
			slog.String("error", err.Error()))
	} else {
		closers = append(closers, func() { _ = s3Client.Close() })
		archiver = s3blob.NewArchiver(s3Client, logger)
		deps.Pingers["s3"] = pingerFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Trading clock ---
	clock, err := service.NewTradingClock(cfg.Engine.Timezone, cfg.Engine.MarketClose)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: trading clock: %w", err)
	}
	deps.Clock = clock

	// --- Ledger ---
	deps.Book = ledger.New(capitalStore, deps.PositionStore, capitalStore, logger)

	// --- Broker (only for modes that fetch quotes or indicators) ---
	var indicators service.IndicatorSource
	if needsBroker(cfg.Mode) {
		token, err := crypto.LoadToken(crypto.TokenConfig{
			RawToken:           cfg.Broker.AccessToken,
			EncryptedTokenPath: cfg.Broker.EncryptedTokenPath,
			Password:           cfg.Broker.TokenPassword,
		})
		if err != nil {
			logger.WarnContext(ctx, "wire: broker token unavailable, running without live data",
				slog.String("error", err.Error()))
		} else {
			brokerCfg := angelone.ClientConfig{
				BaseURL:      cfg.Broker.BaseURL,
				ApiKey:       cfg.Broker.ApiKey,
				ClientCode:   cfg.Broker.ClientCode,
				AccessToken:  token,
				SymbolTokens: cfg.Broker.SymbolTokens,
			}
			deps.Broker = angelone.NewClient(brokerCfg, deps.RateLimiter)
			indicators = deps.Broker
			if cfg.Broker.WsURL != "" {
				deps.Feed = angelone.NewFeed(cfg.Broker.WsURL, brokerCfg, deps.PriceCache, logger)
			}
		}
	}

	// --- Services ---
	deps.Entries = service.NewEntryService(
		deps.Book, deps.PositionStore, deps.TradeStore,
		deps.LockManager, deps.Bus, deps.Notifier,
		cfg.Engine, logger,
	)
	deps.Monitor = service.NewMonitorService(
		deps.Book, deps.PositionStore, deps.PriceCache, deps.OverrideCache,
		deps.LockManager, indicators, deps.Bus, deps.Notifier,
		clock, cfg.Engine, logger,
	)
	deps.Overrides = service.NewOverrideService(deps.PositionStore, deps.OverrideCache, clock, logger)
	deps.Snapshots = service.NewSnapshotService(
		deps.Book, deps.SnapshotStore, deps.TradeStore,
		archiver, deps.Bus, deps.Notifier, clock, logger,
	)

	return deps, cleanup, nil
}
