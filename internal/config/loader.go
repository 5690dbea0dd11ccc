package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies STOCKPILOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known STOCKPILOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.ApiKey, "STOCKPILOT_BROKER_API_KEY")
	setStr(&cfg.Broker.ClientCode, "STOCKPILOT_BROKER_CLIENT_CODE")
	setStr(&cfg.Broker.BaseURL, "STOCKPILOT_BROKER_BASE_URL")
	setStr(&cfg.Broker.WsURL, "STOCKPILOT_BROKER_WS_URL")
	setStr(&cfg.Broker.AccessToken, "STOCKPILOT_BROKER_ACCESS_TOKEN")
	setStr(&cfg.Broker.EncryptedTokenPath, "STOCKPILOT_BROKER_ENCRYPTED_TOKEN_PATH")
	setStr(&cfg.Broker.TokenPassword, "STOCKPILOT_BROKER_TOKEN_PASSWORD")

	// ── Database ──
	setStr(&cfg.Database.DSN, "STOCKPILOT_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "STOCKPILOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "STOCKPILOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "STOCKPILOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "STOCKPILOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "STOCKPILOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "STOCKPILOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "STOCKPILOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "STOCKPILOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "STOCKPILOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "STOCKPILOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "STOCKPILOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STOCKPILOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STOCKPILOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STOCKPILOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STOCKPILOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STOCKPILOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "STOCKPILOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STOCKPILOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "STOCKPILOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STOCKPILOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STOCKPILOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STOCKPILOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STOCKPILOT_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setDuration(&cfg.Engine.PriceMaxAge, "STOCKPILOT_ENGINE_PRICE_MAX_AGE")
	setDuration(&cfg.Engine.MonitorInterval, "STOCKPILOT_ENGINE_MONITOR_INTERVAL")
	setDuration(&cfg.Engine.LockTTL, "STOCKPILOT_ENGINE_LOCK_TTL")
	setStr(&cfg.Engine.MarketClose, "STOCKPILOT_ENGINE_MARKET_CLOSE")
	setStr(&cfg.Engine.Timezone, "STOCKPILOT_ENGINE_TIMEZONE")
	setFloat64(&cfg.Engine.Daily.InitialCapital, "STOCKPILOT_ENGINE_DAILY_INITIAL_CAPITAL")
	setInt(&cfg.Engine.Daily.MaxPositions, "STOCKPILOT_ENGINE_DAILY_MAX_POSITIONS")
	setFloat64(&cfg.Engine.Swing.InitialCapital, "STOCKPILOT_ENGINE_SWING_INITIAL_CAPITAL")
	setInt(&cfg.Engine.Swing.MaxPositions, "STOCKPILOT_ENGINE_SWING_MAX_POSITIONS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "STOCKPILOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "STOCKPILOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "STOCKPILOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "STOCKPILOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STOCKPILOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STOCKPILOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STOCKPILOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STOCKPILOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "STOCKPILOT_MODE")
	setStr(&cfg.LogLevel, "STOCKPILOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
