// Package config defines the top-level configuration for the risk engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by STOCKPILOT_* environment variables.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BrokerConfig holds AngelOne SmartAPI credentials and endpoints. The access
// token comes either from access_token directly or from an encrypted file
// written by crypto.EncryptToken. SymbolTokens maps tickers to NSE instrument
// tokens for quote lookups and the websocket feed.
type BrokerConfig struct {
	ApiKey             string            `toml:"api_key"`
	ClientCode         string            `toml:"client_code"`
	AccessToken        string            `toml:"access_token"`
	BaseURL            string            `toml:"base_url"`
	WsURL              string            `toml:"ws_url"`
	EncryptedTokenPath string            `toml:"encrypted_token_path"`
	TokenPassword      string            `toml:"token_password"`
	SymbolTokens       map[string]string `toml:"symbol_tokens"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for trade and
// snapshot archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ProfitLockTier maps an unrealized gain band to a locked-in floor above
// entry. Tiers are evaluated in order; the first match wins.
type ProfitLockTier struct {
	MinPnLPct float64 `toml:"min_pnl_pct"`
	LockPct   float64 `toml:"lock_pct"`
}

// TierConfig defines one quality tier for allocation: the score/RS bands that
// qualify a candidate, the slice of the category budget reserved for the
// tier, how many picks it admits, and per-position size clamps.
type TierConfig struct {
	MinScore    float64 `toml:"min_score"`
	MinRS       float64 `toml:"min_rs"`
	BudgetPct   float64 `toml:"budget_pct"`
	MaxPicks    int     `toml:"max_picks"`
	MinPosition float64 `toml:"min_position"`
	MaxPosition float64 `toml:"max_position"`
}

// StrategyParams is the immutable parameter block for one strategy pool.
// Both pools get their own copy so the daily and swing books can diverge
// without shared state.
type StrategyParams struct {
	InitialCapital float64 `toml:"initial_capital"`
	MaxPositions   int     `toml:"max_positions"`

	// Stop layers. Final stop is the tightest (maximum) of the layers.
	FixedStopPct         float64 `toml:"fixed_stop_pct"`
	ATRMultiplier        float64 `toml:"atr_multiplier"`
	ChandelierMultiplier float64 `toml:"chandelier_multiplier"`
	SupportStopPct       float64 `toml:"support_stop_pct"`

	TakeProfitPct float64 `toml:"take_profit_pct"`

	MaxHoldDays      int `toml:"max_hold_days"`
	ExtendedHoldDays int `toml:"extended_hold_days"`

	// Profit lock: after ProfitLockAfterDays while profitable, a floor above
	// entry is locked per the tier table and the hold horizon extends to
	// ExtendedHoldDays.
	ProfitLockAfterDays int              `toml:"profit_lock_after_days"`
	ProfitLockTiers     []ProfitLockTier `toml:"profit_lock_tiers"`
	LockedTargetPct     float64          `toml:"locked_target_pct"`
	LockedTrailPct      float64          `toml:"locked_trail_pct"`

	// Circuit breaker, measured against entry price.
	DrawdownAlertPct float64 `toml:"drawdown_alert_pct"`
	HardStopPct      float64 `toml:"hard_stop_pct"`

	RecentLossCooldownDays int `toml:"recent_loss_cooldown_days"`

	// Category budget split, must sum to 1.
	LargeCapPct float64 `toml:"large_cap_pct"`
	MidCapPct   float64 `toml:"mid_cap_pct"`
	MicroCapPct float64 `toml:"micro_cap_pct"`

	TierA TierConfig `toml:"tier_a"`
	TierB TierConfig `toml:"tier_b"`
	TierC TierConfig `toml:"tier_c"`
}

// RegimeConfig scales sizing per market regime. In risk-off posture only
// top-tier candidates are admitted.
type RegimeConfig struct {
	RiskOnMultiplier  float64 `toml:"risk_on_multiplier"`
	NeutralMultiplier float64 `toml:"neutral_multiplier"`
	RiskOffMultiplier float64 `toml:"risk_off_multiplier"`
}

// EngineConfig holds the shared engine knobs plus both strategy blocks.
type EngineConfig struct {
	Daily  StrategyParams `toml:"daily"`
	Swing  StrategyParams `toml:"swing"`
	Regime RegimeConfig   `toml:"regime"`

	PriceMaxAge     duration `toml:"price_max_age"`
	MonitorInterval duration `toml:"monitor_interval"`
	LockTTL         duration `toml:"lock_ttl"`

	// MarketClose is the local wall-clock time (HH:MM) at which manual
	// overrides and circuit-breaker holds expire.
	MarketClose string `toml:"market_close"`
	Timezone    string `toml:"timezone"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// defaultSwingParams returns the swing-pool parameter block the engine has
// run with in production.
func defaultSwingParams() StrategyParams {
	return StrategyParams{
		InitialCapital:       500_000,
		MaxPositions:         10,
		FixedStopPct:         0.04,
		ATRMultiplier:        2.0,
		ChandelierMultiplier: 2.5,
		SupportStopPct:       0.02,
		TakeProfitPct:        0.12,
		MaxHoldDays:          10,
		ExtendedHoldDays:     15,
		ProfitLockAfterDays:  8,
		ProfitLockTiers: []ProfitLockTier{
			{MinPnLPct: 5.0, LockPct: 0.03},
			{MinPnLPct: 3.0, LockPct: 0.02},
			{MinPnLPct: 0.0, LockPct: 0.01},
		},
		LockedTargetPct:        0.01,
		LockedTrailPct:         0.02,
		DrawdownAlertPct:       0.03,
		HardStopPct:            0.05,
		RecentLossCooldownDays: 7,
		LargeCapPct:            0.60,
		MidCapPct:              0.20,
		MicroCapPct:            0.20,
		TierA: TierConfig{
			MinScore:    70,
			MinRS:       90,
			BudgetPct:   0.60,
			MaxPicks:    2,
			MinPosition: 50_000,
			MaxPosition: 100_000,
		},
		TierB: TierConfig{
			MinScore:    65,
			MinRS:       70,
			BudgetPct:   0.20,
			MaxPicks:    2,
			MinPosition: 40_000,
			MaxPosition: 70_000,
		},
		TierC: TierConfig{
			MinScore:    60,
			MinRS:       60,
			BudgetPct:   0.20,
			MaxPicks:    2,
			MinPosition: 20_000,
			MaxPosition: 40_000,
		},
	}
}

// defaultDailyParams derives the daily-pool block: tighter stops, shorter
// horizon, no profit-lock extension.
func defaultDailyParams() StrategyParams {
	p := defaultSwingParams()
	p.InitialCapital = 300_000
	p.MaxPositions = 6
	p.FixedStopPct = 0.03
	p.TakeProfitPct = 0.06
	p.MaxHoldDays = 5
	p.ExtendedHoldDays = 5
	p.ProfitLockAfterDays = 0 // disabled
	p.ProfitLockTiers = nil
	return p
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			BaseURL: "https://apiconnect.angelone.in",
			WsURL:   "wss://smartapisocket.angelone.in/smart-stream",
		},
		Database: DatabaseConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "stockpilot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "ap-south-1",
			Bucket:         "stockpilot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			Daily: defaultDailyParams(),
			Swing: defaultSwingParams(),
			Regime: RegimeConfig{
				RiskOnMultiplier:  1.0,
				NeutralMultiplier: 0.75,
				RiskOffMultiplier: 0.5,
			},
			PriceMaxAge:     duration{5 * time.Minute},
			MonitorInterval: duration{1 * time.Minute},
			LockTTL:         duration{30 * time.Second},
			MarketClose:     "15:30",
			Timezone:        "Asia/Kolkata",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{
				"position.opened", "position.closed", "stop.updated",
				"profitlock.activated", "drawdown.alert", "ledger.drift",
			},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor":  true,
	"allocate": true,
	"server":   true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, allocate, server, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Broker.EncryptedTokenPath != "" && c.Broker.TokenPassword == "" {
		errs = append(errs, "broker: token_password is required when encrypted_token_path is set")
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	errs = append(errs, validateStrategyParams("engine.daily", c.Engine.Daily)...)
	errs = append(errs, validateStrategyParams("engine.swing", c.Engine.Swing)...)

	if c.Engine.PriceMaxAge.Duration <= 0 {
		errs = append(errs, "engine: price_max_age must be > 0")
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be > 0")
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("engine: unknown timezone %q", c.Engine.Timezone))
	}
	if _, err := time.Parse("15:04", c.Engine.MarketClose); err != nil {
		errs = append(errs, fmt.Sprintf("engine: market_close must be HH:MM, got %q", c.Engine.MarketClose))
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateStrategyParams(prefix string, p StrategyParams) []string {
	var errs []string

	if p.InitialCapital <= 0 {
		errs = append(errs, prefix+": initial_capital must be > 0")
	}
	if p.MaxPositions < 1 {
		errs = append(errs, prefix+": max_positions must be >= 1")
	}
	if p.FixedStopPct <= 0 || p.FixedStopPct >= 1 {
		errs = append(errs, prefix+": fixed_stop_pct must be in (0, 1)")
	}
	if p.TakeProfitPct <= 0 {
		errs = append(errs, prefix+": take_profit_pct must be > 0")
	}
	if p.MaxHoldDays < 1 {
		errs = append(errs, prefix+": max_hold_days must be >= 1")
	}
	if p.ExtendedHoldDays < p.MaxHoldDays {
		errs = append(errs, prefix+": extended_hold_days must be >= max_hold_days")
	}
	if p.HardStopPct < p.DrawdownAlertPct {
		errs = append(errs, prefix+": hard_stop_pct must be >= drawdown_alert_pct")
	}
	if sum := p.LargeCapPct + p.MidCapPct + p.MicroCapPct; sum < 0.999 || sum > 1.001 {
		errs = append(errs, fmt.Sprintf("%s: category budget split must sum to 1, got %.3f", prefix, sum))
	}
	for i := 1; i < len(p.ProfitLockTiers); i++ {
		if p.ProfitLockTiers[i].MinPnLPct >= p.ProfitLockTiers[i-1].MinPnLPct {
			errs = append(errs, prefix+": profit_lock_tiers must be ordered by descending min_pnl_pct")
			break
		}
	}
	return errs
}

// Params returns the parameter block for the given strategy name
// ("daily" or "swing"); ok is false for anything else.
func (e EngineConfig) Params(strategy string) (StrategyParams, bool) {
	switch strings.ToLower(strategy) {
	case "daily":
		return e.Daily, true
	case "swing":
		return e.Swing, true
	}
	return StrategyParams{}, false
}
