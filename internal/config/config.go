// Package config defines all configuration for the trading control plane.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TRADER_* environment variables.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Store      StoreConfig      `mapstructure:"store"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
}

// SchedulerConfig tunes the strategy scheduler tick loop.
//
//   - TickPeriodSeconds: wall-clock period of the tick loop.
//   - WorkerPoolSize: bounded pool for per-strategy checks.
//   - MinCheckIntervalSeconds: floor for LiveStrategy cadences; smaller
//     cadences are rejected at the control surface.
type SchedulerConfig struct {
	TickPeriodSeconds       int `mapstructure:"tick_period_seconds"`
	WorkerPoolSize          int `mapstructure:"worker_pool_size"`
	MinCheckIntervalSeconds int `mapstructure:"min_check_interval_seconds"`
}

// TickPeriod returns the tick period as a duration.
func (c SchedulerConfig) TickPeriod() time.Duration {
	return time.Duration(c.TickPeriodSeconds) * time.Second
}

// MinCheckInterval returns the cadence floor as a duration.
func (c SchedulerConfig) MinCheckInterval() time.Duration {
	return time.Duration(c.MinCheckIntervalSeconds) * time.Second
}

// RetryConfig shapes the executor's exponential backoff on transient
// broker faults: base * factor^attempt, up to MaxAttempts submissions.
type RetryConfig struct {
	BaseMs      int     `mapstructure:"base_ms"`
	Factor      float64 `mapstructure:"factor"`
	MaxAttempts int     `mapstructure:"max_attempts"`
}

// Base returns the initial backoff as a duration.
func (r RetryConfig) Base() time.Duration {
	return time.Duration(r.BaseMs) * time.Millisecond
}

// ExecutorConfig tunes order submission.
type ExecutorConfig struct {
	Retry RetryConfig `mapstructure:"retry"`
	// Per-owner broker rate limit: bucket capacity and refill per second.
	RateBurst     float64 `mapstructure:"rate_burst"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// OptimizerConfig tunes the backtest sweep.
type OptimizerConfig struct {
	WorkerPoolSize int `mapstructure:"worker_pool_size"`
}

// RiskConfig sets account-wide risk defaults applied when a LiveStrategy
// doesn't override them.
type RiskConfig struct {
	DefaultPositionSizePct float64 `mapstructure:"default_position_size_pct"`
	RiskPerTrade           float64 `mapstructure:"risk_per_trade"` // equity fraction risked when a stop is set
}

// BrokerConfig holds broker endpoints and credentials. Key/Secret come
// from TRADER_BROKER_KEY / TRADER_BROKER_SECRET in production.
type BrokerConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	PaperURL string `mapstructure:"paper_url"`
	Key      string `mapstructure:"key"`
	Secret   string `mapstructure:"secret"`
}

// MarketDataConfig holds the bars endpoint. With an empty BaseURL the
// process falls back to deterministic synthetic bars (dry runs, tests).
type MarketDataConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Feed      string `mapstructure:"feed"`
	Timeframe string `mapstructure:"timeframe"` // bar interval for live checks
}

// StoreConfig selects state persistence. With an empty DatabaseURL the
// process runs on the in-memory store (tests, local dry runs).
type StoreConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
}

// NotifyConfig selects notification delivery. With an empty URL
// notifications go to the log sink only.
type NotifyConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"` // subject prefix, default "notify"
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the operator dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: TRADER_BROKER_KEY, TRADER_BROKER_SECRET,
// TRADER_DATABASE_URL, TRADER_NATS_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("TRADER_BROKER_KEY"); key != "" {
		cfg.Broker.Key = key
	}
	if secret := os.Getenv("TRADER_BROKER_SECRET"); secret != "" {
		cfg.Broker.Secret = secret
	}
	if dsn := os.Getenv("TRADER_DATABASE_URL"); dsn != "" {
		cfg.Store.DatabaseURL = dsn
	}
	if url := os.Getenv("TRADER_NATS_URL"); url != "" {
		cfg.Notify.NATSURL = url
	}
	if os.Getenv("TRADER_DRY_RUN") == "true" || os.Getenv("TRADER_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// setDefaults registers the documented defaults so a minimal YAML file
// still yields a runnable configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.tick_period_seconds", 60)
	v.SetDefault("scheduler.worker_pool_size", 8)
	v.SetDefault("scheduler.min_check_interval_seconds", 60)
	v.SetDefault("executor.retry.base_ms", 500)
	v.SetDefault("executor.retry.factor", 2.0)
	v.SetDefault("executor.retry.max_attempts", 4)
	v.SetDefault("executor.rate_burst", 20)
	v.SetDefault("executor.rate_per_second", 3)
	v.SetDefault("optimizer.worker_pool_size", runtime.NumCPU())
	v.SetDefault("risk.default_position_size_pct", 0.02)
	v.SetDefault("risk.risk_per_trade", 0.01)
	v.SetDefault("market_data.timeframe", "5Min")
	v.SetDefault("notify.subject", "notify")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.port", 8090)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Scheduler.TickPeriodSeconds <= 0 {
		return fmt.Errorf("scheduler.tick_period_seconds must be > 0")
	}
	if c.Scheduler.WorkerPoolSize <= 0 {
		return fmt.Errorf("scheduler.worker_pool_size must be > 0")
	}
	if c.Scheduler.MinCheckIntervalSeconds < 60 {
		return fmt.Errorf("scheduler.min_check_interval_seconds must be >= 60")
	}
	if c.Executor.Retry.MaxAttempts < 1 {
		return fmt.Errorf("executor.retry.max_attempts must be >= 1")
	}
	if c.Executor.Retry.Factor < 1 {
		return fmt.Errorf("executor.retry.factor must be >= 1")
	}
	if c.Optimizer.WorkerPoolSize <= 0 {
		return fmt.Errorf("optimizer.worker_pool_size must be > 0")
	}
	if c.Risk.DefaultPositionSizePct <= 0 || c.Risk.DefaultPositionSizePct > 1 {
		return fmt.Errorf("risk.default_position_size_pct must be in (0, 1]")
	}
	if !c.DryRun && c.Broker.BaseURL == "" && c.Broker.PaperURL == "" {
		return fmt.Errorf("broker.base_url or broker.paper_url is required unless dry_run is set")
	}
	return nil
}
