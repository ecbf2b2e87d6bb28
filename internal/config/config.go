// Package config defines the top-level configuration for the trading agent
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CRYPTOAGENT_* environment variables.
type Config struct {
	Agent     AgentConfig     `toml:"agent"`
	Pricefeed PricefeedConfig `toml:"pricefeed"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// AgentConfig holds the agent's identity and trading parameters.
type AgentConfig struct {
	ID                  string   `toml:"id"`
	InitialBalance      float64  `toml:"initial_balance"`
	RiskLevel           string   `toml:"risk_level"`
	MaxPositions        int      `toml:"max_positions"`
	RebalanceInterval   duration `toml:"rebalance_interval"`
	MonitorSymbols      []string `toml:"monitor_symbols"`
	PriceAlertThreshold float64  `toml:"price_alert_threshold"`
	// AutoStart launches the autonomous loop on boot instead of waiting for
	// POST /api/agent/start.
	AutoStart bool `toml:"auto_start"`
	// AnalysisThreshold is the momentum move (percent) that produces an
	// analysis insight.
	AnalysisThreshold float64 `toml:"analysis_threshold"`
}

// PricefeedConfig holds price source endpoints and polling parameters.
type PricefeedConfig struct {
	BinanceURL   string   `toml:"binance_url"`
	CoinGeckoURL string   `toml:"coingecko_url"`
	PollInterval duration `toml:"poll_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty Addr-style
// config with Enabled=false keeps the agent on in-memory persistence.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds trade-history archival parameters. Archival requires
// the S3 section to be enabled.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Agent: AgentConfig{
			ID:                  "agent_default",
			InitialBalance:      10000,
			RiskLevel:           "moderate",
			MaxPositions:        10,
			RebalanceInterval:   duration{time.Hour},
			MonitorSymbols:      []string{"BTCUSDT", "ETHUSDT", "ADAUSDT"},
			PriceAlertThreshold: 5.0,
			AutoStart:           true,
			AnalysisThreshold:   2.0,
		},
		Pricefeed: PricefeedConfig{
			BinanceURL:   "https://api.binance.com",
			CoinGeckoURL: "https://api.coingecko.com",
			PollInterval: duration{60 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "cryptoagent",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cryptoagent-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 2 * * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       0,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trade_failed", "market_alert"},
		},
		LogLevel: "info",
	}
}

// validRiskLevels enumerates the accepted values for Agent.RiskLevel.
var validRiskLevels = map[string]bool{
	"conservative": true,
	"moderate":     true,
	"aggressive":   true,
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

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Agent
	if strings.TrimSpace(c.Agent.ID) == "" {
		errs = append(errs, "agent: id must not be empty")
	}
	if c.Agent.InitialBalance <= 0 {
		errs = append(errs, "agent: initial_balance must be > 0")
	}
	if !validRiskLevels[strings.ToLower(c.Agent.RiskLevel)] {
		errs = append(errs, fmt.Sprintf("agent: unknown risk_level %q (valid: conservative, moderate, aggressive)", c.Agent.RiskLevel))
	}
	if c.Agent.MaxPositions < 1 {
		errs = append(errs, "agent: max_positions must be >= 1")
	}
	if c.Agent.RebalanceInterval.Duration <= 0 {
		errs = append(errs, "agent: rebalance_interval must be > 0")
	}
	if len(c.Agent.MonitorSymbols) == 0 {
		errs = append(errs, "agent: monitor_symbols must not be empty")
	}
	if c.Agent.PriceAlertThreshold <= 0 {
		errs = append(errs, "agent: price_alert_threshold must be > 0")
	}

	// Pricefeed
	if c.Pricefeed.BinanceURL == "" && c.Pricefeed.CoinGeckoURL == "" {
		errs = append(errs, "pricefeed: at least one of binance_url or coingecko_url must be set")
	}
	if c.Pricefeed.PollInterval.Duration <= 0 {
		errs = append(errs, "pricefeed: poll_interval must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 + archive
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Telegram needs both token and chat id.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
