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
// built-in defaults, applies CRYPTOAGENT_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known CRYPTOAGENT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Agent ──
	setStr(&cfg.Agent.ID, "CRYPTOAGENT_AGENT_ID")
	setFloat64(&cfg.Agent.InitialBalance, "CRYPTOAGENT_AGENT_INITIAL_BALANCE")
	setStr(&cfg.Agent.RiskLevel, "CRYPTOAGENT_AGENT_RISK_LEVEL")
	setInt(&cfg.Agent.MaxPositions, "CRYPTOAGENT_AGENT_MAX_POSITIONS")
	setDuration(&cfg.Agent.RebalanceInterval, "CRYPTOAGENT_AGENT_REBALANCE_INTERVAL")
	setStringSlice(&cfg.Agent.MonitorSymbols, "CRYPTOAGENT_AGENT_MONITOR_SYMBOLS")
	setFloat64(&cfg.Agent.PriceAlertThreshold, "CRYPTOAGENT_AGENT_PRICE_ALERT_THRESHOLD")
	setBool(&cfg.Agent.AutoStart, "CRYPTOAGENT_AGENT_AUTO_START")
	setFloat64(&cfg.Agent.AnalysisThreshold, "CRYPTOAGENT_AGENT_ANALYSIS_THRESHOLD")

	// ── Pricefeed ──
	setStr(&cfg.Pricefeed.BinanceURL, "CRYPTOAGENT_PRICEFEED_BINANCE_URL")
	setStr(&cfg.Pricefeed.CoinGeckoURL, "CRYPTOAGENT_PRICEFEED_COINGECKO_URL")
	setDuration(&cfg.Pricefeed.PollInterval, "CRYPTOAGENT_PRICEFEED_POLL_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CRYPTOAGENT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CRYPTOAGENT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CRYPTOAGENT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CRYPTOAGENT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CRYPTOAGENT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CRYPTOAGENT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CRYPTOAGENT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CRYPTOAGENT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CRYPTOAGENT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CRYPTOAGENT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CRYPTOAGENT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CRYPTOAGENT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CRYPTOAGENT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CRYPTOAGENT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CRYPTOAGENT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CRYPTOAGENT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CRYPTOAGENT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CRYPTOAGENT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CRYPTOAGENT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CRYPTOAGENT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CRYPTOAGENT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CRYPTOAGENT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CRYPTOAGENT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CRYPTOAGENT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CRYPTOAGENT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CRYPTOAGENT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "CRYPTOAGENT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "CRYPTOAGENT_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CRYPTOAGENT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CRYPTOAGENT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CRYPTOAGENT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CRYPTOAGENT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CRYPTOAGENT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "CRYPTOAGENT_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CRYPTOAGENT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CRYPTOAGENT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CRYPTOAGENT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CRYPTOAGENT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CRYPTOAGENT_LOG_LEVEL")
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
