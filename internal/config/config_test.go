package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.RiskLevel = "reckless"
	cfg.Agent.InitialBalance = 0
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk_level")
	assert.Contains(t, err.Error(), "initial_balance")
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidateTelegramPair(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")

	cfg.Notify.TelegramChatID = "12345"
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[agent]
id = "agent_test"
risk_level = "aggressive"
rebalance_interval = "30m"
monitor_symbols = ["SOLUSDT"]

[server]
port = 9000
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "agent_test", cfg.Agent.ID)
	assert.Equal(t, "aggressive", cfg.Agent.RiskLevel)
	assert.Equal(t, 30*time.Minute, cfg.Agent.RebalanceInterval.Duration)
	assert.Equal(t, []string{"SOLUSDT"}, cfg.Agent.MonitorSymbols)
	assert.Equal(t, 9000, cfg.Server.Port)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10000.0, cfg.Agent.InitialBalance)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[agent]
id = "agent_file"
`), 0o600))

	t.Setenv("CRYPTOAGENT_AGENT_ID", "agent_env")
	t.Setenv("CRYPTOAGENT_SERVER_API_KEY", "secret")
	t.Setenv("CRYPTOAGENT_AGENT_MONITOR_SYMBOLS", "BTCUSDT, ETHUSDT")
	t.Setenv("CRYPTOAGENT_AGENT_REBALANCE_INTERVAL", "15m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "agent_env", cfg.Agent.ID)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Agent.MonitorSymbols)
	assert.Equal(t, 15*time.Minute, cfg.Agent.RebalanceInterval.Duration)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "secret"
	cfg.S3.SecretKey = "aws-secret"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.S3.SecretKey)

	// Original untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	// Mutating the redacted copy's slices must not leak back.
	red.Agent.MonitorSymbols[0] = "changed"
	assert.Equal(t, "BTCUSDT", cfg.Agent.MonitorSymbols[0])
}
