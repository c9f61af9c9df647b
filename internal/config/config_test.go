package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
broker:
  api_url: "https://demo.tradovateapi.com/v1"
  username: "trader"
  password: "secret"
`

func TestLoad_MinimalConfigGetsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9981", cfg.App.HTTPAddr)

	assert.Equal(t, 1500, cfg.Gate.MinIntervalMS)
	assert.Equal(t, 3, cfg.Gate.MaxAttempts)
	assert.Equal(t, 2000, cfg.Gate.BackoffBaseMS)
	assert.Equal(t, 3600000, cfg.Gate.CaptchaPenaltyMS)
	assert.Equal(t, 10, cfg.Gate.HealthyQueueMax)

	assert.Equal(t, 300000, cfg.Polling.Idle.BalanceMS)
	assert.Equal(t, 120000, cfg.Polling.Idle.PositionsMS)
	assert.Equal(t, 60000, cfg.Polling.Active.BalanceMS)
	assert.Equal(t, 10000, cfg.Polling.Active.OrdersMS)
	assert.Equal(t, 5000, cfg.Polling.Critical.PositionsMS)
	assert.Equal(t, 2, cfg.Polling.CriticalPositions)
	assert.Equal(t, 3, cfg.Polling.CriticalOrders)
	assert.Equal(t, 600000, cfg.Polling.OverrideDurationMS)

	assert.Equal(t, 600000, cfg.Cache.StaleAfterMS)
	assert.Equal(t, 10*time.Minute, cfg.Cache.StaleAfter())
	assert.Equal(t, 1500*time.Millisecond, cfg.Gate.MinInterval())
	assert.Equal(t, 10*time.Minute, cfg.Polling.OverrideDuration())
}

func TestLoad_ExplicitValuesSurviveDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  log_level: debug
  http_addr: ":8088"
broker:
  api_url: "https://live.tradovateapi.com/v1"
  username: "trader"
gate:
  min_interval_ms: 2500
  max_attempts: 5
polling:
  critical_positions: 4
  idle:
    balance_ms: 999000
cache:
  stale_after_ms: 120000
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":8088", cfg.App.HTTPAddr)
	assert.Equal(t, 2500, cfg.Gate.MinIntervalMS)
	assert.Equal(t, 5, cfg.Gate.MaxAttempts)
	assert.Equal(t, 4, cfg.Polling.CriticalPositions)
	assert.Equal(t, 999000, cfg.Polling.Idle.BalanceMS)
	// Unset siblings still fall back.
	assert.Equal(t, 120000, cfg.Polling.Idle.PositionsMS)
	assert.Equal(t, 2*time.Minute, cfg.Cache.StaleAfter())
}

func TestLoad_Validation(t *testing.T) {
	t.Run("missing api url", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
broker:
  username: "trader"
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_url")
	})

	t.Run("missing username", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
broker:
  api_url: "https://demo.tradovateapi.com/v1"
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "username")
	})

	t.Run("excessive gate attempts", func(t *testing.T) {
		_, err := Load(writeConfig(t, minimalConfig+`
gate:
  max_attempts: 50
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_attempts")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestDump_MasksCredentials(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "trader")
	assert.Contains(t, out, "***")
	assert.NotContains(t, out, "secret")
}
