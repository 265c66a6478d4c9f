package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.SettleTimeout)
	assert.Equal(t, int64(1), cfg.NodeCost)
	assert.Empty(t, cfg.Redis.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
log_format: json
workers: 8
settle_timeout: 30s
node_cost: 3
redis:
  addr: localhost:6379
  db: 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.SettleTimeout)
	assert.Equal(t, int64(3), cfg.NodeCost)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)

	t.Run("missing file errors", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.ErrorContains(t, err, "reading")
	})

	t.Run("empty path loads defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Workers)
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTGRID_LOG_LEVEL", "warn")
	t.Setenv("AGENTGRID_WORKERS", "12")
	t.Setenv("AGENTGRID_SETTLE_TIMEOUT", "2s")
	t.Setenv("AGENTGRID_NODE_COST", "0")
	t.Setenv("AGENTGRID_REDIS_ADDR", "redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 12, cfg.Workers)
	assert.Equal(t, 2*time.Second, cfg.SettleTimeout)
	assert.Equal(t, int64(0), cfg.NodeCost)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers must be positive"},
		{"negative settle", func(c *Config) { c.SettleTimeout = -time.Second }, "settle_timeout must be positive"},
		{"negative node cost", func(c *Config) { c.NodeCost = -1 }, "node_cost must not be negative"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format must be text or json"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.wantErr)
		})
	}
}
