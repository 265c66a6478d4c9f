// Package config holds the runtime configuration for the engine: logging,
// scheduler tuning, and the optional Redis backends. Values load from a
// YAML file with environment overrides, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Redis holds connection settings for the Redis-backed store, ledger, and
// event stream. An empty Addr selects the in-memory implementations.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config is the full runtime configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Workers bounds concurrent node dispatch within one execution.
	Workers int `yaml:"workers"`
	// SettleTimeout is the grace window before a starved execution is
	// declared failed.
	SettleTimeout time.Duration `yaml:"settle_timeout"`
	// NodeCost is the credit charge per completed node execution. Zero
	// disables billing and the balance gate entirely.
	NodeCost int64 `yaml:"node_cost"`

	Redis Redis `yaml:"redis"`
	// EventStream names the Redis stream execution and ledger events are
	// published to. Ignored without a Redis address.
	EventStream string `yaml:"event_stream"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		LogLevel:      "info",
		LogFormat:     "text",
		Workers:       4,
		SettleTimeout: 5 * time.Second,
		NodeCost:      1,
		EventStream:   "agentgrid:events",
	}
}

// Load reads the YAML file at path, if non-empty, and applies environment
// overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AGENTGRID_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("AGENTGRID_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("AGENTGRID_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv("AGENTGRID_SETTLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SettleTimeout = d
		}
	}
	if v := os.Getenv("AGENTGRID_NODE_COST"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.NodeCost = n
		}
	}
	if v := os.Getenv("AGENTGRID_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("AGENTGRID_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("AGENTGRID_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	if c.SettleTimeout <= 0 {
		return fmt.Errorf("config: settle_timeout must be positive, got %s", c.SettleTimeout)
	}
	if c.NodeCost < 0 {
		return fmt.Errorf("config: node_cost must not be negative, got %d", c.NodeCost)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}
