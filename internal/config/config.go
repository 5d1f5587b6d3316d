// Package config loads spyglass configuration from an optional TOML file
// with SPYGLASS_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all tunables for the engine and its HTTP front.
type Config struct {
	// Listen is the HTTP API listen address.
	Listen string `toml:"listen"`

	// LogLevel is debug/info/warn/error.
	LogLevel string `toml:"log_level"`

	// LogFormat is text or json.
	LogFormat string `toml:"log_format"`

	// CallTimeout is the default deadline for unary invocations when the
	// caller does not supply one.
	CallTimeout time.Duration `toml:"call_timeout"`

	// ProbeTimeout bounds each reflection dialect negotiation attempt.
	ProbeTimeout time.Duration `toml:"probe_timeout"`

	// DiscoveryBatchSize caps concurrent descriptor fetches per batch.
	DiscoveryBatchSize int `toml:"discovery_batch_size"`

	// MaxRecoveryDepth bounds the missing-type recovery loop during decode.
	MaxRecoveryDepth int `toml:"max_recovery_depth"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:             ":8480",
		LogLevel:           "info",
		LogFormat:          "text",
		CallTimeout:        30 * time.Second,
		ProbeTimeout:       5 * time.Second,
		DiscoveryBatchSize: 4,
		MaxRecoveryDepth:   50,
	}
}

// Load reads an optional TOML file and applies environment overrides on top
// of the defaults. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv reads SPYGLASS_* environment variables over the current values.
func (c *Config) applyEnv() {
	if v := os.Getenv("SPYGLASS_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("SPYGLASS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SPYGLASS_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("SPYGLASS_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CallTimeout = d
		}
	}
	if v := os.Getenv("SPYGLASS_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ProbeTimeout = d
		}
	}
	if v := os.Getenv("SPYGLASS_DISCOVERY_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DiscoveryBatchSize = n
		}
	}
}

func (c *Config) validate() error {
	if c.DiscoveryBatchSize < 1 {
		return fmt.Errorf("discovery_batch_size must be at least 1, got %d", c.DiscoveryBatchSize)
	}
	if c.MaxRecoveryDepth < 1 {
		return fmt.Errorf("max_recovery_depth must be at least 1, got %d", c.MaxRecoveryDepth)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive, got %v", c.ProbeTimeout)
	}
	return nil
}
