// Package config loads the gateway's YAML configuration. Values may
// reference environment variables with ${VAR} syntax.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	DB         DBConfig      `yaml:"db"`
	Engine     EngineConfig  `yaml:"engine"`
	Notify     NotifyConfig  `yaml:"notify"`
	Archive    ArchiveConfig `yaml:"archive"`
	Log        LogConfig     `yaml:"log"`
}

type DBConfig struct {
	// Driver is "sqlite", "postgres", or empty for the in-memory store.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type EngineConfig struct {
	PaymentRetryLimit int `yaml:"payment_retry_limit"`
	// HandlerTimeout is a Go duration string, e.g. "10s".
	HandlerTimeout string `yaml:"handler_timeout"`
}

// Timeout parses HandlerTimeout, zero when unset.
func (c EngineConfig) Timeout() (time.Duration, error) {
	if c.HandlerTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.HandlerTimeout)
}

type NotifyConfig struct {
	Enabled      bool    `yaml:"enabled"`
	PollInterval string  `yaml:"poll_interval"`
	RatePerSec   float64 `yaml:"rate_per_sec"`
}

// Interval parses PollInterval, zero when unset.
func (c NotifyConfig) Interval() (time.Duration, error) {
	if c.PollInterval == "" {
		return 0, nil
	}
	return time.ParseDuration(c.PollInterval)
}

type ArchiveConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	if c.DB.Driver != "" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.driver is set")
	}
	switch c.DB.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("db.driver must be sqlite or postgres, got %q", c.DB.Driver)
	}

	if c.Engine.PaymentRetryLimit < 0 {
		return fmt.Errorf("engine.payment_retry_limit must not be negative")
	}
	if _, err := c.Engine.Timeout(); err != nil {
		return fmt.Errorf("engine.handler_timeout: %w", err)
	}
	if _, err := c.Notify.Interval(); err != nil {
		return fmt.Errorf("notify.poll_interval: %w", err)
	}
	if c.Notify.RatePerSec < 0 {
		return fmt.Errorf("notify.rate_per_sec must not be negative")
	}

	return nil
}
