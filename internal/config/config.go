// Package config loads the service configuration from environment variables.
// Values are read once at startup; the running service does not react to
// later changes.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mrm/emergencystop/internal/auth"
	"github.com/mrm/emergencystop/internal/control"
	"github.com/mrm/emergencystop/internal/stream"
)

// Config is the full service configuration.
type Config struct {
	HTTPAddr  string `env:"MRM_HTTP_ADDR" envDefault:":8080"`
	EnableH2C bool   `env:"MRM_HTTP_H2C" envDefault:"false"`
	LogLevel  string `env:"MRM_LOG_LEVEL" envDefault:"info"`

	UpdateRate           int     `env:"MRM_UPDATE_RATE" envDefault:"30"`
	TargetAcceleration   float64 `env:"MRM_TARGET_ACCELERATION" envDefault:"-2.5"`
	TargetJerk           float64 `env:"MRM_TARGET_JERK" envDefault:"-1.5"`
	SteeringHandlingType int     `env:"MRM_STEERING_HANDLING_TYPE" envDefault:"0"`

	AuthEnabled bool   `env:"MRM_AUTH_ENABLED" envDefault:"false"`
	AuthToken   string `env:"MRM_AUTH_TOKEN"`

	StreamMaxConcurrentPerIP int           `env:"MRM_STREAM_MAX_CONCURRENT" envDefault:"10"`
	StreamMaxConcurrent      int           `env:"MRM_STREAM_MAX_TOTAL" envDefault:"100"`
	StreamKeepalive          time.Duration `env:"MRM_STREAM_KEEPALIVE_INTERVAL" envDefault:"30s"`
	TrustProxy               bool          `env:"MRM_TRUST_PROXY" envDefault:"false"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the env tags cannot express.
func (c Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("operator params: %w", err)
	}
	if c.AuthEnabled && c.AuthToken == "" {
		return fmt.Errorf("MRM_AUTH_TOKEN is required when auth is enabled")
	}
	if c.StreamMaxConcurrentPerIP < 1 {
		return fmt.Errorf("MRM_STREAM_MAX_CONCURRENT must be >= 1, got %d", c.StreamMaxConcurrentPerIP)
	}
	if c.StreamKeepalive <= 0 {
		return fmt.Errorf("MRM_STREAM_KEEPALIVE_INTERVAL must be positive, got %s", c.StreamKeepalive)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Params returns the operator parameters.
func (c Config) Params() control.Params {
	return control.Params{
		UpdateRate:           c.UpdateRate,
		TargetAcceleration:   c.TargetAcceleration,
		TargetJerk:           c.TargetJerk,
		SteeringHandlingType: c.SteeringHandlingType,
	}
}

// Auth returns the auth middleware configuration.
func (c Config) Auth() auth.Config {
	return auth.Config{Enabled: c.AuthEnabled, Token: c.AuthToken}
}

// Stream returns the SSE configuration.
func (c Config) Stream() stream.Config {
	return stream.Config{
		MaxConcurrentPerIP: c.StreamMaxConcurrentPerIP,
		MaxConcurrent:      c.StreamMaxConcurrent,
		KeepaliveInterval:  c.StreamKeepalive,
		TrustProxy:         c.TrustProxy,
	}
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("MRM_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// LogValue summarises the configuration for the startup log. The auth token is omitted.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("http_addr", c.HTTPAddr),
		slog.Bool("h2c", c.EnableH2C),
		slog.Int("update_rate", c.UpdateRate),
		slog.Float64("target_acceleration", c.TargetAcceleration),
		slog.Float64("target_jerk", c.TargetJerk),
		slog.Int("steering_handling_type", c.SteeringHandlingType),
		slog.Bool("auth_enabled", c.AuthEnabled),
		slog.Int("stream_max_concurrent_per_ip", c.StreamMaxConcurrentPerIP),
		slog.Float64("stream_keepalive_seconds", c.StreamKeepalive.Seconds()),
		slog.Bool("trust_proxy", c.TrustProxy),
	)
}
