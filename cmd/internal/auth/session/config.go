package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls refresh rate limiting, grant retention after expiry, sweep
// cadence, and input bounds. It is intentionally explicit and
// environment-driven so production deployments can tune security parameters
// without code changes.
type Config struct {
	// RefreshLimitMax is the number of refresh attempts allowed per principal
	// within RefreshLimitWindow.
	RefreshLimitMax int

	// RefreshLimitWindow is the sliding window for refresh rate limiting.
	RefreshLimitWindow time.Duration

	// GrantRetention is how long revoked/expired grants are kept past their
	// expiry before the sweeper deletes them. Retention past active expiry is
	// intentional: rotated grants are the forensic evidence for reuse detection.
	GrantRetention time.Duration

	// SweepInterval is the cadence of the background maintenance sweep.
	SweepInterval time.Duration

	// MaxTokenIDBytes bounds the accepted length of token identifiers.
	MaxTokenIDBytes int
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		RefreshLimitMax:    10,
		RefreshLimitWindow: 60 * time.Second,
		GrantRetention:     30 * 24 * time.Hour,
		SweepInterval:      10 * time.Minute,
		MaxTokenIDBytes:    4096,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - RELAY_AUTH_REFRESH_LIMIT_MAX
//   - RELAY_AUTH_REFRESH_LIMIT_WINDOW
//   - RELAY_AUTH_GRANT_RETENTION
//   - RELAY_AUTH_SWEEP_INTERVAL
//   - RELAY_AUTH_MAX_TOKEN_ID_BYTES
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("RELAY_AUTH_REFRESH_LIMIT_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshLimitMax = n
	}

	if v := os.Getenv("RELAY_AUTH_REFRESH_LIMIT_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshLimitWindow = d
	}

	if v := os.Getenv("RELAY_AUTH_GRANT_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.GrantRetention = d
	}

	if v := os.Getenv("RELAY_AUTH_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepInterval = d
	}

	if v := os.Getenv("RELAY_AUTH_MAX_TOKEN_ID_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 64 || n > 1<<16 {
			return Config{}, ErrConfig
		}
		cfg.MaxTokenIDBytes = n
	}

	return cfg, nil
}
