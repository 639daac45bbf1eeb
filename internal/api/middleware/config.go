// Package middleware provides HTTP middleware components for the lakefeed API.
package middleware

import (
	"time"

	"github.com/lakefeed-io/lakefeed/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: applied to all requests
//   - Per-source: applied to authenticated requests
//   - Unauthenticated: applied to requests without a source identity
//
// Burst capacity allows temporary bursts above the sustained rate. If burst
// fields are 0, they are computed automatically as 2x rate.
type Config struct {
	GlobalRPS int // Default: 100
	SourceRPS int // Default: 50
	UnAuthRPS int // Default: 10

	// Optional burst capacity overrides (0 = compute automatically as 2x rate).
	GlobalBurst int
	SourceBurst int
	UnAuthBurst int

	// Memory cleanup configuration.
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxSources      int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback
// to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("LAKEFEED_GLOBAL_RPS", defaultGlobalRPS),
		SourceRPS: config.GetEnvInt("LAKEFEED_SOURCE_RPS", defaultSourceRPS),
		UnAuthRPS: config.GetEnvInt("LAKEFEED_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst: config.GetEnvInt("LAKEFEED_GLOBAL_BURST", 0),
		SourceBurst: config.GetEnvInt("LAKEFEED_SOURCE_BURST", 0),
		UnAuthBurst: config.GetEnvInt("LAKEFEED_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"LAKEFEED_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("LAKEFEED_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxSources:  config.GetEnvInt("LAKEFEED_RATE_LIMIT_MAX_SOURCES", maxSources),
	}
}
