// Package middleware provides HTTP middleware components for the lakefeed API.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier int = 2
	maxSources              int = 10000
	defaultGlobalRPS        int = 100
	defaultSourceRPS        int = 50
	defaultUnAuthRPS        int = 10

	sourceWarnThreshold float64 = 0.8

	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node
	// deployment) or a distributed store when running multiple replicas.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		//
		// For authenticated requests, sourceID identifies the ingestion
		// source. For unauthenticated requests, sourceID is empty.
		Allow(sourceID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Three-tier token bucket limiting:
	// 1. Global limit (all requests)
	// 2. Per-source limit (authenticated requests)
	// 3. Unauthenticated limit (requests without a source)
	//
	// A cleanup goroutine removes source limiters idle longer than
	// IdleTimeout to keep memory bounded.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perSource       map[string]*sourceLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		sourceRPS       int
		sourceBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxSources      int
	}

	// sourceLimiter tracks rate limit state for a single ingestion source.
	sourceLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

var _ RateLimiter = (*InMemoryRateLimiter)(nil)

// NewInMemoryRateLimiter creates an in-memory rate limiter with three-tier
// limits. Burst capacity is computed as 2x rate unless overridden in config.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	sourceBurst := computeBurstCapacity(config.SourceRPS, config.SourceBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perSource:       make(map[string]*sourceLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		sourceRPS:       config.SourceRPS,
		sourceBurst:     sourceBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxSources:      config.MaxSources,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity returns the burst override when set, otherwise 2x rate.
func computeBurstCapacity(rps, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rps * burstCapacityMultiplier
}

// Allow checks if a request should be allowed based on rate limits.
//
// Tier 1 is the global limit, checked first. Tier 2 is the per-source limit
// for authenticated requests, or the unauthenticated limit otherwise.
func (rl *InMemoryRateLimiter) Allow(sourceID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if sourceID == "" {
		return rl.unauthenticated.Allow()
	}

	rl.mu.RLock()
	sl, ok := rl.perSource[sourceID]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Double-check after acquiring the write lock.
		if sl, ok = rl.perSource[sourceID]; !ok {
			sl = &sourceLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.sourceRPS), rl.sourceBurst),
				lastAccess: time.Now(),
			}

			rl.perSource[sourceID] = sl

			currentCount := len(rl.perSource)
			if currentCount >= int(float64(rl.maxSources)*sourceWarnThreshold) {
				slog.Warn("rate limiter approaching max sources limit",
					"current_sources", currentCount,
					"max_sources", rl.maxSources,
				)
			}
		}

		rl.mu.Unlock()
	}

	sl.mu.Lock()
	sl.lastAccess = time.Now()
	sl.mu.Unlock()

	return sl.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
//
// Close is not part of the RateLimiter interface so that implementations
// without cleanup needs stay trivial. Use a type assertion if cleanup is
// needed.
func (rl *InMemoryRateLimiter) Close() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)
}

// startCleanup starts a background goroutine that periodically removes stale
// source limiters.
func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes source limiters that have not been accessed recently.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for sourceID, sl := range rl.perSource {
		sl.mu.Lock()
		lastAccess := sl.lastAccess
		sl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perSource, sourceID)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming
// requests. Requests over the limit receive a 429 with an RFC 7807 body.
//
// The middleware must be placed after authentication in the chain so that
// per-source limits see the SourceContext. Public endpoints bypass rate
// limiting entirely.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			sourceID := ""
			if sourceCtx, ok := GetSourceContext(r.Context()); ok {
				sourceID = sourceCtx.SourceID
			}

			if !limiter.Allow(sourceID) {
				correlationID := GetCorrelationID(r.Context())

				logger.Warn("Request rate limited",
					slog.String("source_id", sourceID),
					slog.String("correlation_id", correlationID),
					slog.String("endpoint", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)

				if err := writeProblem(
					w, r,
					http.StatusTooManyRequests,
					"Request rate limit exceeded",
					correlationID,
				); err != nil {
					logger.Error("Failed to encode rate limit error response",
						slog.String("correlation_id", correlationID),
						slog.Any("encode_error", err),
					)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
