// Package middleware provides HTTP middleware components for the lakefeed API.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// publicEndpoints defines public endpoints that bypass authentication.
// These endpoints are accessible without API keys (health probes, monitoring).
//
// Security note: only health check endpoints belong in this map. Never add
// ingestion endpoints to this bypass list.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint registers an endpoint that bypasses authentication
// and per-source rate limiting. This should only be called during route setup
// for health check endpoints.
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

type (
	// AuthError represents an authentication error with a specific type.
	AuthError struct {
		Type    error
		Message string
	}

	// SourceContext carries the authenticated ingestion source through the
	// request context. Set by the authentication middleware, read by rate
	// limiting and handlers.
	SourceContext struct {
		SourceID string
		Name     string
		KeyID    string
		AuthTime time.Time
	}

	// sourceContextKey is the context key for SourceContext.
	sourceContextKey struct{}
)

// Authentication error types for granular error handling.
var (
	// ErrMissingAPIKey is returned when no API key is provided in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned for invalid API key format or not found.
	// Generic error prevents enumeration attacks.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrAPIKeyExpired is returned when the API key has expired.
	ErrAPIKeyExpired = errors.New("API key expired")

	// ErrAPIKeyInactive is returned when the API key is inactive (soft-deleted).
	ErrAPIKeyInactive = errors.New("API key inactive")
)

// Error implements the error interface for AuthError.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

// Unwrap returns the wrapped error type, enabling standard errors.Is() behavior.
func (e *AuthError) Unwrap() error {
	return e.Type
}

// SetSourceContext stores the authenticated source in the request context.
func SetSourceContext(ctx context.Context, source SourceContext) context.Context {
	return context.WithValue(ctx, sourceContextKey{}, source)
}

// GetSourceContext extracts the authenticated source from the request context.
func GetSourceContext(ctx context.Context) (SourceContext, bool) {
	source, ok := ctx.Value(sourceContextKey{}).(SourceContext)

	return source, ok
}

// extractAPIKey extracts the API key from request headers. It checks the
// X-Api-Key header first, then falls back to Authorization: Bearer.
//
// Keys containing newlines are rejected to prevent header injection.
func extractAPIKey(r *http.Request) (string, bool) {
	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		return validateAPIKey(apiKey)
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return validateAPIKey(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return "", false
}

// validateAPIKey validates and cleans an API key value.
func validateAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// Timing attack prevention: perform a dummy bcrypt comparison so that the
// unknown-key path costs as much as the known-key path.
func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword([]byte("dummy"), []byte("dummy"))
}

// authenticateRequest performs API key authentication and validation.
// Returns the authenticated API key or an AuthError.
//
// The presented key format is keyID.secret: the identifier selects the
// stored hash, the secret is verified against it with bcrypt. Not-found and
// bad-secret both map to the generic ErrInvalidAPIKey.
func authenticateRequest(ctx context.Context, store KeyStore, presented string) (*APIKey, error) {
	keyID, secret, found := strings.Cut(presented, ".")
	if !found || keyID == "" || secret == "" {
		performDummyBcryptComparison()

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "Invalid or missing API key"}
	}

	foundKey, exists := store.FindByID(ctx, keyID)
	if !exists {
		performDummyBcryptComparison()

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "Invalid or missing API key"}
	}

	if !CompareAPIKeyHash(foundKey.Hash, secret) {
		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "Invalid or missing API key"}
	}

	if !foundKey.Active {
		return nil, &AuthError{Type: ErrAPIKeyInactive, Message: "API key is inactive"}
	}

	if foundKey.ExpiresAt != nil && time.Now().After(*foundKey.ExpiresAt) {
		return nil, &AuthError{Type: ErrAPIKeyExpired, Message: "API key has expired"}
	}

	return foundKey, nil
}

// AuthenticateSource creates an authentication middleware that validates API
// keys and enriches the request context with the ingestion source identity.
//
// Public endpoints registered via RegisterPublicEndpoint bypass
// authentication entirely.
func AuthenticateSource(store KeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			authStart := time.Now()

			apiKey, found := extractAPIKey(r)
			if !found {
				writeAuthError(w, r, logger, &AuthError{
					Type:    ErrMissingAPIKey,
					Message: "Missing API key",
				})

				return
			}

			authenticated, err := authenticateRequest(r.Context(), store, apiKey)
			if err != nil {
				writeAuthError(w, r, logger, err)

				return
			}

			sourceCtx := SourceContext{
				SourceID: authenticated.SourceID,
				Name:     authenticated.Name,
				KeyID:    authenticated.ID,
				AuthTime: time.Now(),
			}
			ctx := SetSourceContext(r.Context(), sourceCtx)

			logger.Info("API key authenticated",
				slog.String("source_id", sourceCtx.SourceID),
				slog.String("key_id", sourceCtx.KeyID),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError writes an RFC 7807 compliant error response for
// authentication failures and logs the failure.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	statusCode := http.StatusUnauthorized

	var authErr *AuthError
	if errors.As(err, &authErr) && errors.Is(authErr.Type, ErrAPIKeyInactive) {
		statusCode = http.StatusForbidden
	}

	// No sensitive data in the log line.
	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
	)

	if err := writeProblem(w, r, statusCode, err.Error(), correlationID); err != nil {
		logger.Error("Failed to encode authentication error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Any("encode_error", err),
		)
	}
}
