// Package middleware provides HTTP middleware components for the lakefeed API.
package middleware

import (
	"context"
)

// MockKeyStore is a mock implementation of KeyStore for testing.
type MockKeyStore struct {
	FindByIDFunc func(ctx context.Context, keyID string) (*APIKey, bool)
}

// FindByID implements KeyStore.FindByID.
func (m *MockKeyStore) FindByID(ctx context.Context, keyID string) (*APIKey, bool) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, keyID)
	}

	return nil, false
}

// MockRateLimiter is a mock implementation of RateLimiter for testing.
type MockRateLimiter struct {
	AllowFunc func(sourceID string) bool
}

// Allow implements RateLimiter.Allow.
func (m *MockRateLimiter) Allow(sourceID string) bool {
	if m.AllowFunc != nil {
		return m.AllowFunc(sourceID)
	}

	return true
}

var (
	_ KeyStore    = (*MockKeyStore)(nil)
	_ RateLimiter = (*MockRateLimiter)(nil)
)
