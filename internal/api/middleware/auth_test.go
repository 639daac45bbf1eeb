package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// storeWithKey builds a key store holding a single active key whose presented
// form is keyID.secret.
func storeWithKey(t *testing.T, keyID, sourceID, secret string) *InMemoryKeyStore {
	t.Helper()

	hash, err := HashAPIKey(secret)
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v", err)
	}

	store := NewInMemoryKeyStore()
	if err := store.Add(&APIKey{
		ID:       keyID,
		SourceID: sourceID,
		Name:     keyID,
		Hash:     hash,
		Active:   true,
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	return store
}

func TestExtractAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		headers   map[string]string
		wantKey   string
		wantFound bool
	}{
		{
			name:      "x-api-key header",
			headers:   map[string]string{"X-Api-Key": "key-1.secret"},
			wantKey:   "key-1.secret",
			wantFound: true,
		},
		{
			name:      "bearer token",
			headers:   map[string]string{"Authorization": "Bearer key-1.secret"},
			wantKey:   "key-1.secret",
			wantFound: true,
		},
		{
			name:      "x-api-key takes precedence",
			headers:   map[string]string{"X-Api-Key": "primary", "Authorization": "Bearer secondary"},
			wantKey:   "primary",
			wantFound: true,
		},
		{
			name:      "no headers",
			headers:   map[string]string{},
			wantFound: false,
		},
		{
			name:      "newline injection rejected",
			headers:   map[string]string{"X-Api-Key": "key\rwith\nnewlines"},
			wantFound: false,
		},
		{
			name:      "whitespace only rejected",
			headers:   map[string]string{"X-Api-Key": "   "},
			wantFound: false,
		},
		{
			name:      "authorization without bearer prefix",
			headers:   map[string]string{"Authorization": "Basic dXNlcjpwYXNz"},
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/queues/messages", nil)
			for k, v := range tt.headers {
				// Header.Set rejects values containing newlines, so write
				// the raw header map directly.
				r.Header[http.CanonicalHeaderKey(k)] = []string{v}
			}

			key, found := extractAPIKey(r)
			if found != tt.wantFound {
				t.Fatalf("extractAPIKey() found = %v, want %v", found, tt.wantFound)
			}

			if found && key != tt.wantKey {
				t.Errorf("extractAPIKey() = %q, want %q", key, tt.wantKey)
			}
		})
	}
}

func TestAuthenticateSourceValidKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := storeWithKey(t, "key-1", "source-a", "s3cret")

	var captured SourceContext

	var authenticated bool

	handler := AuthenticateSource(store, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured, authenticated = GetSourceContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}),
	)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/queues/messages", nil)
	r.Header.Set("X-Api-Key", "key-1.s3cret")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	if !authenticated {
		t.Fatal("handler ran without a source context")
	}

	if captured.SourceID != "source-a" || captured.KeyID != "key-1" {
		t.Errorf("SourceContext = %+v, want source-a/key-1", captured)
	}
}

func TestAuthenticateSourceRejections(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	expired := time.Now().Add(-time.Hour)

	hash, err := HashAPIKey("s3cret")
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v", err)
	}

	tests := []struct {
		name       string
		key        *APIKey
		presented  string
		wantStatus int
	}{
		{
			name:       "missing key",
			key:        &APIKey{ID: "key-1", SourceID: "source-a", Hash: hash, Active: true},
			presented:  "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			key:        &APIKey{ID: "key-1", SourceID: "source-a", Hash: hash, Active: true},
			presented:  "key-1.wrong",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown key id",
			key:        &APIKey{ID: "key-1", SourceID: "source-a", Hash: hash, Active: true},
			presented:  "key-9.s3cret",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed presented key",
			key:        &APIKey{ID: "key-1", SourceID: "source-a", Hash: hash, Active: true},
			presented:  "no-separator",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "inactive key",
			key:        &APIKey{ID: "key-1", SourceID: "source-a", Hash: hash, Active: false},
			presented:  "key-1.s3cret",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "expired key",
			key:        &APIKey{ID: "key-1", SourceID: "source-a", Hash: hash, Active: true, ExpiresAt: &expired},
			presented:  "key-1.s3cret",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewInMemoryKeyStore()
			if err := store.Add(tt.key); err != nil {
				t.Fatalf("Add() error = %v", err)
			}

			handler := AuthenticateSource(store, discardLogger())(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					t.Error("handler must not run for rejected requests")
				}),
			)

			r := httptest.NewRequest(http.MethodPost, "/api/v1/queues/messages", nil)
			if tt.presented != "" {
				r.Header.Set("X-Api-Key", tt.presented)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("Content-Type = %q, want application/problem+json", ct)
			}
		})
	}
}

func TestAuthenticateSourcePublicEndpointBypass(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	RegisterPublicEndpoint("/ping-bypass-test")

	store := &MockKeyStore{
		FindByIDFunc: func(_ context.Context, _ string) (*APIKey, bool) {
			t.Error("key store must not be consulted for public endpoints")

			return nil, false
		},
	}

	handler := AuthenticateSource(store, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	r := httptest.NewRequest(http.MethodGet, "/ping-bypass-test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
