// Package middleware provides HTTP middleware components for the lakefeed API.
package middleware

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost defines the computational cost for bcrypt hashing.
	// Cost 10 is roughly 60ms per hash, a reasonable balance for an
	// ingestion API where keys are validated once per request.
	bcryptCost  = 10
	bcryptLimit = 72

	// keyPartCount is keyID:sourceID:secret.
	keyPartCount = 3

	maskVisibleChars = 4
)

var (
	// ErrKeyNil indicates a nil or empty API key was supplied to the store.
	ErrKeyNil = errors.New("api key cannot be nil or empty")

	// ErrKeyAlreadyExists indicates an API key with the same ID is already stored.
	ErrKeyAlreadyExists = errors.New("api key already exists")

	// ErrMalformedKeySpec indicates an environment key entry that does not
	// follow the keyID:sourceID:secret format.
	ErrMalformedKeySpec = errors.New("malformed api key entry")
)

type (
	// APIKey is one ingestion credential. The secret is never stored in
	// plaintext; only the bcrypt hash is kept.
	APIKey struct {
		// ID is the public key identifier, presented alongside the secret.
		ID string

		// SourceID identifies the ingestion source the key belongs to.
		SourceID string

		// Name is a human-readable label for the key.
		Name string

		// Hash is the bcrypt hash of the key secret.
		Hash string

		// Active marks whether the key may authenticate. Inactive keys are
		// soft-deleted.
		Active bool

		// ExpiresAt is the optional expiry instant. Nil means no expiry.
		ExpiresAt *time.Time
	}

	// KeyStore looks up ingestion credentials by key identifier.
	//
	// Implementations may be in-memory (keys seeded from the environment) or
	// backed by a database when key management moves server-side.
	KeyStore interface {
		// FindByID retrieves an API key by its public identifier.
		FindByID(ctx context.Context, keyID string) (*APIKey, bool)
	}

	// InMemoryKeyStore provides thread-safe in-memory storage for API keys.
	InMemoryKeyStore struct {
		keys  map[string]*APIKey
		mutex sync.RWMutex
	}
)

var _ KeyStore = (*InMemoryKeyStore)(nil)

// NewInMemoryKeyStore creates a new thread-safe in-memory key store.
func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{
		keys: make(map[string]*APIKey),
	}
}

// FindByID retrieves an API key by its public identifier.
func (s *InMemoryKeyStore) FindByID(_ context.Context, keyID string) (*APIKey, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	apiKey, exists := s.keys[keyID]
	if !exists {
		return nil, false
	}

	// Return a copy to prevent external modification.
	keyCopy := *apiKey

	return &keyCopy, true
}

// Add stores a new API key.
func (s *InMemoryKeyStore) Add(apiKey *APIKey) error {
	if apiKey == nil || apiKey.ID == "" {
		return ErrKeyNil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.keys[apiKey.ID]; exists {
		return fmt.Errorf("%w: %s", ErrKeyAlreadyExists, apiKey.ID)
	}

	keyCopy := *apiKey
	s.keys[keyCopy.ID] = &keyCopy

	return nil
}

// LoadKeyStoreFromSpec builds an in-memory key store from a comma-separated
// list of keyID:sourceID:secret entries, hashing each secret with bcrypt.
//
// This is the single-node deployment path: keys are provisioned through the
// environment and live for the process lifetime.
func LoadKeyStoreFromSpec(spec string) (*InMemoryKeyStore, error) {
	store := NewInMemoryKeyStore()

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", keyPartCount)
		if len(parts) != keyPartCount || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("%w: %s", ErrMalformedKeySpec, MaskKey(entry))
		}

		hash, err := HashAPIKey(parts[2])
		if err != nil {
			return nil, fmt.Errorf("failed to hash api key %s: %w", parts[0], err)
		}

		if err := store.Add(&APIKey{
			ID:       parts[0],
			SourceID: parts[1],
			Name:     parts[0],
			Hash:     hash,
			Active:   true,
		}); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// HashAPIKey generates a bcrypt hash of the API key secret for secure storage.
//
// Bcrypt has a 72-byte input limit. Longer secrets are pre-hashed with
// SHA-256 to keep behavior consistent.
func HashAPIKey(secret string) (string, error) {
	if secret == "" {
		return "", ErrKeyNil
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(secret), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}

	return string(hash), nil
}

// CompareAPIKeyHash performs constant-time comparison of an API key secret
// against a stored bcrypt hash. Returns false for any error condition.
func CompareAPIKeyHash(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(secret)) == nil
}

// bcryptInput prepares a secret for bcrypt, pre-hashing with SHA-256 when it
// exceeds bcrypt's input limit.
func bcryptInput(secret string) []byte {
	if len(secret) > bcryptLimit {
		sum := sha256.Sum256([]byte(secret))

		return sum[:]
	}

	return []byte(secret)
}

// MaskKey masks a key or key entry for logging, keeping only the leading
// characters visible.
func MaskKey(key string) string {
	if len(key) <= maskVisibleChars {
		return strings.Repeat("*", len(key))
	}

	return key[:maskVisibleChars] + strings.Repeat("*", len(key)-maskVisibleChars)
}
