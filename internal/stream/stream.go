// Package stream provides the ingestion stream capability: an open write
// session bound to one destination table that accepts encoded records,
// acknowledges them asynchronously, and exposes its unacknowledged backlog
// when it fails to close cleanly.
//
// The core pipeline only depends on the Stream and SessionManager interfaces;
// the Kafka implementation in this package is one concrete transport.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Sentinel errors for stream sessions.
var (
	// ErrOpenFailed indicates authentication, table resolution, or transport
	// setup failed while opening a session. Fatal for the invocation.
	ErrOpenFailed = errors.New("failed to open ingestion stream")

	// ErrStreamClosed indicates a submission after the session began closing.
	ErrStreamClosed = errors.New("ingestion stream is closed")

	// ErrUnacknowledged indicates the session closed with records that were
	// never acknowledged by the sink. The caller must run recovery.
	ErrUnacknowledged = errors.New("records unacknowledged at close")
)

// Config validation errors.
var (
	// ErrTableEmpty indicates the destination table name is missing.
	ErrTableEmpty = errors.New("destination table cannot be empty")

	// ErrSchemaMissing indicates the compiled schema descriptor is missing.
	ErrSchemaMissing = errors.New("table schema descriptor is required")

	// ErrBrokersEmpty indicates no sink endpoint was configured.
	ErrBrokersEmpty = errors.New("sink endpoint cannot be empty")

	// ErrHostEmpty indicates the logical sink host identity is missing.
	ErrHostEmpty = errors.New("sink host cannot be empty")

	// ErrCredentialsMissing indicates the client credential pair is incomplete.
	ErrCredentialsMissing = errors.New("client credential pair is required")

	// ErrInvalidMaxInflight indicates a non-positive in-flight record bound.
	ErrInvalidMaxInflight = errors.New("max in-flight records must be positive")
)

type (
	// Record is one encoded record submitted to a session. Key is the
	// deterministic idempotency key, Data the schema-bound encoding.
	Record struct {
		Key  string
		Data []byte
	}

	// Config describes one ingestion session. The same Config value must be
	// reusable verbatim to open a replacement session during recovery.
	Config struct {
		// Table is the destination table identity (the sink topic).
		Table string

		// Schema is the compiled message schema records were encoded against.
		Schema protoreflect.MessageDescriptor

		// Brokers are the sink endpoints.
		Brokers []string

		// Host is the logical sink host identity, reported to the sink as the
		// client identity.
		Host string

		// ClientID and ClientSecret are the credential pair.
		ClientID     string
		ClientSecret string

		// MaxInflight bounds the number of submitted-but-unacknowledged
		// records per session.
		MaxInflight int
	}

	// Stream is one open write session bound to a Config. A session is owned
	// by exactly one invocation (or its recovery continuation) and is never
	// shared.
	Stream interface {
		// Submit hands one record to the session and returns its
		// acknowledgment handle. The record counts as unacknowledged until
		// the handle resolves successfully.
		Submit(ctx context.Context, rec Record) (*AckHandle, error)

		// Flush blocks until every submitted record has resolved, or ctx ends.
		Flush(ctx context.Context) error

		// Close flushes and tears the session down. A non-nil error means the
		// session did not confirm all records; the caller retrieves the
		// backlog via Unacknowledged.
		Close(ctx context.Context) error

		// Unacknowledged returns the records submitted to this session that
		// were never confirmed. Meaningful after Close reported failure.
		Unacknowledged() ([]Record, error)

		// Config returns the session configuration, reused verbatim by
		// SessionManager.Recreate.
		Config() Config
	}

	// SessionManager opens ingestion sessions. Built once per process and
	// injected; it holds no per-invocation state.
	SessionManager interface {
		// Open creates a session for the given configuration. Open is
		// idempotent in configuration: the same Config always targets the
		// same destination table and schema.
		Open(ctx context.Context, cfg Config) (Stream, error)

		// Recreate opens a replacement session reusing the failed session's
		// configuration.
		Recreate(ctx context.Context, failed Stream) (Stream, error)
	}
)

// Validate checks that the session configuration is complete.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Table) == "" {
		return ErrTableEmpty
	}

	if c.Schema == nil {
		return ErrSchemaMissing
	}

	if len(c.Brokers) == 0 {
		return ErrBrokersEmpty
	}

	if strings.TrimSpace(c.Host) == "" {
		return ErrHostEmpty
	}

	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrCredentialsMissing
	}

	if c.MaxInflight <= 0 {
		return ErrInvalidMaxInflight
	}

	return nil
}

// AckHandle is a channel-based future for one submitted record. It resolves
// exactly once, to success or failure; the record is durably ingested only
// when it resolves successfully.
type AckHandle struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewAckHandle creates an unresolved acknowledgment handle.
func NewAckHandle() *AckHandle {
	return &AckHandle{done: make(chan struct{})}
}

// Resolve settles the handle. Only the first call takes effect.
func (h *AckHandle) Resolve(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Wait blocks until the handle resolves or the context ends.
//
// Context expiry surfaces the context error: the invocation deadline is a
// cooperative cancellation point, the record stays unacknowledged.
func (h *AckHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return fmt.Errorf("acknowledgment not received: %w", ctx.Err())
	}
}
