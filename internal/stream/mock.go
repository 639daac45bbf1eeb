package stream

import (
	"context"
	"sync"
)

// Compile-time interface checks.
var (
	_ Stream         = (*MockStream)(nil)
	_ SessionManager = (*MockSessionManager)(nil)
)

// MockStream is a mock implementation of Stream for testing.
//
// By default every submitted record is acknowledged immediately and Close
// succeeds. Tests override individual behaviors through the func fields and
// inspect Submitted for what reached the session.
type MockStream struct {
	Cfg Config

	SubmitFunc         func(ctx context.Context, rec Record) (*AckHandle, error)
	FlushFunc          func(ctx context.Context) error
	CloseFunc          func(ctx context.Context) error
	UnacknowledgedFunc func() ([]Record, error)

	mu        sync.Mutex
	submitted []Record
}

// Submit implements Stream.Submit. The record is recorded before the
// override runs, so Submitted always reflects every submission attempt.
func (m *MockStream) Submit(ctx context.Context, rec Record) (*AckHandle, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, rec)
	m.mu.Unlock()

	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, rec)
	}

	handle := NewAckHandle()
	handle.Resolve(nil)

	return handle, nil
}

// Flush implements Stream.Flush.
func (m *MockStream) Flush(ctx context.Context) error {
	if m.FlushFunc != nil {
		return m.FlushFunc(ctx)
	}

	return nil
}

// Close implements Stream.Close.
func (m *MockStream) Close(ctx context.Context) error {
	if m.CloseFunc != nil {
		return m.CloseFunc(ctx)
	}

	return nil
}

// Unacknowledged implements Stream.Unacknowledged.
func (m *MockStream) Unacknowledged() ([]Record, error) {
	if m.UnacknowledgedFunc != nil {
		return m.UnacknowledgedFunc()
	}

	return nil, nil
}

// Config implements Stream.Config.
func (m *MockStream) Config() Config {
	return m.Cfg
}

// Submitted returns a snapshot of every record submitted to this stream.
func (m *MockStream) Submitted() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.submitted))
	copy(out, m.submitted)

	return out
}

// MockSessionManager is a mock implementation of SessionManager for testing.
type MockSessionManager struct {
	OpenFunc     func(ctx context.Context, cfg Config) (Stream, error)
	RecreateFunc func(ctx context.Context, failed Stream) (Stream, error)
}

// Open implements SessionManager.Open.
func (m *MockSessionManager) Open(ctx context.Context, cfg Config) (Stream, error) {
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, cfg)
	}

	return &MockStream{Cfg: cfg}, nil
}

// Recreate implements SessionManager.Recreate.
func (m *MockSessionManager) Recreate(ctx context.Context, failed Stream) (Stream, error) {
	if m.RecreateFunc != nil {
		return m.RecreateFunc(ctx, failed)
	}

	return &MockStream{Cfg: failed.Config()}, nil
}
