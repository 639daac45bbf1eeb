package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/lakefeed-io/lakefeed/internal/schema"
)

func queueSchema(t *testing.T) protoreflect.MessageDescriptor {
	t.Helper()

	blob, err := schema.BuiltinDescriptorSet()
	if err != nil {
		t.Fatalf("BuiltinDescriptorSet() error = %v", err)
	}

	reg, err := schema.NewRegistry(blob)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	desc, err := reg.Message(schema.BuiltinFile, schema.MessageQueueMessages)
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}

	return desc
}

func validConfig(t *testing.T) Config {
	t.Helper()

	return Config{
		Table:        "queue_messages",
		Schema:       queueSchema(t),
		Brokers:      []string{"broker-1:9092"},
		Host:         "lakefeed-test",
		ClientID:     "client",
		ClientSecret: "secret",
		MaxInflight:  1000,
	}
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr error
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: nil,
		},
		{
			name:    "empty table",
			mutate:  func(cfg *Config) { cfg.Table = "" },
			wantErr: ErrTableEmpty,
		},
		{
			name:    "missing schema",
			mutate:  func(cfg *Config) { cfg.Schema = nil },
			wantErr: ErrSchemaMissing,
		},
		{
			name:    "no brokers",
			mutate:  func(cfg *Config) { cfg.Brokers = nil },
			wantErr: ErrBrokersEmpty,
		},
		{
			name:    "empty host",
			mutate:  func(cfg *Config) { cfg.Host = "  " },
			wantErr: ErrHostEmpty,
		},
		{
			name:    "missing client id",
			mutate:  func(cfg *Config) { cfg.ClientID = "" },
			wantErr: ErrCredentialsMissing,
		},
		{
			name:    "missing client secret",
			mutate:  func(cfg *Config) { cfg.ClientSecret = "" },
			wantErr: ErrCredentialsMissing,
		},
		{
			name:    "zero max inflight",
			mutate:  func(cfg *Config) { cfg.MaxInflight = 0 },
			wantErr: ErrInvalidMaxInflight,
		},
		{
			name:    "negative max inflight",
			mutate:  func(cfg *Config) { cfg.MaxInflight = -5 },
			wantErr: ErrInvalidMaxInflight,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}

				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAckHandleResolveOnce(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	handle := NewAckHandle()

	first := errors.New("write failed")
	handle.Resolve(first)
	handle.Resolve(nil) // later resolutions are ignored

	err := handle.Wait(context.Background())
	if !errors.Is(err, first) {
		t.Errorf("Wait() error = %v, want %v", err, first)
	}

	// Wait is repeatable once resolved.
	if err := handle.Wait(context.Background()); !errors.Is(err, first) {
		t.Errorf("second Wait() error = %v, want %v", err, first)
	}
}

func TestAckHandleWaitSuccess(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	handle := NewAckHandle()

	go func() {
		time.Sleep(10 * time.Millisecond)
		handle.Resolve(nil)
	}()

	if err := handle.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
}

func TestAckHandleWaitContextCancelled(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	handle := NewAckHandle()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handle.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestMockStreamRecordsSubmissions(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	mock := &MockStream{}

	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		handle, err := mock.Submit(ctx, Record{Key: key, Data: []byte(key)})
		if err != nil {
			t.Fatalf("Submit(%q) error = %v", key, err)
		}

		if err := handle.Wait(ctx); err != nil {
			t.Fatalf("Wait(%q) error = %v", key, err)
		}
	}

	submitted := mock.Submitted()
	if len(submitted) != 3 {
		t.Fatalf("Submitted() returned %d records, want 3", len(submitted))
	}

	if submitted[1].Key != "b" {
		t.Errorf("Submitted()[1].Key = %q, want %q", submitted[1].Key, "b")
	}
}
