package pipeline

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/lakefeed-io/lakefeed/internal/stream"
)

// failingCloseStream builds a mock whose close fails with the given backlog.
func failingCloseStream(backlog []stream.Record) *stream.MockStream {
	mock := &stream.MockStream{}
	mock.CloseFunc = func(ctx context.Context) error {
		return errors.New("session close timed out")
	}
	mock.UnacknowledgedFunc = func() ([]stream.Record, error) {
		return backlog, nil
	}

	return mock
}

func TestRecoveryReplaysExactBacklog(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	backlog := []stream.Record{
		{Key: "record-a", Data: []byte("a")},
		{Key: "record-b", Data: []byte("b")},
	}

	failed := failingCloseStream(backlog)

	var replacement *stream.MockStream

	sessions := &stream.MockSessionManager{
		OpenFunc: func(ctx context.Context, cfg stream.Config) (stream.Stream, error) {
			failed.Cfg = cfg
			return failed, nil
		},
		RecreateFunc: func(ctx context.Context, old stream.Stream) (stream.Stream, error) {
			replacement = &stream.MockStream{Cfg: old.Config()}
			return replacement, nil
		},
	}

	o := newTestOrchestrator(t, sessions, 1000)

	_, err := o.Ingest(context.Background(), queueEvents("msg-1", "msg-2"))

	// Recovery prevents data loss but never masks the close failure.
	if !errors.Is(err, ErrSessionClose) {
		t.Fatalf("Ingest() error = %v, want ErrSessionClose", err)
	}

	if errors.Is(err, ErrRecovery) {
		t.Fatalf("Ingest() error = %v, a clean recovery must not report ErrRecovery", err)
	}

	if replacement == nil {
		t.Fatal("expected a replacement session to be opened")
	}

	// The replacement session must target the same table with the same bound.
	if replacement.Cfg.Table != o.cfg.Table || replacement.Cfg.MaxInflight != o.cfg.MaxInflight {
		t.Errorf("replacement config = %+v, want original config reused", replacement.Cfg)
	}

	keys := make([]string, 0, len(replacement.Submitted()))
	for _, rec := range replacement.Submitted() {
		keys = append(keys, rec.Key)
	}

	sort.Strings(keys)

	if len(keys) != 2 || keys[0] != "record-a" || keys[1] != "record-b" {
		t.Errorf("replayed records = %v, want exactly [record-a record-b]", keys)
	}
}

func TestRecoveryAckedItemsNotRedelivered(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	failed := failingCloseStream(nil)

	sessions := &stream.MockSessionManager{
		OpenFunc: func(ctx context.Context, cfg stream.Config) (stream.Stream, error) {
			failed.Cfg = cfg
			return failed, nil
		},
	}

	o := newTestOrchestrator(t, sessions, 1000)

	outcome, err := o.Ingest(context.Background(), queueEvents("msg-1", "msg-2"))
	if !errors.Is(err, ErrSessionClose) {
		t.Fatalf("Ingest() error = %v, want ErrSessionClose", err)
	}

	// Both events were acknowledged before the close failed: neither may be
	// named for redelivery, even though the invocation itself failed.
	if redeliver := outcome.FailedItems(); len(redeliver) != 0 {
		t.Errorf("FailedItems() = %v, want none", redeliver)
	}
}

func TestRecoveryEmptyBacklogSkipsReplay(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	failed := failingCloseStream(nil)
	recreated := false

	sessions := &stream.MockSessionManager{
		OpenFunc: func(ctx context.Context, cfg stream.Config) (stream.Stream, error) {
			failed.Cfg = cfg
			return failed, nil
		},
		RecreateFunc: func(ctx context.Context, old stream.Stream) (stream.Stream, error) {
			recreated = true
			return &stream.MockStream{Cfg: old.Config()}, nil
		},
	}

	o := newTestOrchestrator(t, sessions, 1000)

	_, err := o.Ingest(context.Background(), queueEvents("msg-1"))
	if !errors.Is(err, ErrSessionClose) {
		t.Fatalf("Ingest() error = %v, want ErrSessionClose", err)
	}

	if recreated {
		t.Error("no replacement session should be opened for an empty backlog")
	}
}

func TestRecoveryFetchFailureIsRecoveryError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	failed := failingCloseStream(nil)
	failed.UnacknowledgedFunc = func() ([]stream.Record, error) {
		return nil, errors.New("session state unavailable")
	}

	sessions := &stream.MockSessionManager{
		OpenFunc: func(ctx context.Context, cfg stream.Config) (stream.Stream, error) {
			failed.Cfg = cfg
			return failed, nil
		},
	}

	o := newTestOrchestrator(t, sessions, 1000)

	_, err := o.Ingest(context.Background(), queueEvents("msg-1"))
	if !errors.Is(err, ErrRecovery) {
		t.Fatalf("Ingest() error = %v, want ErrRecovery", err)
	}

	if errors.Is(err, ErrSessionClose) {
		t.Errorf("Ingest() error = %v, must be distinct from ErrSessionClose", err)
	}
}

func TestRecoveryReopenFailureIsRecoveryError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	failed := failingCloseStream([]stream.Record{{Key: "record-a", Data: []byte("a")}})

	sessions := &stream.MockSessionManager{
		OpenFunc: func(ctx context.Context, cfg stream.Config) (stream.Stream, error) {
			failed.Cfg = cfg
			return failed, nil
		},
		RecreateFunc: func(ctx context.Context, old stream.Stream) (stream.Stream, error) {
			return nil, stream.ErrOpenFailed
		},
	}

	o := newTestOrchestrator(t, sessions, 1000)

	_, err := o.Ingest(context.Background(), queueEvents("msg-1"))
	if !errors.Is(err, ErrRecovery) {
		t.Fatalf("Ingest() error = %v, want ErrRecovery", err)
	}
}

type captureSink struct {
	keys    []string
	reasons []string
}

func (c *captureSink) DeadLetter(_ context.Context, _ string, key string, _ []byte, reason string) error {
	c.keys = append(c.keys, key)
	c.reasons = append(c.reasons, reason)

	return nil
}

func TestRecoveryDeadLettersUnrecoveredRecords(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	backlog := []stream.Record{
		{Key: "record-a", Data: []byte("a")},
		{Key: "record-b", Data: []byte("b")},
	}

	failed := failingCloseStream(backlog)

	sessions := &stream.MockSessionManager{
		OpenFunc: func(ctx context.Context, cfg stream.Config) (stream.Stream, error) {
			failed.Cfg = cfg
			return failed, nil
		},
		RecreateFunc: func(ctx context.Context, old stream.Stream) (stream.Stream, error) {
			replacement := &stream.MockStream{Cfg: old.Config()}
			replacement.SubmitFunc = func(ctx context.Context, rec stream.Record) (*stream.AckHandle, error) {
				handle := stream.NewAckHandle()
				if rec.Key == "record-b" {
					handle.Resolve(errors.New("record rejected again"))
				} else {
					handle.Resolve(nil)
				}

				return handle, nil
			}

			return replacement, nil
		},
	}

	sink := &captureSink{}

	o := newTestOrchestrator(t, sessions, 1000, WithDeadLetterSink(sink))

	_, err := o.Ingest(context.Background(), queueEvents("msg-1"))
	if !errors.Is(err, ErrRecovery) {
		t.Fatalf("Ingest() error = %v, want ErrRecovery", err)
	}

	// Only the record that failed again lands in the dead-letter sink.
	if len(sink.keys) != 1 || sink.keys[0] != "record-b" {
		t.Errorf("dead-lettered keys = %v, want [record-b]", sink.keys)
	}
}

func TestRecoveryClosesAbandonedReplacement(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	failed := failingCloseStream([]stream.Record{{Key: "record-a", Data: []byte("a")}})

	replacementClosed := false

	sessions := &stream.MockSessionManager{
		OpenFunc: func(ctx context.Context, cfg stream.Config) (stream.Stream, error) {
			failed.Cfg = cfg
			return failed, nil
		},
		RecreateFunc: func(ctx context.Context, old stream.Stream) (stream.Stream, error) {
			replacement := &stream.MockStream{Cfg: old.Config()}
			replacement.SubmitFunc = func(ctx context.Context, rec stream.Record) (*stream.AckHandle, error) {
				handle := stream.NewAckHandle()
				handle.Resolve(errors.New("record rejected again"))

				return handle, nil
			}
			replacement.CloseFunc = func(ctx context.Context) error {
				replacementClosed = true
				return nil
			}

			return replacement, nil
		},
	}

	o := newTestOrchestrator(t, sessions, 1000)

	_, err := o.Ingest(context.Background(), queueEvents("msg-1"))
	if !errors.Is(err, ErrRecovery) {
		t.Fatalf("Ingest() error = %v, want ErrRecovery", err)
	}

	// The replacement session holds real connections. Abandoning recovery
	// must still release it.
	if !replacementClosed {
		t.Error("abandoned replacement session was never closed")
	}
}

func TestRecoveryResubmitFailureIsRecoveryError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	failed := failingCloseStream([]stream.Record{{Key: "record-a", Data: []byte("a")}})

	sessions := &stream.MockSessionManager{
		OpenFunc: func(ctx context.Context, cfg stream.Config) (stream.Stream, error) {
			failed.Cfg = cfg
			return failed, nil
		},
		RecreateFunc: func(ctx context.Context, old stream.Stream) (stream.Stream, error) {
			replacement := &stream.MockStream{Cfg: old.Config()}
			replacement.SubmitFunc = func(ctx context.Context, rec stream.Record) (*stream.AckHandle, error) {
				handle := stream.NewAckHandle()
				handle.Resolve(errors.New("record rejected again"))

				return handle, nil
			}

			return replacement, nil
		},
	}

	o := newTestOrchestrator(t, sessions, 1000)

	_, err := o.Ingest(context.Background(), queueEvents("msg-1"))
	if !errors.Is(err, ErrRecovery) {
		t.Fatalf("Ingest() error = %v, want ErrRecovery", err)
	}
}
