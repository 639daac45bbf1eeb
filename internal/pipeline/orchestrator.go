package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lakefeed-io/lakefeed/internal/record"
	"github.com/lakefeed-io/lakefeed/internal/stream"
)

type (
	// DeadLetterSink receives records that a failed recovery could not land,
	// so they survive for out-of-band replay instead of being lost.
	DeadLetterSink interface {
		DeadLetter(ctx context.Context, table, key string, data []byte, reason string) error
	}

	// Option configures an Orchestrator.
	Option func(*Orchestrator)

	// Orchestrator drives one invocation through the ingestion pipeline:
	// open a session, encode and submit every event, await acknowledgments
	// under the in-flight bound, close the session, and recover the
	// unacknowledged backlog if the close fails.
	//
	// An Orchestrator is safe for concurrent invocations: all per-invocation
	// state lives in Ingest, and each invocation owns its session exclusively.
	Orchestrator struct {
		sessions    stream.SessionManager
		encoder     *record.Encoder
		cfg         stream.Config
		logger      *slog.Logger
		deadLetters DeadLetterSink
	}

	// ackResult carries one resolved acknowledgment back to the submission
	// loop.
	ackResult struct {
		id  string
		err error
	}

	// gate enforces the in-flight record bound for one session. At most
	// limit submitted records may be unacknowledged at a time; submission
	// past the bound blocks until an outstanding ack resolves.
	gate struct {
		limit       int
		results     chan ackResult
		outstanding int
	}
)

// WithDeadLetterSink attaches a dead-letter fallback for records that fail
// recovery. Without it, unrecoverable records are only logged.
func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(o *Orchestrator) {
		o.deadLetters = sink
	}
}

// NewOrchestrator creates an orchestrator for one destination table.
func NewOrchestrator(sessions stream.SessionManager, encoder *record.Encoder, cfg stream.Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		encoder:  encoder,
		cfg:      cfg,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Ingest runs the full pipeline for one invocation's event set.
//
// The returned BatchOutcome always covers every event. The returned error is
// invocation-level: nil means the session closed cleanly (individual events
// may still have failed and appear in the outcome); non-nil means the
// invocation must be reported as failed to the caller, even when recovery
// replayed the backlog without data loss.
func (o *Orchestrator) Ingest(ctx context.Context, events []record.Event) (*BatchOutcome, error) {
	outcome := NewBatchOutcome()
	for _, event := range events {
		outcome.Track(event.ID())
	}

	session, err := o.sessions.Open(ctx, o.cfg)
	if err != nil {
		return outcome, fmt.Errorf("failed to open ingestion session for table %s: %w", o.cfg.Table, err)
	}

	g := newGate(o.cfg.MaxInflight)

	for i, event := range events {
		if ctx.Err() != nil {
			return outcome, fmt.Errorf("%w: %d events unprocessed", ErrDeadlineReached, len(events)-i)
		}

		rec, err := o.encoder.Encode(event)
		if err != nil {
			o.logger.Warn("Failed to encode event",
				slog.String("event_id", event.ID()),
				slog.String("error", err.Error()),
			)
			outcome.Fail(event.ID(), err)

			continue
		}

		// Backpressure toward the sink: block here until an outstanding
		// acknowledgment resolves before admitting another record.
		for g.outstanding >= g.limit {
			if err := g.settleOne(ctx, outcome); err != nil {
				return outcome, err
			}
		}

		handle, err := session.Submit(ctx, stream.Record{Key: rec.Key, Data: rec.Data})
		if err != nil {
			o.logger.Warn("Failed to submit record",
				slog.String("event_id", event.ID()),
				slog.String("error", err.Error()),
			)
			outcome.Fail(event.ID(), err)

			continue
		}

		g.track(ctx, event.ID(), handle)
	}

	for g.outstanding > 0 {
		if err := g.settleOne(ctx, outcome); err != nil {
			return outcome, err
		}
	}

	closeErr := session.Flush(ctx)
	if closeErr == nil {
		closeErr = session.Close(ctx)
	}

	if closeErr == nil {
		return outcome, nil
	}

	o.logger.Error("Ingestion session failed to close",
		slog.String("table", o.cfg.Table),
		slog.String("error", closeErr.Error()),
	)

	return outcome, o.recover(ctx, session, closeErr)
}

// newGate creates a gate for the given in-flight bound. The results channel
// is buffered to the bound so resolution goroutines never block on delivery.
func newGate(limit int) *gate {
	return &gate{
		limit:   limit,
		results: make(chan ackResult, limit),
	}
}

// track registers one outstanding acknowledgment and resolves it in the
// background.
func (g *gate) track(ctx context.Context, id string, handle *stream.AckHandle) {
	g.outstanding++

	go func() {
		g.results <- ackResult{id: id, err: handle.Wait(ctx)}
	}()
}

// settleOne waits for the next acknowledgment to resolve and records it in
// the outcome. Returns an invocation-level error only when the deadline
// expires first.
func (g *gate) settleOne(ctx context.Context, outcome *BatchOutcome) error {
	select {
	case res := <-g.results:
		g.outstanding--

		if res.err != nil {
			outcome.Fail(res.id, res.err)
		} else {
			outcome.Ack(res.id)
		}

		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %d acknowledgments outstanding", ErrDeadlineReached, g.outstanding)
	}
}
