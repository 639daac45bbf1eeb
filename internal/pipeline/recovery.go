package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lakefeed-io/lakefeed/internal/stream"
)

// recover replays the unacknowledged backlog of a session that failed to
// close. One recovery attempt per invocation; failures inside recovery are
// surfaced as ErrRecovery, never retried. Records that still cannot be landed
// are handed to the dead-letter sink when one is configured.
//
// The return value is always non-nil. Recovery prevents data loss, it does
// not mask the failure: even a fully replayed backlog leaves the invocation
// reported as failed so the upstream trigger applies its redelivery policy.
func (o *Orchestrator) recover(ctx context.Context, failed stream.Stream, closeErr error) error {
	backlog, err := failed.Unacknowledged()
	if err != nil {
		return fmt.Errorf("%w: cannot retrieve unacknowledged records after close failure (%v): %v", ErrRecovery, closeErr, err)
	}

	// An empty backlog means the close failure lost no data. Report the
	// original failure and skip the replay.
	if len(backlog) == 0 {
		return fmt.Errorf("%w: %v (no unacknowledged records, no data loss)", ErrSessionClose, closeErr)
	}

	o.logger.Warn("Recovering unacknowledged records",
		slog.String("table", o.cfg.Table),
		slog.Int("records", len(backlog)),
	)

	replacement, err := o.sessions.Recreate(ctx, failed)
	if err != nil {
		o.deadLetter(ctx, backlog, fmt.Sprintf("replacement session open failed: %v", err))

		return fmt.Errorf("%w: cannot open replacement session for %d unacknowledged records: %v", ErrRecovery, len(backlog), err)
	}

	unrecovered, err := o.resubmit(ctx, replacement, backlog)
	if err != nil {
		o.deadLetter(ctx, unrecovered, fmt.Sprintf("recovery abandoned: %v", err))
		o.closeReplacement(ctx, replacement)

		return fmt.Errorf("%w: %v", ErrRecovery, err)
	}

	if len(unrecovered) > 0 {
		o.deadLetter(ctx, unrecovered, "record failed again on replacement session")
		o.closeReplacement(ctx, replacement)

		return fmt.Errorf("%w: %d of %d unacknowledged records failed again", ErrRecovery, len(unrecovered), len(backlog))
	}

	if err := replacement.Close(ctx); err != nil {
		return fmt.Errorf("%w: replacement session failed to close after replaying %d records: %v", ErrRecovery, len(backlog), err)
	}

	o.logger.Info("Recovery completed",
		slog.String("table", o.cfg.Table),
		slog.Int("records", len(backlog)),
	)

	return fmt.Errorf("%w: %v (recovered %d unacknowledged records)", ErrSessionClose, closeErr, len(backlog))
}

// closeReplacement releases a replacement session whose recovery was
// abandoned. The caller already carries the recovery error, so a close
// failure here is logged, never propagated.
func (o *Orchestrator) closeReplacement(ctx context.Context, replacement stream.Stream) {
	if err := replacement.Close(ctx); err != nil {
		o.logger.Warn("Failed to close replacement session",
			slog.String("table", o.cfg.Table),
			slog.String("error", err.Error()),
		)
	}
}

// resubmit replays the backlog through the replacement session under the
// same in-flight bound as the original ingestion. It returns the records
// that were not acknowledged, either because they failed again or because
// the error cut the replay short.
func (o *Orchestrator) resubmit(ctx context.Context, session stream.Stream, backlog []stream.Record) ([]stream.Record, error) {
	g := newGate(o.cfg.MaxInflight)
	replayed := NewBatchOutcome()

	byKey := make(map[string]stream.Record, len(backlog))

	for _, rec := range backlog {
		byKey[rec.Key] = rec
		replayed.Track(rec.Key)

		for g.outstanding >= g.limit {
			if err := g.settleOne(ctx, replayed); err != nil {
				return unacked(replayed, byKey), err
			}
		}

		handle, err := session.Submit(ctx, rec)
		if err != nil {
			replayed.Fail(rec.Key, err)
			continue
		}

		g.track(ctx, rec.Key, handle)
	}

	for g.outstanding > 0 {
		if err := g.settleOne(ctx, replayed); err != nil {
			return unacked(replayed, byKey), err
		}
	}

	return unacked(replayed, byKey), nil
}

// unacked maps the outcome's failed keys back to their records.
func unacked(replayed *BatchOutcome, byKey map[string]stream.Record) []stream.Record {
	failed := replayed.FailedItems()
	if len(failed) == 0 {
		return nil
	}

	records := make([]stream.Record, 0, len(failed))
	for _, key := range failed {
		records = append(records, byKey[key])
	}

	return records
}

// deadLetter persists unrecoverable records through the configured sink.
// Best effort: a sink failure is logged, not propagated, because the
// invocation is already failing and the upstream source will redeliver.
func (o *Orchestrator) deadLetter(ctx context.Context, records []stream.Record, reason string) {
	if o.deadLetters == nil || len(records) == 0 {
		return
	}

	for _, rec := range records {
		if err := o.deadLetters.DeadLetter(ctx, o.cfg.Table, rec.Key, rec.Data, reason); err != nil {
			o.logger.Error("Failed to dead-letter record",
				slog.String("table", o.cfg.Table),
				slog.String("record_key", rec.Key),
				slog.String("error", err.Error()),
			)
		}
	}
}
