package pipeline

import "github.com/samber/lo"

type (
	// BatchOutcome classifies every event of one invocation as acknowledged or
	// failed, keyed by the event's natural identifier (queue message id or
	// request id). An event counts as acknowledged only once its ack handle
	// resolved successfully; everything else is reported as failed so the
	// upstream source redelivers it.
	BatchOutcome struct {
		order    []string
		acked    map[string]struct{}
		failures map[string]error
	}

	// BatchItemFailure names one failed event for upstream redelivery.
	BatchItemFailure struct {
		ItemIdentifier string `json:"itemIdentifier"`
	}

	// BatchReport is the partial-failure response for a batch invocation. An
	// empty BatchItemFailures list tells the source the whole batch succeeded.
	BatchReport struct {
		BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
	}
)

// NewBatchOutcome creates an empty outcome.
func NewBatchOutcome() *BatchOutcome {
	return &BatchOutcome{
		acked:    make(map[string]struct{}),
		failures: make(map[string]error),
	}
}

// Track registers an event identifier in arrival order. Until the event is
// acknowledged it is reported as failed, so a crash between tracking and
// acknowledgment errs toward redelivery.
func (b *BatchOutcome) Track(id string) {
	if _, seen := b.acked[id]; seen {
		return
	}

	if _, seen := b.failures[id]; seen {
		return
	}

	if !lo.Contains(b.order, id) {
		b.order = append(b.order, id)
	}
}

// Ack marks an event as durably ingested. Acknowledgment is final: a later
// Fail for the same identifier does not demote it, because an acknowledged
// record must never be redelivered.
func (b *BatchOutcome) Ack(id string) {
	b.Track(id)
	b.acked[id] = struct{}{}
	delete(b.failures, id)
}

// Fail marks an event as failed with its cause. Ignored if the event was
// already acknowledged.
func (b *BatchOutcome) Fail(id string, err error) {
	b.Track(id)

	if _, ok := b.acked[id]; ok {
		return
	}

	b.failures[id] = err
}

// Acked reports whether the event's ack handle resolved successfully.
func (b *BatchOutcome) Acked(id string) bool {
	_, ok := b.acked[id]
	return ok
}

// FailureFor returns the recorded cause for a failed event, or nil.
func (b *BatchOutcome) FailureFor(id string) error {
	return b.failures[id]
}

// FailedItems returns the identifiers of every tracked event that was not
// acknowledged, in arrival order.
func (b *BatchOutcome) FailedItems() []string {
	return lo.Filter(b.order, func(id string, _ int) bool {
		return !b.Acked(id)
	})
}

// Succeeded reports whether every tracked event was acknowledged.
func (b *BatchOutcome) Succeeded() bool {
	return len(b.FailedItems()) == 0
}

// Report builds the partial-failure response naming only the failed events.
func (b *BatchOutcome) Report() BatchReport {
	return BatchReport{
		BatchItemFailures: lo.Map(b.FailedItems(), func(id string, _ int) BatchItemFailure {
			return BatchItemFailure{ItemIdentifier: id}
		}),
	}
}
