// Package api provides the HTTP ingestion API for the lakefeed service.
package api

import (
	"context"

	"github.com/lakefeed-io/lakefeed/internal/pipeline"
	"github.com/lakefeed-io/lakefeed/internal/record"
)

// MockIngestor is a mock implementation of Ingestor for testing.
type MockIngestor struct {
	IngestFunc func(ctx context.Context, events []record.Event) (*pipeline.BatchOutcome, error)
}

// Ingest implements Ingestor.Ingest. The default behavior acknowledges every
// event.
func (m *MockIngestor) Ingest(ctx context.Context, events []record.Event) (*pipeline.BatchOutcome, error) {
	if m.IngestFunc != nil {
		return m.IngestFunc(ctx, events)
	}

	outcome := pipeline.NewBatchOutcome()
	for _, event := range events {
		outcome.Track(event.ID())
		outcome.Ack(event.ID())
	}

	return outcome, nil
}

var _ Ingestor = (*MockIngestor)(nil)
