package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lakefeed-io/lakefeed/internal/pipeline"
	"github.com/lakefeed-io/lakefeed/internal/record"
)

func queueBatchBody(messageIDs ...string) string {
	records := make([]map[string]any, len(messageIDs))
	for i, id := range messageIDs {
		records[i] = map[string]any{
			"messageId":      id,
			"receiptHandle":  "handle-" + id,
			"body":           `{"order":"` + id + `"}`,
			"md5OfBody":      "d41d8cd98f00b204e9800998ecf8427e",
			"attributes":     map[string]string{"ApproximateReceiveCount": "1"},
			"eventSourceARN": "arn:aws:sqs:eu-west-1:123456789012:orders",
			"awsRegion":      "eu-west-1",
		}
	}

	body, _ := json.Marshal(map[string]any{"Records": records})

	return string(body)
}

func postQueueBatch(server *Server, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/queue-batch", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	return server.serve(r)
}

func TestIngestQueueBatchAllAcked(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var captured []record.Event

	ingestor := &MockIngestor{
		IngestFunc: func(_ context.Context, events []record.Event) (*pipeline.BatchOutcome, error) {
			captured = events

			outcome := pipeline.NewBatchOutcome()
			for _, event := range events {
				outcome.Track(event.ID())
				outcome.Ack(event.ID())
			}

			return outcome, nil
		},
	}

	server := newTestServer(t, &MockIngestor{}, ingestor)

	w := postQueueBatch(server, queueBatchBody("msg-1", "msg-2"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	if got := strings.TrimSpace(w.Body.String()); got != `{"batchItemFailures":[]}` {
		t.Errorf("body = %s, want empty failure list", got)
	}

	if len(captured) != 2 {
		t.Fatalf("ingestor received %d events, want 2", len(captured))
	}

	message, ok := captured[0].(*record.QueueMessage)
	if !ok {
		t.Fatalf("event type = %T, want *record.QueueMessage", captured[0])
	}

	if message.MessageID != "msg-1" || message.ReceiptHandle != "handle-msg-1" {
		t.Errorf("message = %+v, want msg-1/handle-msg-1", message)
	}

	if message.QueueARN != "arn:aws:sqs:eu-west-1:123456789012:orders" {
		t.Errorf("QueueARN = %q, not mapped from eventSourceARN", message.QueueARN)
	}

	if message.Attributes["ApproximateReceiveCount"] != "1" {
		t.Errorf("Attributes = %v, want ApproximateReceiveCount carried through", message.Attributes)
	}
}

func TestIngestQueueBatchPartialFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ingestor := &MockIngestor{
		IngestFunc: func(_ context.Context, events []record.Event) (*pipeline.BatchOutcome, error) {
			outcome := pipeline.NewBatchOutcome()
			for _, event := range events {
				outcome.Track(event.ID())
			}

			outcome.Ack("msg-1")
			outcome.Fail("msg-2", errors.New("acknowledgment failed"))
			outcome.Ack("msg-3")

			return outcome, nil
		},
	}

	server := newTestServer(t, &MockIngestor{}, ingestor)

	w := postQueueBatch(server, queueBatchBody("msg-1", "msg-2", "msg-3"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var report pipeline.BatchReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}

	if len(report.BatchItemFailures) != 1 {
		t.Fatalf("failures = %v, want exactly msg-2", report.BatchItemFailures)
	}

	if report.BatchItemFailures[0].ItemIdentifier != "msg-2" {
		t.Errorf("failed item = %q, want msg-2", report.BatchItemFailures[0].ItemIdentifier)
	}
}

func TestIngestQueueBatchValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
	}{
		{
			name:        "wrong content type",
			contentType: "application/xml",
			body:        queueBatchBody("msg-1"),
			wantStatus:  http.StatusUnsupportedMediaType,
		},
		{
			name:        "empty body",
			contentType: "application/json",
			body:        "",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "invalid json",
			contentType: "application/json",
			body:        `{"Records": [`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "empty records",
			contentType: "application/json",
			body:        `{"Records": []}`,
			wantStatus:  http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, &MockIngestor{}, &MockIngestor{})

			r := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/queue-batch", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", tt.contentType)

			w := server.serve(r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestIngestQueueBatchInvocationFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ingestor := &MockIngestor{
		IngestFunc: func(context.Context, []record.Event) (*pipeline.BatchOutcome, error) {
			return pipeline.NewBatchOutcome(), errors.New("failed to close ingestion session")
		},
	}

	server := newTestServer(t, &MockIngestor{}, ingestor)

	w := postQueueBatch(server, queueBatchBody("msg-1"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}
}
