package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lakefeed-io/lakefeed/internal/api/middleware"
	"github.com/lakefeed-io/lakefeed/internal/record"
)

type (
	// QueueBatchRequest is the queue-batch ingestion payload. The shape
	// follows the SQS event format so that queue triggers can forward
	// batches without translation.
	QueueBatchRequest struct {
		Records []QueueRecord `json:"Records"` //nolint: tagliatelle // SQS event format
	}

	// QueueRecord is one queue message in a batch request.
	QueueRecord struct {
		MessageID              string                             `json:"messageId"`
		ReceiptHandle          string                             `json:"receiptHandle"`
		Body                   string                             `json:"body"`
		MD5OfBody              string                             `json:"md5OfBody"`
		MD5OfMessageAttributes string                             `json:"md5OfMessageAttributes,omitempty"`
		Attributes             map[string]string                  `json:"attributes,omitempty"`
		MessageAttributes      map[string]record.MessageAttribute `json:"messageAttributes,omitempty"`
		EventSourceARN         string                             `json:"eventSourceARN"` //nolint: tagliatelle // SQS event format
		AWSRegion              string                             `json:"awsRegion"`
	}
)

// handleIngestQueueBatch handles queue message batch ingestion.
// POST /api/v1/ingest/queue-batch - Ingest a batch of queue messages
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body, invalid JSON, or empty Records array
//
// Success response:
//   - 200 OK: Batch processed; body lists per-item failures in the partial
//     batch response format ({"batchItemFailures": [...]}) so the source
//     redelivers only the listed messages
//
// Invocation-level failures (session open failed, close failure after
// recovery) return 500: the source treats the whole batch as unprocessed
// and redelivers every message.
func (s *Server) handleIngestQueueBatch(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	batch, problem := s.parseQueueBatchRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	events := make([]record.Event, len(batch.Records))
	for i := range batch.Records {
		events[i] = mapQueueRecord(&batch.Records[i])
	}

	ctx, cancel := s.invocationContext(r.Context(), s.invocationDeadline(r))
	defer cancel()

	outcome, err := s.queueBatches.Ingest(ctx, events)
	if err != nil {
		s.logger.Error("Queue batch ingestion failed",
			slog.String("correlation_id", correlationID),
			slog.Int("batch_size", len(events)),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Ingestion failed: "+err.Error()))

		return
	}

	report := outcome.Report()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Error("Failed to write batch report",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Queue batch processed",
		slog.String("correlation_id", correlationID),
		slog.Int("received", len(events)),
		slog.Int("failed", len(report.BatchItemFailures)),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// parseQueueBatchRequest parses and validates the batch request body.
// Returns the parsed batch or a ProblemDetail if parsing fails.
func (s *Server) parseQueueBatchRequest(r *http.Request) (*QueueBatchRequest, *ProblemDetail) {
	if r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	var batch QueueBatchRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&batch); err != nil {
		return nil, BadRequest("Invalid JSON: " + err.Error())
	}

	if len(batch.Records) == 0 {
		return nil, BadRequest("Records array cannot be empty")
	}

	return &batch, nil
}

// mapQueueRecord maps the API request type to the domain model.
func mapQueueRecord(rec *QueueRecord) *record.QueueMessage {
	return &record.QueueMessage{
		MessageID:              rec.MessageID,
		ReceiptHandle:          rec.ReceiptHandle,
		Body:                   rec.Body,
		MD5OfBody:              rec.MD5OfBody,
		MD5OfMessageAttributes: rec.MD5OfMessageAttributes,
		Attributes:             rec.Attributes,
		MessageAttributes:      rec.MessageAttributes,
		QueueARN:               rec.EventSourceARN,
		Region:                 rec.AWSRegion,
	}
}
