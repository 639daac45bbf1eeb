package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lakefeed-io/lakefeed/internal/api/middleware"
	"github.com/lakefeed-io/lakefeed/internal/record"
)

type (
	// IngestResponse is the success response for single-payload ingestion.
	IngestResponse struct {
		Status        string `json:"status"`
		RequestID     string `json:"requestId"`
		CorrelationID string `json:"correlationId"`
		Timestamp     string `json:"timestamp"`
	}
)

// handleIngestInvocation handles single-payload ingestion.
// POST /api/v1/ingest/invocation - Ingest one arbitrary JSON payload
//
// The request body is the payload itself, stored verbatim. Invocation
// metadata comes from headers:
//   - X-Request-ID: invocation identifier (falls back to the correlation ID)
//   - X-Invocation-Deadline-Ms: absolute deadline in ms since Unix epoch
//     (falls back to now + write timeout)
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body or invalid JSON
//   - 422 Unprocessable Entity: Payload rejected during encoding
//
// Success response:
//   - 200 OK: Payload durably ingested and acknowledged
func (s *Server) handleIngestInvocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	payload, problem := s.readPayload(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if !json.Valid(payload) {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request body must be valid JSON"))

		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = correlationID
	}

	event := &record.GenericEvent{
		Payload: payload,
		Context: record.InvocationContext{
			RequestID:  requestID,
			DeadlineMS: s.invocationDeadline(r),
			ReceivedAt: startTime,
			Source:     r.RemoteAddr,
		},
	}

	ctx, cancel := s.invocationContext(r.Context(), event.Context.DeadlineMS)
	defer cancel()

	outcome, err := s.invocations.Ingest(ctx, []record.Event{event})
	if err != nil {
		s.logger.Error("Invocation ingestion failed",
			slog.String("correlation_id", correlationID),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Ingestion failed: "+err.Error()))

		return
	}

	if !outcome.Succeeded() {
		reason := "payload rejected"
		if failure := outcome.FailureFor(requestID); failure != nil {
			reason = failure.Error()
		}

		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(reason))

		return
	}

	response := IngestResponse{
		Status:        "success",
		RequestID:     requestID,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to write ingest response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Invocation ingested",
		slog.String("correlation_id", correlationID),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// readPayload reads and size-checks the request body.
// Returns the body bytes or a ProblemDetail if validation fails.
func (s *Server) readPayload(r *http.Request) ([]byte, *ProblemDetail) {
	// Fail fast for known oversized requests; unknown sizes (-1) pass
	// through to the limited reader.
	if r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err != nil {
		return nil, BadRequest("Failed to read request body: " + err.Error())
	}

	if int64(len(body)) > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if len(body) == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	return body, nil
}

// invocationDeadline resolves the invocation deadline in milliseconds since
// Unix epoch from the request, defaulting to now + write timeout.
func (s *Server) invocationDeadline(r *http.Request) int64 {
	if header := r.Header.Get("X-Invocation-Deadline-Ms"); header != "" {
		if deadline, err := strconv.ParseInt(header, 10, 64); err == nil && deadline > 0 {
			return deadline
		}
	}

	return time.Now().Add(s.config.WriteTimeout).UnixMilli()
}

// invocationContext derives a context that expires at the invocation deadline.
func (s *Server) invocationContext(parent context.Context, deadlineMS int64) (context.Context, context.CancelFunc) {
	return context.WithDeadline(parent, time.UnixMilli(deadlineMS))
}
