package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Compile-time interface check.
var _ Stream = (*kafkaStream)(nil)

// kafkaStream is a Kafka-backed ingestion session. One session owns one
// writer bound to the destination table topic; records are written
// asynchronously and tracked until the broker acknowledges them.
type kafkaStream struct {
	cfg    Config
	writer *kafka.Writer
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]Record // idempotency key -> record, removed on ack
	closed  bool

	inflight sync.WaitGroup
}

func newKafkaStream(cfg Config, writer *kafka.Writer, logger *slog.Logger) *kafkaStream {
	return &kafkaStream{
		cfg:     cfg,
		writer:  writer,
		logger:  logger,
		pending: make(map[string]Record),
	}
}

// Submit writes one record to the sink asynchronously. The returned handle
// resolves when the broker acknowledges the write (or rejects it).
func (s *kafkaStream) Submit(ctx context.Context, rec Record) (*AckHandle, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return nil, ErrStreamClosed
	}

	s.pending[rec.Key] = rec
	s.mu.Unlock()

	handle := NewAckHandle()

	s.inflight.Add(1)

	go func() {
		defer s.inflight.Done()

		err := s.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(rec.Key),
			Value: rec.Data,
		})
		if err == nil {
			s.mu.Lock()
			delete(s.pending, rec.Key)
			s.mu.Unlock()
		} else {
			s.logger.Warn("Record submission failed",
				slog.String("table", s.cfg.Table),
				slog.String("record_key", rec.Key),
				slog.String("error", err.Error()),
			)
		}

		handle.Resolve(err)
	}()

	return handle, nil
}

// Flush blocks until all in-flight submissions have resolved or ctx ends.
func (s *kafkaStream) Flush(ctx context.Context) error {
	settled := make(chan struct{})

	go func() {
		s.inflight.Wait()
		close(settled)
	}()

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush interrupted: %w", ctx.Err())
	}
}

// Close flushes outstanding submissions and tears down the writer. It fails
// when the transport could not be torn down cleanly or when any record is
// still unacknowledged; the backlog stays retrievable via Unacknowledged.
func (s *kafkaStream) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	flushErr := s.Flush(ctx)

	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close sink writer: %w", err)
	}

	if flushErr != nil {
		return flushErr
	}

	s.mu.Lock()
	remaining := len(s.pending)
	s.mu.Unlock()

	if remaining > 0 {
		return fmt.Errorf("%w: %d records", ErrUnacknowledged, remaining)
	}

	return nil
}

// Unacknowledged returns a snapshot of the records this session never got
// confirmed. The snapshot is stable: recovery consumes it exactly once.
func (s *kafkaStream) Unacknowledged() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Record, 0, len(s.pending))
	for _, rec := range s.pending {
		records = append(records, rec)
	}

	return records, nil
}

// Config returns the session configuration for replacement sessions.
func (s *kafkaStream) Config() Config {
	return s.cfg
}
