package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

const (
	dialTimeout    = 10 * time.Second
	openMaxRetries = 4
	batchTimeout   = 50 * time.Millisecond
)

// Compile-time interface check.
var _ SessionManager = (*KafkaSessionManager)(nil)

// KafkaSessionManager opens Kafka-backed ingestion sessions.
//
// The manager is process-wide state with a defined lifecycle: constructed
// once before the first invocation, read-only afterwards, and injected into
// the orchestrator. It holds no per-invocation state, so sessions opened for
// concurrent invocations never share anything beyond configuration.
type KafkaSessionManager struct {
	logger *slog.Logger
}

// NewKafkaSessionManager creates the process-wide session manager.
func NewKafkaSessionManager(logger *slog.Logger) *KafkaSessionManager {
	return &KafkaSessionManager{logger: logger}
}

// Open authenticates against the sink, resolves the destination table, and
// returns an open session. Transient transport failures are retried with
// exponential backoff; exhausting the retries fails with ErrOpenFailed,
// which is fatal for the invocation.
//
// Open is idempotent in configuration: calling it again with the same Config
// (as Recreate does during recovery) targets the same table and schema.
func (m *KafkaSessionManager) Open(ctx context.Context, cfg Config) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	mechanism := plain.Mechanism{
		Username: cfg.ClientID,
		Password: cfg.ClientSecret,
	}

	if err := m.resolveTable(ctx, cfg, mechanism); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Table,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: batchTimeout,
		Transport: &kafka.Transport{
			SASL:     mechanism,
			ClientID: cfg.Host,
		},
	}

	m.logger.Info("Ingestion session opened",
		slog.String("table", cfg.Table),
		slog.String("schema", string(cfg.Schema.Name())),
		slog.Int("max_inflight", cfg.MaxInflight),
	)

	return newKafkaStream(cfg, writer, m.logger), nil
}

// Recreate opens a replacement session with the failed session's exact
// configuration. Used only by recovery after a close failure.
func (m *KafkaSessionManager) Recreate(ctx context.Context, failed Stream) (Stream, error) {
	return m.Open(ctx, failed.Config())
}

// resolveTable verifies broker reachability, credentials, and that the
// destination table exists, retrying transient failures.
func (m *KafkaSessionManager) resolveTable(ctx context.Context, cfg Config, mechanism plain.Mechanism) error {
	dialer := &kafka.Dialer{
		Timeout:       dialTimeout,
		DualStack:     true,
		ClientID:      cfg.Host,
		SASLMechanism: mechanism,
	}

	probe := func() error {
		var lastErr error

		for _, broker := range cfg.Brokers {
			conn, err := dialer.DialContext(ctx, "tcp", broker)
			if err != nil {
				lastErr = err

				continue
			}

			partitions, err := conn.ReadPartitions(cfg.Table)
			_ = conn.Close()

			if err != nil {
				lastErr = err

				continue
			}

			if len(partitions) == 0 {
				return backoff.Permanent(fmt.Errorf("table %q not found at sink", cfg.Table))
			}

			return nil
		}

		return fmt.Errorf("no broker reachable: %w", lastErr)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), openMaxRetries),
		ctx,
	)

	return backoff.Retry(probe, policy)
}
