package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lakefeed-io/lakefeed/internal/pipeline"
)

// Compile-time interface check.
var _ pipeline.DeadLetterSink = (*Store)(nil)

var (
	// ErrNoDatabaseConnection is returned when the store is created without a connection.
	ErrNoDatabaseConnection = errors.New("database connection is required")

	// ErrRecordNil is returned when a nil record is passed to Add.
	ErrRecordNil = errors.New("dead-letter record cannot be nil")

	// ErrRecordNotFound is returned when the requested record does not exist.
	ErrRecordNotFound = errors.New("dead-letter record not found")
)

type (
	// Record is one dead-lettered ingestion record: the canonical bytes that
	// could not be delivered, plus enough context to replay them later.
	Record struct {
		ID        uuid.UUID
		Table     string
		Key       string
		Data      []byte
		Reason    string
		CreatedAt time.Time
	}

	// Store persists dead-lettered records in PostgreSQL.
	Store struct {
		conn   *Connection
		logger *slog.Logger
	}
)

// NewStore creates a dead-letter store on an established connection.
func NewStore(conn *Connection, logger *slog.Logger) (*Store, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &Store{
		conn:   conn,
		logger: logger,
	}, nil
}

// Add persists one dead-lettered record. A zero ID is replaced with a fresh
// UUID; CreatedAt is assigned by the database.
func (s *Store) Add(ctx context.Context, rec *Record) error {
	if rec == nil {
		return ErrRecordNil
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	query := `
		INSERT INTO dead_letter_records (id, table_name, record_key, record_data, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.conn.ExecContext(ctx, query, rec.ID, rec.Table, rec.Key, rec.Data, rec.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert dead-letter record %s: %w", rec.Key, err)
	}

	s.logger.Warn("Record dead-lettered",
		slog.String("table", rec.Table),
		slog.String("record_key", rec.Key),
		slog.String("reason", rec.Reason),
	)

	return nil
}

// DeadLetter persists one unrecoverable pipeline record. Satisfies the
// pipeline's dead-letter sink contract.
func (s *Store) DeadLetter(ctx context.Context, table, key string, data []byte, reason string) error {
	return s.Add(ctx, &Record{
		Table:  table,
		Key:    key,
		Data:   data,
		Reason: reason,
	})
}

// ListByTable returns dead-lettered records for one destination table, oldest
// first, up to limit.
func (s *Store) ListByTable(ctx context.Context, table string, limit int) ([]*Record, error) {
	query := `
		SELECT id, table_name, record_key, record_data, reason, created_at
		FROM dead_letter_records
		WHERE table_name = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := s.conn.QueryContext(ctx, query, table, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead-letter records: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	records := []*Record{}

	for rows.Next() {
		var rec Record

		if err := rows.Scan(&rec.ID, &rec.Table, &rec.Key, &rec.Data, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead-letter record: %w", err)
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// Delete removes a record after it has been replayed successfully.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	query := `
		DELETE FROM dead_letter_records
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete dead-letter record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// CountByTable returns the number of dead-lettered records for one table.
func (s *Store) CountByTable(ctx context.Context, table string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM dead_letter_records
		WHERE table_name = $1
	`

	var count int
	if err := s.conn.QueryRowContext(ctx, query, table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dead-letter records: %w", err)
	}

	return count, nil
}
