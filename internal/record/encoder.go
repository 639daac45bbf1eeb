package record

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

const secondsPerDay = 86400

// Sentinel errors for schema projection failures.
var (
	// ErrSchemaMismatch indicates the event produced a column the table schema
	// does not declare, or a column of an unsupported kind. This points at a
	// descriptor/table mismatch, but it is still confined to the single event.
	ErrSchemaMismatch = errors.New("event does not match table schema")
)

type (
	// CanonicalRecord is the schema-bound binary projection of one inbound
	// event, ready for submission to the ingestion stream. It is produced
	// once per event and never mutated afterwards.
	CanonicalRecord struct {
		// EventID is the natural identifier of the source event.
		EventID string

		// Key is the idempotency key for the sink: deterministic for identical
		// event content, so redelivered events produce identical record keys.
		Key string

		// Data is the serialized record.
		Data []byte
	}

	// Encoder projects inbound events onto one destination table schema.
	//
	// Encoding is deterministic for identical input and clock reading: the
	// timestamp columns come from a single clock read per event, and record
	// serialization uses deterministic field ordering.
	Encoder struct {
		desc  protoreflect.MessageDescriptor
		clock func() time.Time
	}
)

// NewEncoder creates an encoder bound to the given table message schema,
// stamping records with the system clock.
func NewEncoder(desc protoreflect.MessageDescriptor) *Encoder {
	return NewEncoderWithClock(desc, time.Now)
}

// NewEncoderWithClock creates an encoder with an injectable clock. Used by
// tests to pin ingestion timestamps.
func NewEncoderWithClock(desc protoreflect.MessageDescriptor, clock func() time.Time) *Encoder {
	return &Encoder{
		desc:  desc,
		clock: clock,
	}
}

// Encode produces the canonical record for one event.
//
// The clock is read exactly once: ingested_at (microseconds since Unix epoch)
// and ingested_date (days since Unix epoch) are derived from the same instant
// and are always mutually consistent.
//
// Errors are per-event: a malformed event (missing identifier, unserializable
// attribute) fails encoding for that event only and must be reported as an
// item failure by the caller, never as an invocation abort.
func (e *Encoder) Encode(event Event) (*CanonicalRecord, error) {
	now := e.clock()

	columns, err := event.columns(now)
	if err != nil {
		return nil, err
	}

	columns["ingested_at"] = now.UnixMicro()
	columns["ingested_date"] = int32(now.Unix() / secondsPerDay)

	msg := dynamicpb.NewMessage(e.desc)

	for name, value := range columns {
		if err := setColumn(msg, e.desc, name, value); err != nil {
			return nil, err
		}
	}

	// Deterministic marshaling keeps map columns stable across encodes of the
	// same event, which the idempotency key depends on.
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record for event %s: %w", event.ID(), err)
	}

	return &CanonicalRecord{
		EventID: event.ID(),
		Key:     IdempotencyKey(event.ID(), data),
		Data:    data,
	}, nil
}

// setColumn writes one column value into the dynamic message.
func setColumn(msg *dynamicpb.Message, desc protoreflect.MessageDescriptor, name string, value any) error {
	fd := desc.Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		return fmt.Errorf("%w: column %s not declared by %s", ErrSchemaMismatch, name, desc.Name())
	}

	switch v := value.(type) {
	case string:
		msg.Set(fd, protoreflect.ValueOfString(v))
	case int64:
		msg.Set(fd, protoreflect.ValueOfInt64(v))
	case int32:
		msg.Set(fd, protoreflect.ValueOfInt32(v))
	case map[string]string:
		if !fd.IsMap() {
			return fmt.Errorf("%w: column %s is not a map column", ErrSchemaMismatch, name)
		}

		m := msg.Mutable(fd).Map()
		for key, val := range v {
			m.Set(protoreflect.ValueOfString(key).MapKey(), protoreflect.ValueOfString(val))
		}
	default:
		return fmt.Errorf("%w: column %s has unsupported type %T", ErrSchemaMismatch, name, value)
	}

	return nil
}

// IdempotencyKey generates the deterministic sink key for a record.
//
// Formula: SHA256(eventID + record bytes), lowercase hex. Identical event
// content always yields the same key, so an at-least-once replay lands with
// the same identifier at the sink.
func IdempotencyKey(eventID string, data []byte) string {
	hasher := sha256.New()
	hasher.Write([]byte(eventID))
	hasher.Write(data)

	return hex.EncodeToString(hasher.Sum(nil))
}
