package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/lakefeed-io/lakefeed/internal/schema"
)

// fixedClock pins the encoder clock for deterministic assertions.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func tableDescriptor(t *testing.T, messageName string) protoreflect.MessageDescriptor {
	t.Helper()

	blob, err := schema.BuiltinDescriptorSet()
	if err != nil {
		t.Fatalf("BuiltinDescriptorSet() error = %v", err)
	}

	registry, err := schema.NewRegistry(blob)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	desc, err := registry.Message(schema.BuiltinFile, messageName)
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}

	return desc
}

func decodeRecord(t *testing.T, desc protoreflect.MessageDescriptor, data []byte) *dynamicpb.Message {
	t.Helper()

	msg := dynamicpb.NewMessage(desc)
	if err := proto.Unmarshal(data, msg); err != nil {
		t.Fatalf("failed to decode canonical record: %v", err)
	}

	return msg
}

func stringField(msg *dynamicpb.Message, name string) string {
	fd := msg.Descriptor().Fields().ByName(protoreflect.Name(name))

	return msg.Get(fd).String()
}

func intField(msg *dynamicpb.Message, name string) int64 {
	fd := msg.Descriptor().Fields().ByName(protoreflect.Name(name))

	return msg.Get(fd).Int()
}

func TestEncode_GenericEvent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	at := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	desc := tableDescriptor(t, schema.MessageRawInvocations)
	encoder := NewEncoderWithClock(desc, fixedClock(at))

	event := &GenericEvent{
		Payload: json.RawMessage(`{"order_id":42}`),
		Context: InvocationContext{
			RequestID:  "req-123",
			DeadlineMS: at.Add(30*time.Second).UnixMilli(),
			ReceivedAt: at,
		},
	}

	rec, err := encoder.Encode(event)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if rec.EventID != "req-123" {
		t.Errorf("EventID = %s, want req-123", rec.EventID)
	}

	msg := decodeRecord(t, desc, rec.Data)

	if got := stringField(msg, "request_id"); got != "req-123" {
		t.Errorf("request_id = %s, want req-123", got)
	}

	if got := stringField(msg, "payload"); got != `{"order_id":42}` {
		t.Errorf("payload = %s, want raw payload JSON", got)
	}

	if got := intField(msg, "ingested_at"); got != at.UnixMicro() {
		t.Errorf("ingested_at = %d, want %d", got, at.UnixMicro())
	}

	if got := intField(msg, "ingested_date"); got != at.Unix()/86400 {
		t.Errorf("ingested_date = %d, want %d", got, at.Unix()/86400)
	}
}

func TestEncode_TimestampsFromSingleClockRead(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// A clock that jumps a full day per read would desynchronize ingested_at
	// and ingested_date if the encoder read it more than once per event.
	now := time.Date(2025, 6, 15, 23, 59, 59, 0, time.UTC)
	reads := 0
	clock := func() time.Time {
		now = now.Add(time.Duration(reads) * 24 * time.Hour)
		reads++

		return now
	}

	desc := tableDescriptor(t, schema.MessageRawInvocations)
	encoder := NewEncoderWithClock(desc, clock)

	rec, err := encoder.Encode(&GenericEvent{
		Context: InvocationContext{RequestID: "req-clock"},
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	msg := decodeRecord(t, desc, rec.Data)
	ingestedAt := intField(msg, "ingested_at")
	ingestedDate := intField(msg, "ingested_date")

	if want := (ingestedAt / 1_000_000) / 86400; ingestedDate != want {
		t.Errorf("ingested_date = %d, want %d (derived from ingested_at)", ingestedDate, want)
	}

	if reads != 1 {
		t.Errorf("clock reads = %d, want 1", reads)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	at := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	desc := tableDescriptor(t, schema.MessageQueueMessages)
	encoder := NewEncoderWithClock(desc, fixedClock(at))

	message := &QueueMessage{
		MessageID:     "msg-1",
		ReceiptHandle: "rh-1",
		Body:          "hello",
		Attributes: map[string]string{
			"ApproximateReceiveCount": "1",
			"SenderId":                "AIDAEXAMPLE",
			"SentTimestamp":           "1750000000000",
		},
		MessageAttributes: map[string]MessageAttribute{
			"trace": {DataType: "String", StringValue: "abc"},
		},
		QueueARN: "arn:aws:sqs:us-east-1:123456789012:orders",
		Region:   "us-east-1",
	}

	first, err := encoder.Encode(message)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	second, err := encoder.Encode(message)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if !bytes.Equal(first.Data, second.Data) {
		t.Error("Encode() is not deterministic for identical input and clock reading")
	}

	if first.Key != second.Key {
		t.Errorf("idempotency keys differ: %s vs %s", first.Key, second.Key)
	}
}

func TestEncode_QueueMessageValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	desc := tableDescriptor(t, schema.MessageQueueMessages)
	encoder := NewEncoderWithClock(desc, fixedClock(time.Unix(1750000000, 0)))

	tests := []struct {
		name    string
		message *QueueMessage
		wantErr error
	}{
		{
			name:    "missing message id",
			message: &QueueMessage{ReceiptHandle: "rh-1", Body: "x"},
			wantErr: ErrMissingMessageID,
		},
		{
			name:    "missing receipt handle",
			message: &QueueMessage{MessageID: "msg-1", Body: "x"},
			wantErr: ErrMissingReceiptHandle,
		},
		{
			name:    "valid minimal message",
			message: &QueueMessage{MessageID: "msg-1", ReceiptHandle: "rh-1"},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := encoder.Encode(tt.message)

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Encode() error = %v, want nil", err)
				}

				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Encode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncode_GenericEventMissingRequestID(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	desc := tableDescriptor(t, schema.MessageRawInvocations)
	encoder := NewEncoder(desc)

	_, err := encoder.Encode(&GenericEvent{Payload: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrMissingRequestID) {
		t.Errorf("Encode() error = %v, want ErrMissingRequestID", err)
	}
}

func TestEncode_MessageAttributesSurviveRoundTrip(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	desc := tableDescriptor(t, schema.MessageQueueMessages)
	encoder := NewEncoderWithClock(desc, fixedClock(time.Unix(1750000000, 0)))

	rec, err := encoder.Encode(&QueueMessage{
		MessageID:     "msg-1",
		ReceiptHandle: "rh-1",
		MessageAttributes: map[string]MessageAttribute{
			"checksum": {DataType: "Binary", BinaryValue: []byte{0x01, 0x02}},
		},
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	msg := decodeRecord(t, desc, rec.Data)
	fd := desc.Fields().ByName("message_attributes")
	entry := msg.Get(fd).Map().Get(protoreflect.ValueOfString("checksum").MapKey())

	if !entry.IsValid() {
		t.Fatal("message_attributes missing checksum entry")
	}

	var attr MessageAttribute
	if err := json.Unmarshal([]byte(entry.String()), &attr); err != nil {
		t.Fatalf("failed to decode attribute JSON: %v", err)
	}

	if attr.DataType != "Binary" || !bytes.Equal(attr.BinaryValue, []byte{0x01, 0x02}) {
		t.Errorf("attribute round-trip mismatch: %+v", attr)
	}
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	a := IdempotencyKey("msg-1", []byte("record"))
	b := IdempotencyKey("msg-1", []byte("record"))
	c := IdempotencyKey("msg-2", []byte("record"))

	if a != b {
		t.Error("identical inputs produced different keys")
	}

	if a == c {
		t.Error("different event ids produced the same key")
	}

	if len(a) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(a))
	}
}
