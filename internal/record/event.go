// Package record provides domain models and canonical encoding for inbound events.
//
// An inbound event is one unit of source data delivered by a trigger: either a
// generic invocation payload or a single queue message out of a batch. Events
// are immutable once received and live for exactly one invocation. Encoding
// projects an event onto the destination table schema, producing the canonical
// binary record that is submitted to the ingestion stream.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for event validation during encoding. All of them mark the
// single event as failed; none of them abort the invocation.
var (
	// ErrMissingRequestID indicates a generic invocation without a request identifier.
	ErrMissingRequestID = errors.New("request id is required")

	// ErrMissingMessageID indicates a queue message without a message identifier.
	ErrMissingMessageID = errors.New("message id is required")

	// ErrMissingReceiptHandle indicates a queue message without a receipt handle.
	ErrMissingReceiptHandle = errors.New("receipt handle is required")
)

type (
	// Event is one inbound event to be projected onto a table schema.
	//
	// Implementations are the trigger payload variants (GenericEvent,
	// QueueMessage). The canonical record shape is the same family for every
	// variant: the variant-specific columns plus ingested_at / ingested_date
	// stamped by the encoder.
	Event interface {
		// ID returns the event's natural identifier: the queue message id for
		// queue messages, the invocation request id for generic payloads. It
		// keys the per-item outcome in batch responses.
		ID() string

		// columns projects the event onto its table columns. The instant is
		// the single clock reading taken by the encoder for this event.
		columns(at time.Time) (map[string]any, error)
	}

	// InvocationContext carries the metadata of one invocation: who asked,
	// when it arrived, and when it must be finished.
	InvocationContext struct {
		// RequestID uniquely identifies the invocation.
		RequestID string `json:"requestId"`

		// DeadlineMS is the invocation deadline in milliseconds since Unix epoch.
		DeadlineMS int64 `json:"deadlineMs"`

		// ReceivedAt is the arrival time of the invocation.
		ReceivedAt time.Time `json:"receivedAt"`

		// Source identifies where the invocation came from (remote address,
		// trigger identity). Optional.
		Source string `json:"source,omitempty"`
	}

	// GenericEvent is an arbitrary JSON payload delivered by a single-event
	// invocation. The payload is stored verbatim; only the invocation metadata
	// is structured.
	GenericEvent struct {
		Payload json.RawMessage
		Context InvocationContext
	}

	// QueueMessage is one message out of a queue-batch invocation.
	QueueMessage struct {
		MessageID              string
		ReceiptHandle          string
		Body                   string
		MD5OfBody              string
		MD5OfMessageAttributes string

		// Attributes are the queue system attributes (ApproximateReceiveCount, ...).
		Attributes map[string]string

		// MessageAttributes are the user-defined typed attributes.
		MessageAttributes map[string]MessageAttribute

		// QueueARN identifies the source queue, shared across the batch.
		QueueARN string

		// Region is the queue's region, shared across the batch.
		Region string
	}

	// MessageAttribute is a user-defined queue message attribute.
	MessageAttribute struct {
		DataType         string   `json:"dataType"`
		StringValue      string   `json:"stringValue,omitempty"`
		BinaryValue      []byte   `json:"binaryValue,omitempty"`
		StringListValues []string `json:"stringListValues,omitempty"`
		BinaryListValues [][]byte `json:"binaryListValues,omitempty"`
	}
)

// ID returns the invocation request identifier.
func (e *GenericEvent) ID() string {
	return e.Context.RequestID
}

// columns projects the generic event onto the table_raw_invocations shape.
func (e *GenericEvent) columns(_ time.Time) (map[string]any, error) {
	if e.Context.RequestID == "" {
		return nil, ErrMissingRequestID
	}

	contextJSON, err := json.Marshal(e.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize invocation context: %w", err)
	}

	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}

	return map[string]any{
		"request_id": e.Context.RequestID,
		"payload":    string(payload),
		"context":    string(contextJSON),
		"deadline":   e.Context.DeadlineMS,
	}, nil
}

// ID returns the queue message identifier.
func (m *QueueMessage) ID() string {
	return m.MessageID
}

// columns projects the queue message onto the table_queue_messages shape.
//
// Message attributes are flattened to a string map: each value is the JSON
// encoding of the typed attribute (data type, string value, base64 binary
// value). System attributes are carried as-is.
func (m *QueueMessage) columns(_ time.Time) (map[string]any, error) {
	if m.MessageID == "" {
		return nil, ErrMissingMessageID
	}

	if m.ReceiptHandle == "" {
		return nil, ErrMissingReceiptHandle
	}

	messageAttributes := make(map[string]string, len(m.MessageAttributes))

	for name, attr := range m.MessageAttributes {
		encoded, err := json.Marshal(attr)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize message attribute %q: %w", name, err)
		}

		messageAttributes[name] = string(encoded)
	}

	attributes := m.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}

	return map[string]any{
		"message_id":                m.MessageID,
		"receipt_handle":            m.ReceiptHandle,
		"body":                      m.Body,
		"md5_of_body":               m.MD5OfBody,
		"md5_of_message_attributes": m.MD5OfMessageAttributes,
		"attributes":                attributes,
		"message_attributes":        messageAttributes,
		"queue_arn":                 m.QueueARN,
		"aws_region":                m.Region,
	}, nil
}
