// Package relaymq layers a three-verb application messaging model — COMMAND,
// QUERY and EVENT — on top of a point-to-point queue service (QSVC) and a
// topic fan-out service (TSVC).
package relaymq

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Reserved header keys that drive the adapter's wire protocol. Header keys
// with this prefix must not be set by callers directly.
const (
	HeaderMethod        = "__method"
	HeaderEventType     = "__event_type"
	HeaderRequestID     = "__request_id"
	HeaderReplyQueueURL = "__reply_queue_url"
)

// ErrEmptyMessagePayload is returned by NewMessage when given an empty payload.
var ErrEmptyMessagePayload = errors.New("empty message payload")

// Message is the envelope exchanged with QSVC/TSVC: an opaque body plus a
// header map. Reserved header keys are listed above.
type Message interface {
	ID() string
	Headers() Headers
	Payload() []byte
	At() time.Time
}

var _ json.Marshaler = (*GenericMessage)(nil)

// GenericMessage is the concrete Message implementation produced by the
// adapter and by transport backends when decoding an incoming message.
type GenericMessage struct {
	MsgID      string
	MsgHeaders Headers
	MsgPayload []byte
	MsgAt      time.Time
}

// NewMessage returns a new GenericMessage wrapping the given payload. The
// payload must not be empty.
func NewMessage(payload []byte) (*GenericMessage, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyMessagePayload
	}

	return &GenericMessage{
		MsgID:      uuid.NewString(),
		MsgPayload: payload,
		MsgHeaders: Headers{},
		MsgAt:      time.Now(),
	}, nil
}

// MarshalJSON implements json.Marshaler.
func (m *GenericMessage) MarshalJSON() ([]byte, error) {
	var payload any = string(m.MsgPayload)
	if json.Valid(m.MsgPayload) {
		payload = json.RawMessage(m.MsgPayload)
	}

	return json.Marshal(struct {
		ID      string    `json:"id"`
		Headers Headers   `json:"headers"`
		Payload any       `json:"payload"`
		At      time.Time `json:"at"`
	}{
		ID:      m.MsgID,
		Headers: m.MsgHeaders,
		Payload: payload,
		At:      m.MsgAt,
	})
}

// ID returns the message's identifier. It is transport-level only: the
// adapter attaches no protocol meaning to it beyond tracing/logging
// correlation, unlike the reserved __request_id header.
func (m *GenericMessage) ID() string { return m.MsgID }

// Headers returns the message headers.
func (m *GenericMessage) Headers() Headers { return m.MsgHeaders }

// Payload returns the message payload.
func (m *GenericMessage) Payload() []byte { return m.MsgPayload }

// At returns the message creation moment.
func (m *GenericMessage) At() time.Time { return m.MsgAt }

// SetHeader sets the given key-value pair in the message headers.
func (m *GenericMessage) SetHeader(key, value string) *GenericMessage {
	m.MsgHeaders.Set(key, value)

	return m
}

// Codec turns a user-supplied body value into wire bytes and back. It is
// the payload serializer spec.md names as an injectable collaborator; the
// adapter never inspects the body itself.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default Codec, built on encoding/json.
type JSONCodec struct{}

// Marshal implements Codec.
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
