// Package envelope defines the immutable record every event travels in and
// its JSON wire format.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errs "github.com/drblury/eventflow/internal/runtime/errors"
	"github.com/drblury/eventflow/internal/runtime/ids"
	"github.com/drblury/eventflow/internal/runtime/jsoncodec"
	"github.com/drblury/eventflow/internal/runtime/metadata"
)

// Envelope is what gets appended to a topic. Once built, ID, Type and
// Timestamp never change; follow-up facts are new envelopes.
type Envelope struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	CorrelationKey *string         `json:"correlationKey"`
	Payload        json.RawMessage `json:"payload"`
}

type options struct {
	correlationKey *string
	now            func() time.Time
	newID          func() string
}

// Option customises envelope construction.
type Option func(*options)

// WithCorrelationKey sets the key used for partition routing and correlation.
// An empty key is treated as absent.
func WithCorrelationKey(key string) Option {
	return func(o *options) {
		if key == "" {
			o.correlationKey = nil
			return
		}
		k := key
		o.correlationKey = &k
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides the id source.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// New builds an envelope with a fresh ULID and the current UTC time. payload
// may be raw JSON, a proto.Message or any value sonic can encode.
func New(eventType EventType, payload any, opts ...Option) (Envelope, error) {
	if eventType == "" {
		return Envelope{}, errs.ErrEventTypeRequired
	}
	o := options{now: time.Now, newID: ids.CreateULID}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := encodePayload(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	return Envelope{
		ID:             o.newID(),
		Type:           eventType,
		Timestamp:      o.now().UTC(),
		CorrelationKey: o.correlationKey,
		Payload:        body,
	}, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !jsoncodec.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), p...), nil
	case []byte:
		if !jsoncodec.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), p...), nil
	case proto.Message:
		return protojson.Marshal(p)
	default:
		return jsoncodec.Marshal(p)
	}
}

// PartitionKey is the correlation key, or the envelope id when none is set.
func (e Envelope) PartitionKey() string {
	if e.CorrelationKey != nil && *e.CorrelationKey != "" {
		return *e.CorrelationKey
	}
	return e.ID
}

// CorrelationKeyOrAnonymous is the value carried in the correlation header.
func (e Envelope) CorrelationKeyOrAnonymous() string {
	if e.CorrelationKey != nil && *e.CorrelationKey != "" {
		return *e.CorrelationKey
	}
	return metadata.AnonymousCorrelation
}

// DecodePayload unmarshals the payload into v.
func (e Envelope) DecodePayload(v any) error {
	return jsoncodec.Unmarshal(e.Payload, v)
}

// DecodeProto unmarshals a protojson payload into m. Unknown fields are
// tolerated so producers can add fields first.
func (e Envelope) DecodeProto(m proto.Message) error {
	return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(e.Payload, m)
}

// Marshal encodes the envelope in its wire form.
func Marshal(e Envelope) ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// Unmarshal decodes and validates a wire envelope. Anything missing an id,
// a type or a timestamp is rejected with ErrInvalidEnvelope.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := jsoncodec.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errs.ErrInvalidEnvelope, err)
	}
	switch {
	case e.ID == "":
		return Envelope{}, fmt.Errorf("%w: missing id", errs.ErrInvalidEnvelope)
	case e.Type == "":
		return Envelope{}, fmt.Errorf("%w: missing type", errs.ErrInvalidEnvelope)
	case e.Timestamp.IsZero():
		return Envelope{}, fmt.Errorf("%w: missing timestamp", errs.ErrInvalidEnvelope)
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage("null")
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}
