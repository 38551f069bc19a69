package runtime

import (
	"context"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/eventflow/internal/runtime/envelope"
	"github.com/drblury/eventflow/internal/runtime/metadata"
)

// Delivery is one envelope handed to a consumer group, together with where
// it was read from. Partition is 0 and Offset -1 when the transport does not
// expose them.
type Delivery struct {
	Envelope  envelope.Envelope
	GroupID   string
	Topic     string
	Partition int32
	Offset    int64
	Metadata  metadata.Metadata
}

// Decode unmarshals the envelope payload into v.
func (d Delivery) Decode(v any) error {
	return d.Envelope.DecodePayload(v)
}

// DecodeProto unmarshals a protojson payload into m.
func (d Delivery) DecodeProto(m proto.Message) error {
	return d.Envelope.DecodeProto(m)
}

// Handler processes one delivery. The message is committed once Handler
// returns, whatever the outcome.
type Handler func(ctx context.Context, d Delivery) error
