package envelope

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventflow/internal/runtime/metadata"
)

// ToMessage wraps the envelope into a Watermill message. The message UUID is
// the envelope id and the routing headers are filled in; extra entries in md
// never override them.
func ToMessage(e Envelope, md metadata.Metadata) (*message.Message, error) {
	body, err := Marshal(e)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(e.ID, body)
	headers := metadata.Metadata{}.Merge(md)
	headers[metadata.KeyEventType] = e.Type.String()
	headers[metadata.KeyCorrelationKey] = e.CorrelationKeyOrAnonymous()
	headers[metadata.KeyPartitionKey] = e.PartitionKey()
	headers[metadata.KeyPublishedAt] = e.Timestamp.Format(time.RFC3339Nano)
	msg.Metadata = metadata.ToWatermill(headers)
	return msg, nil
}

// FromMessage decodes the envelope carried in msg's payload. Headers are
// informational only; the payload is authoritative.
func FromMessage(msg *message.Message) (Envelope, error) {
	return Unmarshal(msg.Payload)
}
