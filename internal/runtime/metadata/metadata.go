package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// Header keys carried next to the envelope body so consumers and broker
// tooling can route on them without decoding the payload.
const (
	KeyEventType      = "event_type"
	KeyCorrelationKey = "correlation_key"
	KeyPartitionKey   = "partition_key"
	KeyPublishedAt    = "published_at"
)

// AnonymousCorrelation is logged and propagated when an event has no
// correlation key.
const AnonymousCorrelation = "anonymous"

// Metadata represents the headers carried alongside an event.
type Metadata map[string]string

// Clone returns a shallow copy of the metadata map. Never nil.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// Merge returns a clone of m overlaid with entries. Reserved header keys in
// entries are ignored.
func (m Metadata) Merge(entries Metadata) Metadata {
	cloned := m.Clone()
	for k, v := range entries {
		if IsReserved(k) {
			continue
		}
		cloned[k] = v
	}
	return cloned
}

// IsReserved reports whether key is one of the headers the bus owns.
func IsReserved(key string) bool {
	switch key {
	case KeyEventType, KeyCorrelationKey, KeyPartitionKey, KeyPublishedAt:
		return true
	}
	return false
}

// FromWatermill converts Watermill metadata into Metadata.
func FromWatermill(md message.Metadata) Metadata {
	return Metadata(md).Clone()
}

// ToWatermill converts Metadata into a Watermill map.
func ToWatermill(md Metadata) message.Metadata {
	return message.Metadata(md.Clone())
}
