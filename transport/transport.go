// Package transport defines the broker-facing contract of eventflow. Each
// backend (kafka, rabbitmq, nats, aws, channel) lives in its own sub-package
// and registers a Builder with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MetadataKeyPartitionKey is the message header a transport reads to choose
// the partition of an outgoing message.
const MetadataKeyPartitionKey = "partition_key"

// TopicSpec declares one topic with its partition layout.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
}

// ProvisionOutcome tells whether a topic was created or already present.
type ProvisionOutcome int

const (
	ProvisionCreated ProvisionOutcome = iota
	ProvisionExisting
)

func (o ProvisionOutcome) String() string {
	if o == ProvisionExisting {
		return "existing"
	}
	return "created"
}

// ProvisionResult reports what happened to a single declared topic.
type ProvisionResult struct {
	Topic      string
	Outcome    ProvisionOutcome
	Partitions int32
}

// Provisioner creates missing topics. Topics that exist with at least the
// declared partition count come back as ProvisionExisting; anything else is
// returned as an error.
type Provisioner interface {
	Provision(ctx context.Context, specs []TopicSpec) ([]ProvisionResult, error)
}

// SubscriberFactory returns a subscriber bound to the given consumer group.
// Subscribers sharing a group id split the stream; distinct ids each see all
// of it.
type SubscriberFactory func(groupID string) (message.Subscriber, error)

// Locator extracts the partition and offset a delivered message was read
// from. ok is false when the transport does not expose them.
type Locator func(msg *message.Message) (partition int32, offset int64, ok bool)

// Transport is what a Builder hands back to the bus.
type Transport struct {
	Publisher   message.Publisher
	Subscribers SubscriberFactory
	// Provisioner is nil for transports that create topics implicitly.
	Provisioner Provisioner
	// Locate is nil when partition/offset are not exposed.
	Locate Locator
	// Close releases resources shared by the publisher and the subscribers.
	// Called once after every subscriber and the publisher are closed.
	Close func() error
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports without
// depending on the full config package.
type Config interface {
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaInitialOffset() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string

	// GetConnectTimeout bounds a single dial attempt.
	GetConnectTimeout() time.Duration
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
