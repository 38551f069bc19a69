package transport

// Capabilities describes the delivery guarantees of a transport backend.
type Capabilities struct {
	// Name is the registry name of the transport.
	Name string

	// SupportsOrdering indicates messages sharing a partition key are
	// delivered in publish order.
	SupportsOrdering bool

	// SupportsPartitioning indicates topics are split into partitions spread
	// across the members of a consumer group.
	SupportsPartitioning bool

	// SupportsConsumerGroups indicates a group id maps to shared, tracked
	// progress on the broker.
	SupportsConsumerGroups bool

	// SupportsProvisioning indicates the transport creates topics with an
	// explicit partition layout.
	SupportsProvisioning bool

	// SupportsAck indicates progress is only recorded after an explicit ack.
	SupportsAck bool

	// Durable indicates published messages survive a process restart.
	Durable bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// AtLeastOnce reports whether an unacked message is redelivered after a crash.
func (c Capabilities) AtLeastOnce() bool {
	return c.SupportsAck && c.Durable
}

var (
	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsOrdering:       true,
		SupportsPartitioning:   true,
		SupportsConsumerGroups: true,
		SupportsProvisioning:   true,
		SupportsAck:            true,
		Durable:                true,
		MaxMessageSize:         1048576,
	}

	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:                   "channel",
		SupportsOrdering:       true,
		SupportsConsumerGroups: true,
		SupportsAck:            true,
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP with one durable queue per group.
	RabbitMQCapabilities = Capabilities{
		Name:                   "rabbitmq",
		SupportsOrdering:       true,
		SupportsConsumerGroups: true,
		SupportsAck:            true,
		Durable:                true,
	}

	// NATSCapabilities for NATS JetStream with durable queue groups.
	NATSCapabilities = Capabilities{
		Name:                   "nats",
		SupportsOrdering:       true,
		SupportsConsumerGroups: true,
		SupportsAck:            true,
		Durable:                true,
		MaxMessageSize:         1048576,
	}

	// AWSCapabilities for SNS fan-out into one SQS queue per group.
	AWSCapabilities = Capabilities{
		Name:                   "aws",
		SupportsConsumerGroups: true,
		SupportsAck:            true,
		Durable:                true,
		MaxMessageSize:         262144,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
// Unknown names yield a Capabilities value carrying only the name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
