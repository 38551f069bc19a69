// Package kafka provides the Kafka transport of eventflow: a keyed,
// partitioned log with broker-side consumer groups.
package kafka

import (
	"context"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates the shared publisher and returns a subscriber factory that
// binds each subscriber to its own consumer group.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.NewWithPartitioningMarshaler(PartitionKey),
			OverwriteSaramaConfig: publisherSaramaConfig(cfg),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscribers := func(groupID string) (message.Subscriber, error) {
		return SubscriberFactory(
			kafka.SubscriberConfig{
				Brokers:               brokers,
				Unmarshaler:           kafka.DefaultMarshaler{},
				ConsumerGroup:         groupID,
				OverwriteSaramaConfig: subscriberSaramaConfig(cfg),
				ReconnectRetrySleep:   time.Second,
			},
			logger,
		)
	}

	return transport.Transport{
		Publisher:   publisher,
		Subscribers: subscribers,
		Provisioner: NewProvisioner(brokers, adminSaramaConfig(cfg)),
		Locate:      Locate,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// PartitionKey reads the partition key header set by the publisher. Messages
// without one fall back to their UUID, which is the envelope id.
func PartitionKey(topic string, msg *message.Message) (string, error) {
	if key := msg.Metadata.Get(transport.MetadataKeyPartitionKey); key != "" {
		return key, nil
	}
	return msg.UUID, nil
}

// Locate reads the partition and offset the Kafka subscriber stored in the
// message context.
func Locate(msg *message.Message) (int32, int64, bool) {
	partition, ok := kafka.MessagePartitionFromCtx(msg.Context())
	if !ok {
		return 0, -1, false
	}
	offset, ok := kafka.MessagePartitionOffsetFromCtx(msg.Context())
	if !ok {
		offset = -1
	}
	return partition, offset, true
}

func baseSaramaConfig(cfg transport.Config, sc *sarama.Config) *sarama.Config {
	sc.Version = sarama.V2_1_0_0
	if id := cfg.GetKafkaClientID(); id != "" {
		sc.ClientID = id
	}
	if timeout := cfg.GetConnectTimeout(); timeout > 0 {
		sc.Net.DialTimeout = timeout
	}
	return sc
}

func publisherSaramaConfig(cfg transport.Config) *sarama.Config {
	sc := baseSaramaConfig(cfg, kafka.DefaultSaramaSyncPublisherConfig())
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 0
	return sc
}

func subscriberSaramaConfig(cfg transport.Config) *sarama.Config {
	sc := baseSaramaConfig(cfg, kafka.DefaultSaramaSubscriberConfig())
	sc.Consumer.Offsets.Initial = InitialOffset(cfg.GetKafkaInitialOffset())
	sc.Consumer.Offsets.AutoCommit.Enable = true
	return sc
}

func adminSaramaConfig(cfg transport.Config) *sarama.Config {
	return baseSaramaConfig(cfg, sarama.NewConfig())
}

// InitialOffset maps "oldest"/"newest" onto sarama's offset constants.
// Anything else is oldest.
func InitialOffset(name string) int64 {
	if strings.EqualFold(name, "newest") {
		return sarama.OffsetNewest
	}
	return sarama.OffsetOldest
}
