// Package nats provides a NATS JetStream transport. Each topic is a stream,
// each consumer group is a durable consumer shared through a queue group.
package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/eventflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.NATSCapabilities)
}

// Build creates the JetStream publisher and a per-group subscriber factory.
// Streams are created by the Provisioner, not lazily by Watermill.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &wmnats.NATSMarshaler{}
	options := connectOptions(cfg.GetConnectTimeout())

	publisher, err := PublisherFactory(
		wmnats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   wmnats.JetStreamConfig{TrackMsgId: true},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscribers := func(groupID string) (message.Subscriber, error) {
		return SubscriberFactory(
			wmnats.SubscriberConfig{
				URL:              url,
				QueueGroupPrefix: groupID,
				SubscribersCount: 1,
				NatsOptions:      options,
				Unmarshaler:      marshaler,
				JetStream: wmnats.JetStreamConfig{
					DurablePrefix: groupID,
				},
			},
			logger,
		)
	}

	return transport.Transport{
		Publisher:   publisher,
		Subscribers: subscribers,
		Provisioner: NewProvisioner(url, options),
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

func connectOptions(timeout time.Duration) []natsgo.Option {
	options := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
	}
	if timeout > 0 {
		options = append(options, natsgo.Timeout(timeout))
	}
	return options
}
