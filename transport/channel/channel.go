// Package channel provides an in-memory Go channel transport. Every group
// sees the full stream of a topic and a publish returns only after each
// subscribed group acked the message, which keeps per-topic order.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/eventflow/internal/runtime/topics"
	"github.com/drblury/eventflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pubSub := Factory(gochannel.Config{
		OutputChannelBuffer:            0,
		BlockPublishUntilSubscriberAck: true,
	}, logger)

	return transport.Transport{
		Publisher: publisher{pubSub},
		Subscribers: func(groupID string) (message.Subscriber, error) {
			return groupSubscriber{pubSub}, nil
		},
		Provisioner: topics.NewMemoryProvisioner(nil),
		Close:       pubSub.Close,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// publisher and groupSubscriber share one GoChannel; only Transport.Close
// shuts it down.
type publisher struct {
	pubSub *gochannel.GoChannel
}

func (p publisher) Publish(topic string, messages ...*message.Message) error {
	return p.pubSub.Publish(topic, messages...)
}

func (p publisher) Close() error { return nil }

type groupSubscriber struct {
	pubSub *gochannel.GoChannel
}

func (s groupSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.pubSub.Subscribe(ctx, topic)
}

func (s groupSubscriber) Close() error { return nil }
