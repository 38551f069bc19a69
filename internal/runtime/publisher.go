package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/eventflow/internal/runtime/envelope"
	errspkg "github.com/drblury/eventflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/eventflow/internal/runtime/metadata"
	"github.com/drblury/eventflow/internal/runtime/topics"
)

// Producer emits events onto declared topics. Business services depend on
// this rather than on the bus.
type Producer interface {
	Publish(ctx context.Context, topic string, eventType envelope.EventType, payload any, opts ...PublishOption) (envelope.Envelope, error)
}

type publishOptions struct {
	correlationKey string
	metadata       metadatapkg.Metadata
}

// PublishOption customises a single publish.
type PublishOption func(*publishOptions)

// WithCorrelationKey routes the event by key: events sharing a key land on
// the same partition in publish order. Without it the envelope id is used.
func WithCorrelationKey(key string) PublishOption {
	return func(o *publishOptions) {
		o.correlationKey = key
	}
}

// WithMetadata attaches extra headers. Reserved header keys are ignored.
func WithMetadata(md metadatapkg.Metadata) PublishOption {
	return func(o *publishOptions) {
		o.metadata = o.metadata.Merge(md)
	}
}

// Publisher builds envelopes and appends them to the shared transport
// publisher. It is safe for concurrent use and keeps no local state: a
// failed send is reported, never retried.
type Publisher struct {
	pub     message.Publisher
	topics  *topics.Registry
	types   envelope.TypeSet
	log     loggingpkg.ServiceLogger
	metrics *Metrics
	now     func() time.Time
	newID   func() string
}

// PublisherOptions carries the collaborators of a Publisher.
type PublisherOptions struct {
	Topics  *topics.Registry
	Types   envelope.TypeSet
	Logger  loggingpkg.ServiceLogger
	Metrics *Metrics
	Clock   func() time.Time
	NewID   func() string
}

// NewPublisher wraps pub. Topics is required; the zero TypeSet accepts every
// non-empty type.
func NewPublisher(pub message.Publisher, opts PublisherOptions) (*Publisher, error) {
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if opts.Topics == nil {
		return nil, errspkg.ErrTopicsRequired
	}
	log := opts.Logger
	if log == nil {
		log = loggingpkg.Discard()
	}
	return &Publisher{
		pub:     pub,
		topics:  opts.Topics,
		types:   opts.Types,
		log:     log,
		metrics: opts.Metrics,
		now:     opts.Clock,
		newID:   opts.NewID,
	}, nil
}

// Publish builds an envelope for payload and appends it to topic. It returns
// the envelope once the broker accepted it. Broker errors come back as
// *errors.PublishFailure together with a zero Envelope.
func (p *Publisher) Publish(ctx context.Context, topic string, eventType envelope.EventType, payload any, opts ...PublishOption) (envelope.Envelope, error) {
	if err := p.validate(topic, eventType); err != nil {
		return envelope.Envelope{}, err
	}

	o := publishOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	env, err := envelope.New(eventType, payload,
		envelope.WithCorrelationKey(o.correlationKey),
		envelope.WithClock(p.now),
		envelope.WithIDGenerator(p.newID),
	)
	if err != nil {
		return envelope.Envelope{}, err
	}

	msg, err := envelope.ToMessage(env, o.metadata)
	if err != nil {
		return envelope.Envelope{}, err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.message.id", env.ID),
			attribute.String("eventflow.event_type", eventType.String()),
			attribute.String("eventflow.partition_key", env.PartitionKey()),
		),
	)
	defer span.End()
	msg.SetContext(ctx)

	fields := loggingpkg.LogFields{
		"topic":       topic,
		"event_type":  eventType.String(),
		"event_id":    env.ID,
		"correlation": env.CorrelationKeyOrAnonymous(),
	}

	sendErr := ctx.Err()
	if sendErr == nil {
		sendErr = p.pub.Publish(topic, msg)
	}
	if sendErr != nil {
		failure := &errspkg.PublishFailure{Topic: topic, EventType: eventType.String(), Err: sendErr}
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Error())
		p.metrics.recordPublishFailure(topic)
		p.log.Error("Failed to publish event", failure, fields)
		return envelope.Envelope{}, failure
	}

	p.metrics.recordPublished(topic, eventType.String())
	p.log.Debug("Event published", fields)
	return env, nil
}

// PublishProto publishes a protobuf payload encoded as protojson.
func (p *Publisher) PublishProto(ctx context.Context, topic string, eventType envelope.EventType, event proto.Message, opts ...PublishOption) (envelope.Envelope, error) {
	if event == nil {
		return envelope.Envelope{}, fmt.Errorf("eventflow: %s payload is nil", eventType)
	}
	return p.Publish(ctx, topic, eventType, event, opts...)
}

func (p *Publisher) validate(topic string, eventType envelope.EventType) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if !p.topics.Contains(topic) {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownTopic, topic)
	}
	if eventType == "" {
		return errspkg.ErrEventTypeRequired
	}
	if !p.types.Contains(eventType) {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownEventType, eventType)
	}
	return nil
}
