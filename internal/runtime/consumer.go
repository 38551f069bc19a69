package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"

	"github.com/drblury/eventflow/internal/runtime/envelope"
	errspkg "github.com/drblury/eventflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/eventflow/internal/runtime/metadata"
	"github.com/drblury/eventflow/transport"
)

// consumerGroup runs one pull loop per subscribed topic. Each loop handles a
// message to completion before acking it and reading the next one.
type consumerGroup struct {
	id      string
	topics  []string
	handler Handler

	log       loggingpkg.ServiceLogger
	metrics   *Metrics
	locate    transport.Locator
	onFailure func(error)
	retry     time.Duration
	now       func() time.Time

	subscriber message.Subscriber
	subCancel  context.CancelFunc
	stop       chan struct{}
	stopOnce   sync.Once
	closeOnce  sync.Once
	closeErr   error
	loops      sync.WaitGroup
}

// start subscribes to every topic and launches the loops. Handlers run with
// ctx, which outlives the subscriptions so in-flight work can finish.
func (g *consumerGroup) start(ctx context.Context, subscriber message.Subscriber) error {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.subscriber = subscriber
	g.subCancel = cancel
	g.stop = make(chan struct{})

	for _, topic := range g.topics {
		messages, err := subscriber.Subscribe(subCtx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %q: %w", topic, err)
		}
		g.loops.Add(1)
		go g.consume(ctx, subCtx, topic, messages)
	}
	g.log.Info("Consumer group subscribed", loggingpkg.LogFields{"group_id": g.id, "topics": g.topics})
	return nil
}

// halt stops intake. Loops return after their current message.
func (g *consumerGroup) halt() {
	g.stopOnce.Do(func() {
		if g.stop != nil {
			close(g.stop)
		}
	})
}

func (g *consumerGroup) stopping() bool {
	select {
	case <-g.stop:
		return true
	default:
		return false
	}
}

// wait blocks until every loop of the group returned.
func (g *consumerGroup) wait() {
	g.loops.Wait()
}

// close cancels the subscriptions and closes the group's subscriber once.
func (g *consumerGroup) close() error {
	g.closeOnce.Do(func() {
		if g.subCancel != nil {
			g.subCancel()
		}
		if g.subscriber == nil {
			return
		}
		if err := g.subscriber.Close(); err != nil {
			g.closeErr = fmt.Errorf("close subscriber of group %q: %w", g.id, err)
		}
	})
	return g.closeErr
}

func (g *consumerGroup) consume(ctx, subCtx context.Context, topic string, messages <-chan *message.Message) {
	defer g.loops.Done()
	log := g.log.With(loggingpkg.LogFields{"group_id": g.id, "topic": topic})

	for {
		if g.stopping() {
			return
		}
		select {
		case <-g.stop:
			return
		case msg, ok := <-messages:
			if !ok {
				messages, ok = g.resubscribe(subCtx, topic, log)
				if !ok {
					return
				}
				continue
			}
			g.process(ctx, topic, msg, log)
		}
	}
}

// resubscribe reopens a subscription whose channel closed while the group
// was still supposed to be running.
func (g *consumerGroup) resubscribe(ctx context.Context, topic string, log loggingpkg.ServiceLogger) (<-chan *message.Message, bool) {
	if ctx.Err() != nil || g.stopping() {
		return nil, false
	}
	log.Info("Subscription closed unexpectedly, resubscribing", nil)

	expo := backoff.NewExponentialBackOff()
	if g.retry > 0 {
		expo.InitialInterval = g.retry
	}
	messages, err := backoff.Retry(ctx, func() (<-chan *message.Message, error) {
		if g.stopping() {
			return nil, backoff.Permanent(errspkg.ErrBusStopped)
		}
		return g.subscriber.Subscribe(ctx, topic)
	},
		backoff.WithBackOff(expo),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Error("Resubscribe failed", err, loggingpkg.LogFields{"retry_in": next.String()})
		}),
	)
	if err != nil {
		if ctx.Err() == nil && !g.stopping() {
			log.Error("Giving up on subscription", err, nil)
		}
		return nil, false
	}
	return messages, true
}

func (g *consumerGroup) process(ctx context.Context, topic string, msg *message.Message, log loggingpkg.ServiceLogger) {
	defer msg.Ack()

	partition, offset := int32(0), int64(-1)
	if g.locate != nil {
		if p, o, ok := g.locate(msg); ok {
			partition, offset = p, o
		}
	}

	env, err := envelope.FromMessage(msg)
	if err != nil {
		failure := &errspkg.DeserializationFailure{
			GroupID:   g.id,
			Topic:     topic,
			Partition: partition,
			Offset:    offset,
			MessageID: msg.UUID,
			Err:       err,
		}
		log.Error("Skipping message that is not a valid envelope", failure, loggingpkg.LogFields{
			"partition":  partition,
			"offset":     offset,
			"message_id": msg.UUID,
		})
		g.metrics.recordDeserializationFailure(g.id, topic)
		g.report(failure)
		return
	}

	d := Delivery{
		Envelope:  env,
		GroupID:   g.id,
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Metadata:  metadatapkg.FromWatermill(msg.Metadata),
	}

	start := g.now()
	if err := g.handler(ctx, d); err != nil {
		failure := &errspkg.HandlerFailure{
			GroupID:   g.id,
			Topic:     topic,
			Partition: partition,
			Offset:    offset,
			EventID:   env.ID,
			EventType: env.Type.String(),
			Err:       err,
		}
		log.Error("Handler failed, event is committed anyway", failure, loggingpkg.LogFields{
			"partition":  partition,
			"offset":     offset,
			"event_id":   env.ID,
			"event_type": env.Type.String(),
		})
		g.metrics.recordHandlerFailure(g.id, env.Type.String())
		g.report(failure)
	}
	g.metrics.recordConsumed(g.id, topic, env.Type.String(), g.now().Sub(start))
}

func (g *consumerGroup) report(err error) {
	if g.onFailure != nil {
		g.onFailure(err)
	}
}
