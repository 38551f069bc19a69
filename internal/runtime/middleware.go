package runtime

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
)

const tracerName = "eventflow"

// Middleware wraps a Handler with cross-cutting behaviour.
type Middleware func(Handler) Handler

// Chain applies middlewares so the first one is the outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		h = middlewares[i](h)
	}
	return h
}

// TracerMiddleware wraps handler execution in an OpenTelemetry consumer span.
func TracerMiddleware() Middleware {
	return func(h Handler) Handler {
		return func(ctx context.Context, d Delivery) error {
			ctx, span := otel.Tracer(tracerName).Start(ctx, "consume "+d.Topic,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.destination.name", d.Topic),
					attribute.String("messaging.consumer.group.name", d.GroupID),
					attribute.String("messaging.message.id", d.Envelope.ID),
					attribute.String("eventflow.event_type", d.Envelope.Type.String()),
					attribute.Int("messaging.destination.partition.id", int(d.Partition)),
					attribute.Int64("messaging.kafka.offset", d.Offset),
				),
			)
			defer span.End()

			err := h(ctx, d)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

// LogDeliveriesMiddleware logs every delivery at debug level along with how
// long the handler took.
func LogDeliveriesMiddleware(log loggingpkg.ServiceLogger) Middleware {
	return func(h Handler) Handler {
		return func(ctx context.Context, d Delivery) error {
			start := time.Now()
			err := h(ctx, d)
			log.Debug("Handled event", loggingpkg.LogFields{
				"group_id":    d.GroupID,
				"topic":       d.Topic,
				"partition":   d.Partition,
				"offset":      d.Offset,
				"event_id":    d.Envelope.ID,
				"event_type":  d.Envelope.Type,
				"correlation": d.Envelope.CorrelationKeyOrAnonymous(),
				"duration":    time.Since(start).String(),
				"failed":      strconv.FormatBool(err != nil),
			})
			return err
		}
	}
}

// RecovererMiddleware turns a handler panic into an error using Watermill's
// recoverer, so one bad event cannot take down its consumer loop.
func RecovererMiddleware() Middleware {
	return func(h Handler) Handler {
		return func(ctx context.Context, d Delivery) error {
			recovered := middleware.Recoverer(func(*message.Message) ([]*message.Message, error) {
				return nil, h(ctx, d)
			})
			_, err := recovered(nil)
			return err
		}
	}
}
