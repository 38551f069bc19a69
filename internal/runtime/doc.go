/*
Package runtime provides the event bus at the core of eventflow.

# Architecture Overview

A Bus owns one broker transport (built through the transport registry), one
shared Publisher and a registry of consumer groups. Everything that travels
through it is an envelope.Envelope encoded as JSON.

# Package Structure

## Bus (bus.go)

The lifecycle controller. It moves through
Uninitialized, Connecting, Provisioning, Subscribing, Running, Draining and
Stopped:
  - Connecting builds the transport with a bounded exponential backoff.
  - Provisioning ensures every declared topic exists, once.
  - Subscribing starts one pull loop per (group, topic).
  - Draining stops intake, waits for in-flight handlers, then closes the
    subscribers, the publisher and the transport in that order.

## Publisher (publisher.go)

Builds an envelope, routes it by correlation key (or envelope id) and sends
it synchronously. Broker errors surface as errors.PublishFailure; nothing is
retried.

## Consumer groups (consumer.go)

Each loop decodes a message, hands the Delivery to the group handler and
acks only once the handler returned. Undecodable messages are skipped as
errors.DeserializationFailure; handler errors and panics are reported as
errors.HandlerFailure and the loop moves on.

## Router and middleware (router.go, middleware.go)

Router dispatches on event type and ignores types it does not know.
Every group handler is wrapped in an OpenTelemetry span, debug logging and
Watermill's panic recoverer.

## Metrics (metrics.go)

Prometheus counters for published, failed, consumed and skipped events, plus
a handler latency histogram.

# Sub-packages

  - config/: Bus configuration, loaded with cleanenv
  - envelope/: Envelope type, event types and the wire format
  - errors/: Sentinel errors and failure kinds
  - ids/: ULID generation for envelope ids
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Message header utilities
  - topics/: Declared topic registry and provisioning
  - transport/: Factory over the transport registry

# Usage Example

	bus, err := runtime.NewBus(cfg, logger, runtime.Dependencies{})
	if err != nil {
		return err
	}

	router := runtime.NewRouter().
		On("USER_REGISTERED", sendWelcome)

	if err := bus.Subscribe("user-handler", []string{"user-events"}, router.Handler()); err != nil {
		return err
	}

	return bus.Run(ctx)
*/
package runtime
