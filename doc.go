// Package eventflow is an event bus on top of Watermill for services that
// talk through a partitioned durable log. It reads the broker (Kafka,
// RabbitMQ, NATS JetStream, AWS SNS/SQS or in-memory Go channels) from
// Config, provisions the declared topics and runs one consumer loop per
// consumer group and topic.
//
// Every event travels as an Envelope: a ULID id, a type, a UTC timestamp, an
// optional correlation key and a JSON payload. The correlation key doubles as
// the partition key, so events sharing a key keep their relative order on a
// partitioned log. A minimal setup fills Config, creates a Bus with NewBus,
// subscribes groups with Bus.Subscribe and calls Bus.Run.
//
// # Consumer groups
//
// Each group sees the full stream of its topics independently of the other
// groups. Handlers are usually built with a Router that dispatches on the
// event type; unknown types are skipped. A delivery is acknowledged once its
// handler returns, whether it failed or not, so a poison event never blocks
// the partition behind it. Failures are logged, counted and reported through
// Dependencies.OnFailure as DeserializationFailure or HandlerFailure.
//
// # Lifecycle
//
// A Bus moves through Uninitialized, Connecting, Provisioning, Subscribing,
// Running, Draining and Stopped. Connecting retries with exponential backoff.
// Draining stops intake, lets in-flight handlers finish within
// Config.CloseTimeout, then closes subscribers, the publisher and the
// transport in that order.
//
// # Observability
//
// Publishes and deliveries are traced with OpenTelemetry and counted with
// Prometheus collectors served by Bus.MetricsHandler. Logging goes through
// ServiceLogger, which wraps slog via Watermill's logger adapter.
package eventflow
