package runtime

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "eventflow"

// Metrics holds the Prometheus collectors of a bus. A nil *Metrics records
// nothing, so callers never need to check whether metrics are enabled.
type Metrics struct {
	gatherer prometheus.Gatherer

	published               *prometheus.CounterVec
	publishFailures         *prometheus.CounterVec
	consumed                *prometheus.CounterVec
	handlerFailures         *prometheus.CounterVec
	deserializationFailures *prometheus.CounterVec
	handleDuration          *prometheus.HistogramVec
}

// NewMetrics registers the bus collectors on reg. Collectors that are
// already registered are reused, so several buses may share a registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	var err error
	if m.published, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "events_published_total",
		Help:      "Events successfully appended to a topic.",
	}, []string{"topic", "event_type"})); err != nil {
		return nil, err
	}
	if m.publishFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "publish_failures_total",
		Help:      "Publish calls rejected by the broker.",
	}, []string{"topic"})); err != nil {
		return nil, err
	}
	if m.consumed, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "events_consumed_total",
		Help:      "Events handed to a consumer group handler.",
	}, []string{"group_id", "topic", "event_type"})); err != nil {
		return nil, err
	}
	if m.handlerFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "handler_failures_total",
		Help:      "Handler invocations that returned an error or panicked.",
	}, []string{"group_id", "event_type"})); err != nil {
		return nil, err
	}
	if m.deserializationFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "deserialization_failures_total",
		Help:      "Messages skipped because they did not decode into an envelope.",
	}, []string{"group_id", "topic"})); err != nil {
		return nil, err
	}
	if m.handleDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "handler_duration_seconds",
		Help:      "Time spent in consumer group handlers.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"group_id"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) recordPublished(topic, eventType string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic, eventType).Inc()
}

func (m *Metrics) recordPublishFailure(topic string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(topic).Inc()
}

func (m *Metrics) recordConsumed(groupID, topic, eventType string, took time.Duration) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(groupID, topic, eventType).Inc()
	m.handleDuration.WithLabelValues(groupID).Observe(took.Seconds())
}

func (m *Metrics) recordHandlerFailure(groupID, eventType string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(groupID, eventType).Inc()
}

func (m *Metrics) recordDeserializationFailure(groupID, topic string) {
	if m == nil {
		return
	}
	m.deserializationFailures.WithLabelValues(groupID, topic).Inc()
}
