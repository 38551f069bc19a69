package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/eventflow/internal/runtime/config"
	"github.com/drblury/eventflow/internal/runtime/envelope"
	errspkg "github.com/drblury/eventflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/internal/runtime/topics"
	transportpkg "github.com/drblury/eventflow/internal/runtime/transport"
	"github.com/drblury/eventflow/transport"
	"github.com/drblury/eventflow/transport/transporttest"
)

const waitFor = 2 * time.Second

func testConfig() *configpkg.Config {
	cfg := configpkg.Default()
	cfg.PubSubSystem = "channel"
	cfg.ConnectMaxAttempts = 1
	cfg.ConnectBackoff = time.Millisecond
	cfg.CloseTimeout = 5 * time.Second
	return cfg
}

func newTestBus(t *testing.T, cfg *configpkg.Config, deps Dependencies) *Bus {
	t.Helper()
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	bus, err := NewBus(cfg, loggingpkg.Discard(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })
	return bus
}

func collect(ch chan Delivery) Handler {
	return func(ctx context.Context, d Delivery) error {
		ch <- d
		return nil
	}
}

func receive(t *testing.T, ch chan Delivery) Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type recordingPublisher struct {
	*transporttest.Publisher
	rec *recorder
}

func (p recordingPublisher) Close() error {
	p.rec.add("publisher")
	return p.Publisher.Close()
}

// fakeSubscriber lets tests push raw messages into a group's loop.
type fakeSubscriber struct {
	group string
	rec   *recorder

	mu    sync.Mutex
	chans map[string]chan *message.Message
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	s.mu.Lock()
	if s.chans == nil {
		s.chans = make(map[string]chan *message.Message)
	}
	s.chans[topic] = ch
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *fakeSubscriber) deliver(t *testing.T, topic string, msg *message.Message) {
	t.Helper()
	s.mu.Lock()
	ch := s.chans[topic]
	s.mu.Unlock()
	require.NotNil(t, ch, "no subscription for %s", topic)
	select {
	case ch <- msg:
	case <-time.After(waitFor):
		t.Fatal("timed out handing message to consumer loop")
	}
}

func (s *fakeSubscriber) Close() error {
	s.rec.add("subscriber:" + s.group)
	return nil
}

type fakeTransport struct {
	rec         *recorder
	publisher   recordingPublisher
	provisioner transport.Provisioner

	mu          sync.Mutex
	subscribers map[string]*fakeSubscriber
}

func newFakeTransport() *fakeTransport {
	rec := &recorder{}
	return &fakeTransport{
		rec:         rec,
		publisher:   recordingPublisher{Publisher: &transporttest.Publisher{}, rec: rec},
		provisioner: topics.NewMemoryProvisioner(nil),
		subscribers: make(map[string]*fakeSubscriber),
	}
}

func (f *fakeTransport) subscriber(group string) *fakeSubscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribers[group]
}

func (f *fakeTransport) factory() transportpkg.Factory {
	return transportpkg.FactoryFunc(func(ctx context.Context, conf *configpkg.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{
			Publisher: f.publisher,
			Subscribers: func(groupID string) (message.Subscriber, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				sub := &fakeSubscriber{group: groupID, rec: f.rec}
				f.subscribers[groupID] = sub
				return sub, nil
			},
			Provisioner: f.provisioner,
			Locate: func(msg *message.Message) (int32, int64, bool) {
				return 2, 42, true
			},
			Close: func() error {
				f.rec.add("transport")
				return nil
			},
		}, nil
	})
}

func validMessage(t *testing.T, eventType envelope.EventType, payload any) *message.Message {
	t.Helper()
	env, err := envelope.New(eventType, payload)
	require.NoError(t, err)
	msg, err := envelope.ToMessage(env, nil)
	require.NoError(t, err)
	return msg
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestNewBusValidation(t *testing.T) {
	_, err := NewBus(nil, loggingpkg.Discard(), Dependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = NewBus(testConfig(), nil, Dependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	cfg := testConfig()
	cfg.PubSubSystem = ""
	_, err = NewBus(cfg, loggingpkg.Discard(), Dependencies{})
	var validation errspkg.ConfigValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestBusLifecycle(t *testing.T) {
	bus := newTestBus(t, testConfig(), Dependencies{})
	assert.Equal(t, StateUninitialized, bus.State())

	require.NoError(t, bus.Start(context.Background()))
	assert.Equal(t, StateRunning, bus.State())
	select {
	case <-bus.Running():
	default:
		t.Fatal("running channel not closed")
	}
	assert.ErrorIs(t, bus.Start(context.Background()), errspkg.ErrBusAlreadyStarted)

	require.NoError(t, bus.Stop(context.Background()))
	assert.Equal(t, StateStopped, bus.State())
	select {
	case <-bus.Done():
	default:
		t.Fatal("done channel not closed")
	}

	require.NoError(t, bus.Stop(context.Background()))
	assert.ErrorIs(t, bus.Start(context.Background()), errspkg.ErrBusStopped)
	assert.ErrorIs(t, bus.Subscribe("late", []string{"user-events"}, collect(nil)), errspkg.ErrBusStopped)
	_, err := bus.Publish(context.Background(), "user-events", "USER_REGISTERED", nil)
	assert.ErrorIs(t, err, errspkg.ErrBusStopped)
}

func TestBusStopBeforeStart(t *testing.T) {
	bus := newTestBus(t, testConfig(), Dependencies{})
	require.NoError(t, bus.Stop(context.Background()))
	assert.Equal(t, StateStopped, bus.State())
}

func TestBusPublishBeforeStart(t *testing.T) {
	bus := newTestBus(t, testConfig(), Dependencies{})
	_, err := bus.Publish(context.Background(), "user-events", "USER_REGISTERED", nil)
	assert.ErrorIs(t, err, errspkg.ErrBusNotConnected)
}

func TestBusSubscribeValidation(t *testing.T) {
	bus := newTestBus(t, testConfig(), Dependencies{})
	h := collect(nil)

	assert.ErrorIs(t, bus.Subscribe("", []string{"user-events"}, h), errspkg.ErrGroupIDRequired)
	assert.ErrorIs(t, bus.Subscribe("g", nil, h), errspkg.ErrTopicsRequired)
	assert.ErrorIs(t, bus.Subscribe("g", []string{""}, h), errspkg.ErrTopicRequired)
	assert.ErrorIs(t, bus.Subscribe("g", []string{"audit-events"}, h), errspkg.ErrUnknownTopic)
	assert.ErrorIs(t, bus.Subscribe("g", []string{"user-events"}, nil), errspkg.ErrHandlerRequired)

	require.NoError(t, bus.Subscribe("g", []string{"user-events"}, h))
	assert.ErrorIs(t, bus.Subscribe("g", []string{"order-events"}, h), errspkg.ErrGroupExists)
	assert.Equal(t, []string{"g"}, bus.Groups())
}

func TestBusPublishAndConsume(t *testing.T) {
	bus := newTestBus(t, testConfig(), Dependencies{})
	deliveries := make(chan Delivery, 4)
	require.NoError(t, bus.Subscribe("user-handler", []string{"user-events"}, collect(deliveries)))
	require.NoError(t, bus.Start(context.Background()))

	env, err := bus.Publish(context.Background(), "user-events", "USER_REGISTERED",
		map[string]string{"userId": "u1", "name": "Ann"}, WithCorrelationKey("u1"))
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, env.ID, d.Envelope.ID)
	assert.Equal(t, envelope.EventType("USER_REGISTERED"), d.Envelope.Type)
	assert.True(t, env.Timestamp.Equal(d.Envelope.Timestamp))
	require.NotNil(t, d.Envelope.CorrelationKey)
	assert.Equal(t, "u1", *d.Envelope.CorrelationKey)
	assert.Equal(t, "user-handler", d.GroupID)
	assert.Equal(t, "user-events", d.Topic)
	assert.Equal(t, int32(0), d.Partition)
	assert.Equal(t, int64(-1), d.Offset)
	assert.Equal(t, "USER_REGISTERED", d.Metadata["event_type"])
	assert.Equal(t, "u1", d.Metadata["correlation_key"])

	var payload struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
	}
	require.NoError(t, d.Decode(&payload))
	assert.Equal(t, "Ann", payload.Name)

	assert.Equal(t, float64(1), testutil.ToFloat64(bus.metrics.published.WithLabelValues("user-events", "USER_REGISTERED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(bus.metrics.consumed.WithLabelValues("user-handler", "user-events", "USER_REGISTERED")))
}

func TestBusDistinctGroupsEachSeeTheStream(t *testing.T) {
	bus := newTestBus(t, testConfig(), Dependencies{})
	first := make(chan Delivery, 4)
	second := make(chan Delivery, 4)
	require.NoError(t, bus.Subscribe("first", []string{"order-events"}, collect(first)))
	require.NoError(t, bus.Subscribe("second", []string{"order-events"}, collect(second)))
	require.NoError(t, bus.Start(context.Background()))

	env, err := bus.Publish(context.Background(), "order-events", "ORDER_CREATED", map[string]string{"orderId": "o1"})
	require.NoError(t, err)

	assert.Equal(t, env.ID, receive(t, first).Envelope.ID)
	assert.Equal(t, env.ID, receive(t, second).Envelope.ID)
}

func TestBusPreservesOrderPerCorrelationKey(t *testing.T) {
	bus := newTestBus(t, testConfig(), Dependencies{})
	deliveries := make(chan Delivery, 32)
	require.NoError(t, bus.Subscribe("ordered", []string{"order-events"}, collect(deliveries)))
	require.NoError(t, bus.Start(context.Background()))

	var published []string
	for i := 0; i < 10; i++ {
		env, err := bus.Publish(context.Background(), "order-events", "ORDER_CREATED",
			map[string]int{"seq": i}, WithCorrelationKey("customer-1"))
		require.NoError(t, err)
		published = append(published, env.ID)
	}

	var consumed []string
	for range published {
		consumed = append(consumed, receive(t, deliveries).Envelope.ID)
	}
	assert.Equal(t, published, consumed)
}

func TestBusSubscribeWhileRunning(t *testing.T) {
	bus := newTestBus(t, testConfig(), Dependencies{})
	require.NoError(t, bus.Start(context.Background()))

	deliveries := make(chan Delivery, 1)
	require.NoError(t, bus.Subscribe("late", []string{"notification-events"}, collect(deliveries)))

	env, err := bus.Publish(context.Background(), "notification-events", "NOTIFICATION_SENT", nil)
	require.NoError(t, err)
	assert.Equal(t, env.ID, receive(t, deliveries).Envelope.ID)
}

func TestBusSkipsUndecodableMessages(t *testing.T) {
	var (
		mu       sync.Mutex
		failures []error
	)
	bus := newTestBus(t, testConfig(), Dependencies{OnFailure: func(err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	}})
	deliveries := make(chan Delivery, 4)
	require.NoError(t, bus.Subscribe("g", []string{"user-events"}, collect(deliveries)))
	require.NoError(t, bus.Start(context.Background()))

	poison := message.NewMessage("poison-1", []byte("definitely not an envelope"))
	require.NoError(t, bus.transport.Publisher.Publish("user-events", poison))

	env, err := bus.Publish(context.Background(), "user-events", "USER_REGISTERED", nil)
	require.NoError(t, err)
	assert.Equal(t, env.ID, receive(t, deliveries).Envelope.ID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	var failure *errspkg.DeserializationFailure
	require.ErrorAs(t, failures[0], &failure)
	assert.Equal(t, "poison-1", failure.MessageID)
	assert.Equal(t, "g", failure.GroupID)
	assert.ErrorIs(t, failure, errspkg.ErrInvalidEnvelope)
	assert.Equal(t, float64(1), testutil.ToFloat64(bus.metrics.deserializationFailures.WithLabelValues("g", "user-events")))
}

func TestBusIsolatesHandlerFailures(t *testing.T) {
	var (
		mu       sync.Mutex
		failures []error
	)
	bus := newTestBus(t, testConfig(), Dependencies{OnFailure: func(err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	}})

	seen := make(chan Delivery, 4)
	router := NewRouter().
		On("ORDER_CREATED", func(ctx context.Context, d Delivery) error {
			seen <- d
			return errors.New("downstream unavailable")
		}).
		On("ORDER_COMPLETED", func(ctx context.Context, d Delivery) error {
			seen <- d
			panic("boom")
		}).
		On("NOTIFICATION_SENT", collect(seen))
	require.NoError(t, bus.Subscribe("g", []string{"order-events"}, router.Handler()))
	require.NoError(t, bus.Start(context.Background()))

	for _, eventType := range []envelope.EventType{"ORDER_CREATED", "ORDER_COMPLETED", "NOTIFICATION_SENT"} {
		_, err := bus.Publish(context.Background(), "order-events", eventType, nil)
		require.NoError(t, err)
	}
	for _, want := range []envelope.EventType{"ORDER_CREATED", "ORDER_COMPLETED", "NOTIFICATION_SENT"} {
		assert.Equal(t, want, receive(t, seen).Envelope.Type)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 2)
	for _, err := range failures {
		var failure *errspkg.HandlerFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, "g", failure.GroupID)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(bus.metrics.handlerFailures.WithLabelValues("g", "ORDER_CREATED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(bus.metrics.handlerFailures.WithLabelValues("g", "ORDER_COMPLETED")))
}

func TestBusPublishFailureReturnsNoEnvelope(t *testing.T) {
	pub := &transporttest.Publisher{Err: errors.New("broker unreachable")}
	factory := transportpkg.FactoryFunc(func(ctx context.Context, conf *configpkg.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{
			Publisher: pub,
			Subscribers: func(string) (message.Subscriber, error) {
				return &transporttest.Subscriber{}, nil
			},
		}, nil
	})
	bus := newTestBus(t, testConfig(), Dependencies{TransportFactory: factory})
	require.NoError(t, bus.Start(context.Background()))

	env, err := bus.Publish(context.Background(), "user-events", "USER_REGISTERED", nil, WithCorrelationKey("u1"))
	var failure *errspkg.PublishFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "user-events", failure.Topic)
	assert.Equal(t, "USER_REGISTERED", failure.EventType)
	assert.EqualError(t, failure.Err, "broker unreachable")
	assert.Equal(t, envelope.Envelope{}, env)
	assert.Empty(t, pub.Messages("user-events"))
	assert.Equal(t, float64(1), testutil.ToFloat64(bus.metrics.publishFailures.WithLabelValues("user-events")))
}

func TestBusRejectsUnknownTopicsAndTypes(t *testing.T) {
	cfg := testConfig()
	cfg.EventTypes = []string{"INVOICE_SENT"}
	bus := newTestBus(t, cfg, Dependencies{EventTypes: []envelope.EventType{"USER_REGISTERED"}})
	require.NoError(t, bus.Start(context.Background()))

	_, err := bus.Publish(context.Background(), "", "USER_REGISTERED", nil)
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)
	_, err = bus.Publish(context.Background(), "audit-events", "USER_REGISTERED", nil)
	assert.ErrorIs(t, err, errspkg.ErrUnknownTopic)
	_, err = bus.Publish(context.Background(), "user-events", "", nil)
	assert.ErrorIs(t, err, errspkg.ErrEventTypeRequired)
	_, err = bus.Publish(context.Background(), "user-events", "ORDER_SHIPPED", nil)
	assert.ErrorIs(t, err, errspkg.ErrUnknownEventType)

	assert.True(t, bus.EventTypes().Contains("INVOICE_SENT"))
	assert.True(t, bus.EventTypes().Contains("USER_REGISTERED"))
}

func TestBusConnectRetriesThenFails(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectMaxAttempts = 3
	var calls int
	factory := transportpkg.FactoryFunc(func(ctx context.Context, conf *configpkg.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		calls++
		return transport.Transport{}, errors.New("connection refused")
	})
	bus := newTestBus(t, cfg, Dependencies{TransportFactory: factory})

	err := bus.Start(context.Background())
	var failure *errspkg.ConnectFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "channel", failure.Component)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StateStopped, bus.State())
}

func TestBusConnectUnknownTransportIsPermanent(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectMaxAttempts = 5
	cfg.PubSubSystem = "carrier-pigeon"
	bus := newTestBus(t, cfg, Dependencies{TransportFactory: transportpkg.RegistryFactory(transport.NewRegistry())})

	err := bus.Start(context.Background())
	var failure *errspkg.ConnectFailure
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, transport.ErrUnknownTransport)
}

func TestBusProvisionFailureIsFatal(t *testing.T) {
	ft := newFakeTransport()
	ft.provisioner = &topics.MemoryProvisioner{Err: errors.New("permission denied")}
	bus := newTestBus(t, testConfig(), Dependencies{TransportFactory: ft.factory()})

	err := bus.Start(context.Background())
	var failure *errspkg.ProvisionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StateStopped, bus.State())
	assert.Equal(t, []string{"publisher", "transport"}, ft.rec.list())
}

func TestBusProvisionsOnce(t *testing.T) {
	ft := newFakeTransport()
	provisioner := topics.NewMemoryProvisioner(map[string]int32{"user-events": 3})
	ft.provisioner = provisioner
	bus := newTestBus(t, testConfig(), Dependencies{TransportFactory: ft.factory()})

	require.NoError(t, bus.Start(context.Background()))
	assert.True(t, bus.Topics().Provisioned())
	assert.Equal(t, 1, provisioner.Calls())

	require.NoError(t, bus.Topics().Provision(context.Background(), provisioner, loggingpkg.Discard()))
	assert.Equal(t, 1, provisioner.Calls())
}

func TestBusDrainsInFlightBeforeClosing(t *testing.T) {
	ft := newFakeTransport()
	bus := newTestBus(t, testConfig(), Dependencies{TransportFactory: ft.factory()})

	started := make(chan Delivery, 1)
	release := make(chan struct{})
	require.NoError(t, bus.Subscribe("g", []string{"user-events"}, func(ctx context.Context, d Delivery) error {
		started <- d
		<-release
		ft.rec.add("handled")
		return nil
	}))
	require.NoError(t, bus.Start(context.Background()))

	msg := validMessage(t, "USER_REGISTERED", nil)
	ft.subscriber("g").deliver(t, "user-events", msg)
	d := receive(t, started)
	assert.Equal(t, int32(2), d.Partition)
	assert.Equal(t, int64(42), d.Offset)

	stopped := make(chan error, 1)
	go func() { stopped <- bus.Stop(context.Background()) }()

	assert.Never(t, func() bool { return ft.rec.has("subscriber:g") }, 100*time.Millisecond, 10*time.Millisecond)
	close(release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("stop did not return")
	}

	select {
	case <-msg.Acked():
	default:
		t.Fatal("in-flight message was not acked")
	}
	assert.Equal(t, []string{"handled", "subscriber:g", "publisher", "transport"}, ft.rec.list())
	assert.Empty(t, bus.Groups())
}

func TestBusDrainTimeoutCancelsHandlers(t *testing.T) {
	ft := newFakeTransport()
	cfg := testConfig()
	cfg.CloseTimeout = 50 * time.Millisecond
	bus := newTestBus(t, cfg, Dependencies{TransportFactory: ft.factory()})

	started := make(chan struct{})
	require.NoError(t, bus.Subscribe("slow", []string{"user-events"}, func(ctx context.Context, d Delivery) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, bus.Start(context.Background()))

	ft.subscriber("slow").deliver(t, "user-events", validMessage(t, "USER_REGISTERED", nil))
	<-started

	require.NoError(t, bus.Stop(context.Background()))
	assert.Equal(t, StateStopped, bus.State())
	assert.True(t, ft.rec.has("subscriber:slow"))
}

func TestBusDrainWaitsForHandlersThatIgnoreCancellation(t *testing.T) {
	ft := newFakeTransport()
	cfg := testConfig()
	cfg.CloseTimeout = 50 * time.Millisecond
	bus := newTestBus(t, cfg, Dependencies{TransportFactory: ft.factory()})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, bus.Subscribe("slow", []string{"user-events"}, func(ctx context.Context, d Delivery) error {
		close(started)
		<-release
		ft.rec.add("handler-returned")
		return nil
	}))
	require.NoError(t, bus.Start(context.Background()))

	ft.subscriber("slow").deliver(t, "user-events", validMessage(t, "USER_REGISTERED", nil))
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- bus.Stop(context.Background()) }()

	assert.Never(t, func() bool { return ft.rec.has("publisher") || ft.rec.has("subscriber:slow") },
		200*time.Millisecond, 10*time.Millisecond)
	close(release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("stop did not return")
	}
	assert.Equal(t, []string{"handler-returned", "subscriber:slow", "publisher", "transport"}, ft.rec.list())
}

func TestBusDrainGivesUpWhenStopContextExpires(t *testing.T) {
	ft := newFakeTransport()
	cfg := testConfig()
	cfg.CloseTimeout = 10 * time.Millisecond
	bus := newTestBus(t, cfg, Dependencies{TransportFactory: ft.factory()})

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	require.NoError(t, bus.Subscribe("stuck", []string{"user-events"}, func(ctx context.Context, d Delivery) error {
		close(started)
		<-release
		return nil
	}))
	require.NoError(t, bus.Start(context.Background()))

	ft.subscriber("stuck").deliver(t, "user-events", validMessage(t, "USER_REGISTERED", nil))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := bus.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateStopped, bus.State())
	assert.True(t, ft.rec.has("transport"))
}

func TestBusAcksOnlyAfterHandlerReturns(t *testing.T) {
	ft := newFakeTransport()
	bus := newTestBus(t, testConfig(), Dependencies{TransportFactory: ft.factory()})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, bus.Subscribe("g", []string{"user-events"}, func(ctx context.Context, d Delivery) error {
		close(started)
		<-release
		return nil
	}))
	require.NoError(t, bus.Start(context.Background()))

	msg := validMessage(t, "USER_REGISTERED", nil)
	ft.subscriber("g").deliver(t, "user-events", msg)
	<-started

	select {
	case <-msg.Acked():
		t.Fatal("message acked while its handler was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-msg.Acked():
	case <-time.After(waitFor):
		t.Fatal("message not acked after its handler returned")
	}
}

func TestBusHandlerFailureCarriesLogPosition(t *testing.T) {
	ft := newFakeTransport()
	failures := make(chan error, 1)
	bus := newTestBus(t, testConfig(), Dependencies{
		TransportFactory: ft.factory(),
		OnFailure:        func(err error) { failures <- err },
	})
	require.NoError(t, bus.Subscribe("g", []string{"user-events"}, func(ctx context.Context, d Delivery) error {
		return errors.New("downstream unavailable")
	}))
	require.NoError(t, bus.Start(context.Background()))

	msg := validMessage(t, "USER_REGISTERED", nil)
	ft.subscriber("g").deliver(t, "user-events", msg)

	select {
	case err := <-failures:
		var failure *errspkg.HandlerFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, "user-events", failure.Topic)
		assert.Equal(t, int32(2), failure.Partition)
		assert.Equal(t, int64(42), failure.Offset)
	case <-time.After(waitFor):
		t.Fatal("handler failure not reported")
	}
}

func TestBusSubscribeIgnoresRepeatedTopics(t *testing.T) {
	bus := newTestBus(t, testConfig(), Dependencies{})
	seen := make(chan Delivery, 4)
	require.NoError(t, bus.Subscribe("g", []string{"user-events", "user-events"}, collect(seen)))
	assert.Equal(t, []string{"user-events"}, bus.groups["g"].topics)
	require.NoError(t, bus.Start(context.Background()))

	_, err := bus.Publish(context.Background(), "user-events", "USER_REGISTERED", nil)
	require.NoError(t, err)
	receive(t, seen)

	select {
	case d := <-seen:
		t.Fatalf("event %s delivered twice to one group", d.Envelope.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusSubscribeWhileRunningDoesNotBlockPublish(t *testing.T) {
	ft := newFakeTransport()
	dialing := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }

	factory := transportpkg.FactoryFunc(func(ctx context.Context, conf *configpkg.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		tr, err := ft.factory().Build(ctx, conf, logger)
		if err != nil {
			return tr, err
		}
		subscribers := tr.Subscribers
		tr.Subscribers = func(groupID string) (message.Subscriber, error) {
			if groupID == "late" {
				close(dialing)
				<-release
			}
			return subscribers(groupID)
		}
		return tr, nil
	})
	bus := newTestBus(t, testConfig(), Dependencies{TransportFactory: factory})
	t.Cleanup(unblock)
	require.NoError(t, bus.Start(context.Background()))

	subscribed := make(chan error, 1)
	go func() {
		subscribed <- bus.Subscribe("late", []string{"user-events"}, collect(make(chan Delivery, 1)))
	}()
	select {
	case <-dialing:
	case <-time.After(waitFor):
		t.Fatal("subscriber never dialled")
	}

	published := make(chan error, 1)
	go func() {
		_, err := bus.Publish(context.Background(), "user-events", "USER_REGISTERED", nil)
		published <- err
	}()
	select {
	case err := <-published:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("publish blocked while a group was subscribing")
	}

	unblock()
	select {
	case err := <-subscribed:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("subscribe did not return")
	}
	assert.Equal(t, []string{"late"}, bus.Groups())
}

func TestBusRunStopsOnCancel(t *testing.T) {
	bus := newTestBus(t, testConfig(), Dependencies{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	select {
	case <-bus.Running():
	case <-time.After(waitFor):
		t.Fatal("bus never reached running")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("run did not return")
	}
	assert.Equal(t, StateStopped, bus.State())
}

func TestBusCapabilities(t *testing.T) {
	bus := newTestBus(t, testConfig(), Dependencies{})
	caps := bus.Capabilities()
	assert.Equal(t, "channel", caps.Name)
	assert.False(t, caps.Durable)
}

func TestProvisionTopics(t *testing.T) {
	ft := newFakeTransport()
	provisioner := topics.NewMemoryProvisioner(nil)
	ft.provisioner = provisioner

	cfg := testConfig()
	cfg.MetricsEnabled = false
	registry, err := ProvisionTopics(context.Background(), cfg, loggingpkg.Discard(), ft.factory())
	require.NoError(t, err)
	assert.True(t, registry.Provisioned())
	for _, name := range []string{"user-events", "order-events", "notification-events"} {
		partitions, ok := provisioner.Partitions(name)
		require.True(t, ok, name)
		assert.Equal(t, int32(3), partitions, name)
	}
	assert.Equal(t, []string{"publisher", "transport"}, ft.rec.list())
}

func TestProvisionTopicsFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.provisioner = &topics.MemoryProvisioner{Err: fmt.Errorf("cluster authorization failed")}
	cfg := testConfig()
	cfg.MetricsEnabled = false

	_, err := ProvisionTopics(context.Background(), cfg, loggingpkg.Discard(), ft.factory())
	var failure *errspkg.ProvisionFailure
	assert.ErrorAs(t, err, &failure)
}
