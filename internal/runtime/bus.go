package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/eventflow/internal/runtime/config"
	"github.com/drblury/eventflow/internal/runtime/envelope"
	errspkg "github.com/drblury/eventflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/internal/runtime/topics"
	transportpkg "github.com/drblury/eventflow/internal/runtime/transport"
	"github.com/drblury/eventflow/transport"
)

// State is a phase of the bus lifecycle. States only move forward.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateProvisioning
	StateSubscribing
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateProvisioning:
		return "provisioning"
	case StateSubscribing:
		return "subscribing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dependencies holds the optional collaborators of a Bus.
// Leave fields nil to use the defaults.
type Dependencies struct {
	TransportFactory transportpkg.Factory
	// Registerer receives the bus metrics when Config.MetricsEnabled is set.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// EventTypes is the accepted type catalogue, extended by Config.EventTypes.
	// When both are empty every non-empty type is accepted.
	EventTypes []envelope.EventType
	// Middlewares wrap every group handler, inside tracing and outside panic
	// recovery.
	Middlewares []Middleware
	// OnFailure observes every DeserializationFailure and HandlerFailure.
	OnFailure func(error)
	Clock     func() time.Time
	NewID     func() string
}

// Bus owns the transport, the shared publisher and the consumer group
// registry, and drives them through the lifecycle states.
type Bus struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	deps    Dependencies
	factory transportpkg.Factory
	topics  *topics.Registry
	types   envelope.TypeSet
	metrics *Metrics

	lifecycle sync.Mutex

	mu        sync.RWMutex
	state     State
	transport transport.Transport
	publisher *Publisher
	groups    map[string]*consumerGroup
	order     []string

	handlerCtx    context.Context
	handlerCancel context.CancelFunc

	running chan struct{}
	done    chan struct{}
	stopErr error
}

// NewBus validates conf and prepares a bus. Nothing connects until Start.
func NewBus(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Bus, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	registry, err := topics.NewRegistry(conf.TopicSpecs()...)
	if err != nil {
		return nil, err
	}

	types := envelope.NewTypeSet(deps.EventTypes...)
	for _, t := range conf.EventTypes {
		types = types.With(envelope.EventType(t))
	}

	var metrics *Metrics
	if conf.MetricsEnabled {
		if metrics, err = NewMetrics(deps.Registerer); err != nil {
			return nil, fmt.Errorf("eventflow: register metrics: %w", err)
		}
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	log.Info("Creating event bus", loggingpkg.LogFields{
		"pubsub_system": conf.GetPubSubSystem(),
		"topics":        registry.Names(),
		"config":        conf,
	})

	return &Bus{
		Conf:    conf,
		Logger:  log,
		deps:    deps,
		factory: factory,
		topics:  registry,
		types:   types,
		metrics: metrics,
		groups:  make(map[string]*consumerGroup),
		running: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Subscribe registers a consumer group reading topics with handler. Groups
// added before Start begin with the bus; groups added while running start
// immediately. The handler is wrapped with tracing, the configured
// middlewares and panic recovery.
func (b *Bus) Subscribe(groupID string, topicNames []string, handler Handler) error {
	if groupID == "" {
		return errspkg.ErrGroupIDRequired
	}
	if len(topicNames) == 0 {
		return errspkg.ErrTopicsRequired
	}
	for _, name := range topicNames {
		if name == "" {
			return errspkg.ErrTopicRequired
		}
		if !b.topics.Contains(name) {
			return fmt.Errorf("%w: %q", errspkg.ErrUnknownTopic, name)
		}
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	topicNames = uniqueTopics(topicNames)

	if b.State() >= StateDraining {
		return errspkg.ErrBusStopped
	}
	// Start and Stop cannot run meanwhile, so the group can dial its
	// subscriber without holding mu and blocking publishers.
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.RLock()
	state := b.state
	_, exists := b.groups[groupID]
	b.mu.RUnlock()

	switch {
	case state >= StateDraining:
		return errspkg.ErrBusStopped
	case exists:
		return fmt.Errorf("%w: %q", errspkg.ErrGroupExists, groupID)
	}

	g := b.newGroup(groupID, topicNames, handler)
	if state == StateRunning {
		if err := b.startGroup(g); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.groups[groupID] = g
	b.order = append(b.order, groupID)
	b.mu.Unlock()
	return nil
}

// uniqueTopics drops repeated names so a group never runs two loops on one
// topic.
func uniqueTopics(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	unique := make([]string, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}
	return unique
}

func (b *Bus) newGroup(groupID string, topicNames []string, handler Handler) *consumerGroup {
	middlewares := make([]Middleware, 0, len(b.deps.Middlewares)+3)
	middlewares = append(middlewares, TracerMiddleware(), LogDeliveriesMiddleware(b.Logger))
	middlewares = append(middlewares, b.deps.Middlewares...)
	middlewares = append(middlewares, RecovererMiddleware())

	return &consumerGroup{
		id:        groupID,
		topics:    append([]string(nil), topicNames...),
		handler:   Chain(handler, middlewares...),
		log:       b.Logger,
		metrics:   b.metrics,
		onFailure: b.deps.OnFailure,
		retry:     b.Conf.ConnectBackoff,
		now:       b.deps.Clock,
	}
}

// startGroup must be called with the lifecycle mutex held, never with mu.
func (b *Bus) startGroup(g *consumerGroup) error {
	b.mu.RLock()
	tr := b.transport
	handlerCtx := b.handlerCtx
	b.mu.RUnlock()

	g.locate = tr.Locate
	subscriber, err := tr.Subscribers(g.id)
	if err != nil {
		return &errspkg.ConnectFailure{Component: "subscriber " + g.id, Err: err}
	}
	if err := g.start(handlerCtx, subscriber); err != nil {
		g.halt()
		closeErr := g.close()
		g.wait()
		return &errspkg.ConnectFailure{Component: "subscriber " + g.id, Err: errors.Join(err, closeErr)}
	}
	return nil
}

// Start connects, provisions the declared topics and starts every registered
// group. It returns once the bus is Running, or with the first fatal error,
// in which case the bus ends up Stopped. ctx bounds the startup only.
func (b *Bus) Start(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if b.state != StateUninitialized {
		state := b.state
		b.mu.Unlock()
		if state >= StateDraining {
			return errspkg.ErrBusStopped
		}
		return errspkg.ErrBusAlreadyStarted
	}
	b.mu.Unlock()

	b.setState(StateConnecting)
	tr, err := b.connect(ctx)
	if err != nil {
		b.abort(err)
		return err
	}

	publisher, err := NewPublisher(tr.Publisher, PublisherOptions{
		Topics:  b.topics,
		Types:   b.types,
		Logger:  b.Logger,
		Metrics: b.metrics,
		Clock:   b.deps.Clock,
		NewID:   b.deps.NewID,
	})
	if err != nil {
		err = &errspkg.ConnectFailure{Component: "publisher", Err: err}
		b.closeTransport(tr)
		b.abort(err)
		return err
	}

	b.mu.Lock()
	b.transport = tr
	b.publisher = publisher
	b.handlerCtx, b.handlerCancel = context.WithCancel(context.WithoutCancel(ctx))
	b.mu.Unlock()

	b.setState(StateProvisioning)
	if err := b.topics.Provision(ctx, tr.Provisioner, b.Logger); err != nil {
		b.teardown(context.Background())
		b.abort(err)
		return err
	}

	b.setState(StateSubscribing)
	if err := b.startGroups(); err != nil {
		b.teardown(context.Background())
		b.abort(err)
		return err
	}

	b.setState(StateRunning)
	close(b.running)
	b.Logger.Info("Event bus running", loggingpkg.LogFields{"groups": b.Groups()})
	return nil
}

func (b *Bus) startGroups() error {
	b.mu.RLock()
	groups := make([]*consumerGroup, 0, len(b.order))
	for _, id := range b.order {
		groups = append(groups, b.groups[id])
	}
	b.mu.RUnlock()

	for _, g := range groups {
		if err := b.startGroup(g); err != nil {
			return err
		}
	}
	return nil
}

// connect builds the transport with a bounded exponential backoff.
func (b *Bus) connect(ctx context.Context) (transport.Transport, error) {
	wmLogger := loggingpkg.NewWatermillAdapter(b.Logger)

	attempts := b.Conf.ConnectMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	expo := backoff.NewExponentialBackOff()
	if b.Conf.ConnectBackoff > 0 {
		expo.InitialInterval = b.Conf.ConnectBackoff
	}

	tr, err := backoff.Retry(ctx, func() (transport.Transport, error) {
		tr, err := b.factory.Build(ctx, b.Conf, wmLogger)
		if err != nil {
			if errors.Is(err, transport.ErrUnknownTransport) || errors.Is(err, errspkg.ErrConfigRequired) {
				return tr, backoff.Permanent(err)
			}
			return tr, err
		}
		if tr.Publisher == nil || tr.Subscribers == nil {
			return tr, backoff.Permanent(fmt.Errorf("transport %q returned no publisher or subscribers", b.Conf.GetPubSubSystem()))
		}
		return tr, nil
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.Logger.Error("Broker connection failed, retrying", err, loggingpkg.LogFields{
				"pubsub_system": b.Conf.GetPubSubSystem(),
				"retry_in":      next.String(),
			})
		}),
	)
	if err != nil {
		return transport.Transport{}, &errspkg.ConnectFailure{Component: b.Conf.GetPubSubSystem(), Err: err}
	}
	return tr, nil
}

// Run starts the bus and blocks until ctx is cancelled or Stop is called,
// then drains. Handlers get Config.CloseTimeout before their context is
// cancelled; Run returns once every consumer loop exited.
func (b *Bus) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-b.done:
		return b.stopErr
	}
	return b.Stop(context.WithoutCancel(ctx))
}

// Stop drains the bus: intake stops and in-flight handlers finish. Handlers
// still running after Config.CloseTimeout have their context cancelled and
// are waited for; only ctx bounds that wait. Then subscribers, the publisher
// and the transport are closed in that order. Safe to call more than once.
func (b *Bus) Stop(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	state := b.state
	b.mu.Unlock()

	switch state {
	case StateStopped:
		return b.stopErr
	case StateUninitialized:
		b.abort(nil)
		return nil
	}

	b.setState(StateDraining)
	b.Logger.Info("Draining event bus", loggingpkg.LogFields{"groups": b.Groups()})
	err := b.teardown(ctx)
	b.abort(err)
	if err == nil {
		b.Logger.Info("Event bus stopped", nil)
	}
	return err
}

// teardown releases everything Start acquired, in drain order.
func (b *Bus) teardown(ctx context.Context) error {
	b.mu.Lock()
	groups := make([]*consumerGroup, 0, len(b.order))
	for _, id := range b.order {
		groups = append(groups, b.groups[id])
	}
	tr := b.transport
	publisher := b.publisher
	handlerCancel := b.handlerCancel
	b.mu.Unlock()

	for _, g := range groups {
		g.halt()
	}

	drained := make(chan struct{})
	go func() {
		for _, g := range groups {
			g.wait()
		}
		close(drained)
	}()

	// CloseTimeout is the grace period before handler contexts are cancelled.
	// Connections only close once every loop returned, or ctx gives up.
	timer := time.NewTimer(b.closeTimeout())
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		b.Logger.Info("In-flight handlers still running, cancelling their context", nil)
	case <-ctx.Done():
	}
	if handlerCancel != nil {
		handlerCancel()
	}

	var errs []error
	select {
	case <-drained:
	case <-ctx.Done():
		err := fmt.Errorf("drain: consumer loops still running: %w", ctx.Err())
		b.Logger.Error("Consumer loops did not exit, closing connections anyway", err, nil)
		errs = append(errs, err)
	}

	for _, g := range groups {
		if err := g.close(); err != nil {
			errs = append(errs, err)
		}
	}

	b.mu.Lock()
	b.groups = make(map[string]*consumerGroup)
	b.order = nil
	b.mu.Unlock()

	if publisher != nil {
		if err := publisher.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if err := b.closeTransport(tr); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *Bus) closeTransport(tr transport.Transport) error {
	if tr.Close == nil {
		return nil
	}
	if err := tr.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

// abort moves the bus to Stopped and records err as the stop outcome.
func (b *Bus) abort(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateStopped {
		return
	}
	b.state = StateStopped
	b.stopErr = err
	close(b.done)
}

func (b *Bus) setState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()
	b.Logger.Debug("Bus state changed", loggingpkg.LogFields{"from": prev.String(), "to": s.String()})
}

func (b *Bus) closeTimeout() time.Duration {
	if b.Conf.CloseTimeout > 0 {
		return b.Conf.CloseTimeout
	}
	return 30 * time.Second
}

// Publish appends an event through the shared publisher. See Publisher.Publish.
func (b *Bus) Publish(ctx context.Context, topic string, eventType envelope.EventType, payload any, opts ...PublishOption) (envelope.Envelope, error) {
	p, err := b.activePublisher()
	if err != nil {
		return envelope.Envelope{}, err
	}
	return p.Publish(ctx, topic, eventType, payload, opts...)
}

func (b *Bus) activePublisher() (*Publisher, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state == StateStopped {
		return nil, errspkg.ErrBusStopped
	}
	if b.publisher == nil {
		return nil, errspkg.ErrBusNotConnected
	}
	return b.publisher, nil
}

// State returns the current lifecycle state.
func (b *Bus) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Running is closed once the bus reaches StateRunning.
func (b *Bus) Running() <-chan struct{} { return b.running }

// Done is closed once the bus reaches StateStopped.
func (b *Bus) Done() <-chan struct{} { return b.done }

// Groups lists the registered consumer groups in subscription order.
func (b *Bus) Groups() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

// Topics returns the declared topic registry.
func (b *Bus) Topics() *topics.Registry { return b.topics }

// EventTypes returns the accepted event type set.
func (b *Bus) EventTypes() envelope.TypeSet { return b.types }

// Capabilities reports what the configured transport guarantees.
func (b *Bus) Capabilities() transport.Capabilities {
	return transport.GetCapabilities(b.Conf.GetPubSubSystem())
}

// MetricsHandler serves the bus metrics, or the default registry when
// metrics are disabled.
func (b *Bus) MetricsHandler() http.Handler {
	return b.metrics.Handler()
}
