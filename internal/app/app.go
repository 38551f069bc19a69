package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/drblury/eventflow/internal/runtime"
	configpkg "github.com/drblury/eventflow/internal/runtime/config"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
)

// App wires the bus, the business services, the consumer groups and the
// HTTP API of the demo application.
type App struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	Bus           *runtime.Bus
	Users         *UserService
	Orders        *OrderService
	Notifications *NotificationService
	Analytics     *Analytics

	handler http.Handler
}

// New builds the application. The event catalogue is added to deps.EventTypes.
func New(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps runtime.Dependencies) (*App, error) {
	deps.EventTypes = append(EventTypes(), deps.EventTypes...)
	bus, err := runtime.NewBus(conf, log, deps)
	if err != nil {
		return nil, err
	}

	a := &App{
		Conf:          conf,
		Logger:        log,
		Bus:           bus,
		Users:         NewUserService(bus),
		Orders:        NewOrderService(bus),
		Notifications: NewNotificationService(bus, log),
		Analytics:     NewAnalytics(log),
	}

	if err := NewHandlers(a.Notifications, a.Analytics).Register(bus); err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}

	apiDeps := APIDependencies{
		Users:     a.Users,
		Orders:    a.Orders,
		Analytics: a.Analytics,
		State:     func() string { return bus.State().String() },
	}
	if conf.MetricsEnabled && conf.MetricsPort == 0 {
		apiDeps.Metrics = bus.MetricsHandler()
	}
	a.handler = NewAPI(apiDeps)
	return a, nil
}

// Handler is the HTTP API.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the bus, serves the API once the bus is running and blocks
// until ctx is cancelled. Shutdown stops the HTTP listeners before draining
// the bus.
func (a *App) Run(ctx context.Context) error {
	if err := a.Bus.Start(ctx); err != nil {
		return err
	}
	<-a.Bus.Running()

	servers := []*http.Server{{Addr: a.Conf.HTTPAddress, Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}}
	if a.Conf.MetricsEnabled && a.Conf.MetricsPort > 0 {
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", a.Conf.MetricsPort),
			Handler:           a.Bus.MetricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	serveErr := make(chan error, len(servers))
	for _, srv := range servers {
		a.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("Shutting down gracefully", nil)
	case runErr = <-serveErr:
		a.Logger.Error("HTTP server failed", runErr, nil)
	case <-a.Bus.Done():
		runErr = errors.New("eventflow: bus stopped unexpectedly")
	}

	timeout := a.Conf.CloseTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	errs := []error{runErr}
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	errs = append(errs, a.Bus.Stop(shutdownCtx))
	return errors.Join(errs...)
}
