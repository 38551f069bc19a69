package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/eventflow/internal/runtime/config"
	errs "github.com/drblury/eventflow/internal/runtime/errors"
	newtransport "github.com/drblury/eventflow/transport"

	// Import all transport packages to register them.
	_ "github.com/drblury/eventflow/transport/transports"
)

// Factory abstracts how the bus initialises its broker transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (newtransport.Transport, error)
}

// FactoryFunc adapts a plain function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (newtransport.Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (newtransport.Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the built-in transport factory that uses the
// modular transport registry.
func DefaultFactory() Factory {
	return registryFactory{registry: newtransport.DefaultRegistry}
}

// RegistryFactory builds transports from a custom registry.
func RegistryFactory(registry *newtransport.Registry) Factory {
	if registry == nil {
		registry = newtransport.DefaultRegistry
	}
	return registryFactory{registry: registry}
}

type registryFactory struct {
	registry *newtransport.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (newtransport.Transport, error) {
	if conf == nil {
		return newtransport.Transport{}, errs.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return f.registry.Build(ctx, conf, logger)
}
