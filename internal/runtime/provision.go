package runtime

import (
	"context"
	"errors"

	configpkg "github.com/drblury/eventflow/internal/runtime/config"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/internal/runtime/topics"
	transportpkg "github.com/drblury/eventflow/internal/runtime/transport"
)

// ProvisionTopics connects to the configured broker, ensures every declared
// topic exists and disconnects again. It returns the provisioned registry.
func ProvisionTopics(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, factory transportpkg.Factory) (*topics.Registry, error) {
	bus, err := NewBus(conf, log, Dependencies{TransportFactory: factory})
	if err != nil {
		return nil, err
	}

	tr, err := bus.connect(ctx)
	if err != nil {
		return nil, err
	}

	provisionErr := bus.topics.Provision(ctx, tr.Provisioner, log)
	closeErr := tr.Publisher.Close()
	if err := bus.closeTransport(tr); err != nil {
		closeErr = errors.Join(closeErr, err)
	}
	if provisionErr != nil {
		return nil, provisionErr
	}
	if closeErr != nil {
		log.Error("Failed to disconnect after provisioning", closeErr, nil)
	}
	return bus.topics, nil
}
