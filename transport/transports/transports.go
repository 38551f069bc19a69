// Package transports imports all built-in transports for auto-registration.
package transports

import (
	_ "github.com/drblury/eventflow/transport/aws"
	_ "github.com/drblury/eventflow/transport/channel"
	_ "github.com/drblury/eventflow/transport/kafka"
	_ "github.com/drblury/eventflow/transport/nats"
	_ "github.com/drblury/eventflow/transport/rabbitmq"
)
