package nats

import (
	"context"
	"errors"

	natsgo "github.com/nats-io/nats.go"

	errs "github.com/drblury/eventflow/internal/runtime/errors"
	"github.com/drblury/eventflow/transport"
)

// StreamManager is the subset of nats.JetStreamContext the provisioner uses.
type StreamManager interface {
	StreamInfo(stream string, opts ...natsgo.JSOpt) (*natsgo.StreamInfo, error)
	AddStream(cfg *natsgo.StreamConfig, opts ...natsgo.JSOpt) (*natsgo.StreamInfo, error)
}

// StreamManagerFactory allows overriding the JetStream connection for
// testing. The returned func releases the connection.
var StreamManagerFactory = func(url string, options []natsgo.Option) (StreamManager, func(), error) {
	nc, err := natsgo.Connect(url, options...)
	if err != nil {
		return nil, nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return js, nc.Close, nil
}

// Provisioner creates one JetStream stream per topic, named after it and
// capturing exactly its subject. Streams are not partitioned; the declared
// partition count is ignored. An existing stream with fewer replicas than
// declared is incompatible.
type Provisioner struct {
	url     string
	options []natsgo.Option
}

// NewProvisioner returns a provisioner connecting to url.
func NewProvisioner(url string, options []natsgo.Option) *Provisioner {
	return &Provisioner{url: url, options: options}
}

func (p *Provisioner) Provision(ctx context.Context, specs []transport.TopicSpec) ([]transport.ProvisionResult, error) {
	js, release, err := StreamManagerFactory(p.url, p.options)
	if err != nil {
		return nil, &errs.ProvisionFailure{Err: err}
	}
	defer release()

	results := make([]transport.ProvisionResult, 0, len(specs))
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, &errs.ProvisionFailure{Topic: spec.Name, Err: err}
		}

		info, err := js.StreamInfo(spec.Name)
		switch {
		case err == nil:
			if replicas(info) < int(spec.ReplicationFactor) {
				return nil, &errs.ProvisionFailure{Topic: spec.Name, Err: errs.ErrIncompatibleTopic}
			}
			results = append(results, transport.ProvisionResult{Topic: spec.Name, Outcome: transport.ProvisionExisting, Partitions: 1})
			continue
		case !errors.Is(err, natsgo.ErrStreamNotFound):
			return nil, &errs.ProvisionFailure{Topic: spec.Name, Err: err}
		}

		_, err = js.AddStream(&natsgo.StreamConfig{
			Name:      spec.Name,
			Subjects:  []string{spec.Name},
			Retention: natsgo.LimitsPolicy,
			Storage:   natsgo.FileStorage,
			Replicas:  int(spec.ReplicationFactor),
		})
		switch {
		case err == nil:
			results = append(results, transport.ProvisionResult{Topic: spec.Name, Outcome: transport.ProvisionCreated, Partitions: 1})
		case errors.Is(err, natsgo.ErrStreamNameAlreadyInUse):
			results = append(results, transport.ProvisionResult{Topic: spec.Name, Outcome: transport.ProvisionExisting, Partitions: 1})
		default:
			return nil, &errs.ProvisionFailure{Topic: spec.Name, Err: err}
		}
	}
	return results, nil
}

// replicas of an existing stream. JetStream treats zero as one.
func replicas(info *natsgo.StreamInfo) int {
	if info == nil || info.Config.Replicas < 1 {
		return 1
	}
	return info.Config.Replicas
}
