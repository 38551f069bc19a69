// Package topics holds the declared topic set of a bus and provisions it
// against the active transport exactly once.
package topics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	errs "github.com/drblury/eventflow/internal/runtime/errors"
	"github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/transport"
)

// Registry is the static set of topics a process publishes to or consumes
// from. It is immutable after construction apart from the provisioned flag.
type Registry struct {
	specs []transport.TopicSpec
	index map[string]transport.TopicSpec

	mu          sync.Mutex
	provisioned bool
}

// NewRegistry validates specs and returns a registry over them. Names must be
// unique and partitions and replication factor positive.
func NewRegistry(specs ...transport.TopicSpec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, errs.ErrTopicsRequired
	}

	r := &Registry{index: make(map[string]transport.TopicSpec, len(specs))}
	var problems []error
	for _, spec := range specs {
		switch {
		case spec.Name == "":
			problems = append(problems, errs.ErrTopicRequired)
			continue
		case spec.Partitions <= 0:
			problems = append(problems, fmt.Errorf("topic %q: partitions must be positive, got %d", spec.Name, spec.Partitions))
		case spec.ReplicationFactor <= 0:
			problems = append(problems, fmt.Errorf("topic %q: replication factor must be positive, got %d", spec.Name, spec.ReplicationFactor))
		}
		if _, dup := r.index[spec.Name]; dup {
			problems = append(problems, fmt.Errorf("%w: %q", errs.ErrDuplicateTopicName, spec.Name))
			continue
		}
		r.index[spec.Name] = spec
		r.specs = append(r.specs, spec)
	}
	if err := errors.Join(problems...); err != nil {
		return nil, err
	}
	return r, nil
}

// Specs returns the declared topics in declaration order.
func (r *Registry) Specs() []transport.TopicSpec {
	return append([]transport.TopicSpec(nil), r.specs...)
}

// Names returns the declared topic names in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.specs))
	for i, spec := range r.specs {
		names[i] = spec.Name
	}
	return names
}

// Lookup returns the spec for name.
func (r *Registry) Lookup(name string) (transport.TopicSpec, bool) {
	spec, ok := r.index[name]
	return spec, ok
}

// Contains reports whether name was declared.
func (r *Registry) Contains(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Provisioned reports whether Provision has completed successfully.
func (r *Registry) Provisioned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.provisioned
}

// Provision ensures every declared topic exists. Calls after the first
// success return nil without touching the broker. A nil provisioner means
// the transport creates topics on first use.
func (r *Registry) Provision(ctx context.Context, p transport.Provisioner, log logging.ServiceLogger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.provisioned {
		return nil
	}

	if p == nil {
		log.Info("Transport provisions topics implicitly", logging.LogFields{"topics": r.Names()})
		r.provisioned = true
		return nil
	}

	results, err := p.Provision(ctx, r.Specs())
	if err != nil {
		var failure *errs.ProvisionFailure
		if errors.As(err, &failure) {
			return err
		}
		return &errs.ProvisionFailure{Err: err}
	}

	for _, res := range results {
		fields := logging.LogFields{"topic": res.Topic, "partitions": res.Partitions}
		switch res.Outcome {
		case transport.ProvisionExisting:
			log.Info("Topic already exists", fields)
		default:
			log.Info("Topic created", fields)
		}
	}
	r.provisioned = true
	return nil
}
