package topics

import (
	"context"
	"sync"

	errs "github.com/drblury/eventflow/internal/runtime/errors"
	"github.com/drblury/eventflow/transport"
)

// MemoryProvisioner keeps topic layouts in process memory. It applies the
// same created/existing/incompatible rules as a broker admin client.
type MemoryProvisioner struct {
	mu     sync.Mutex
	topics map[string]int32
	calls  int

	// Err, when set, fails every Provision call.
	Err error
}

// NewMemoryProvisioner returns a provisioner that already knows the given
// topic partition counts.
func NewMemoryProvisioner(existing map[string]int32) *MemoryProvisioner {
	topics := make(map[string]int32, len(existing))
	for name, partitions := range existing {
		topics[name] = partitions
	}
	return &MemoryProvisioner{topics: topics}
}

func (m *MemoryProvisioner) Provision(ctx context.Context, specs []transport.TopicSpec) ([]transport.ProvisionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.topics == nil {
		m.topics = make(map[string]int32)
	}

	results := make([]transport.ProvisionResult, 0, len(specs))
	for _, spec := range specs {
		partitions, ok := m.topics[spec.Name]
		if !ok {
			m.topics[spec.Name] = spec.Partitions
			results = append(results, transport.ProvisionResult{Topic: spec.Name, Outcome: transport.ProvisionCreated, Partitions: spec.Partitions})
			continue
		}
		if partitions < spec.Partitions {
			return nil, &errs.ProvisionFailure{Topic: spec.Name, Err: errs.ErrIncompatibleTopic}
		}
		results = append(results, transport.ProvisionResult{Topic: spec.Name, Outcome: transport.ProvisionExisting, Partitions: partitions})
	}
	return results, nil
}

// Partitions returns the recorded partition count of a topic.
func (m *MemoryProvisioner) Partitions(topic string) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.topics[topic]
	return p, ok
}

// Calls returns how many times Provision ran.
func (m *MemoryProvisioner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
