package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"

	errs "github.com/drblury/eventflow/internal/runtime/errors"
	"github.com/drblury/eventflow/transport"
)

// ClusterAdmin is the subset of sarama.ClusterAdmin the provisioner uses.
type ClusterAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	Close() error
}

// AdminFactory allows overriding the admin client creation for testing.
var AdminFactory = func(brokers []string, cfg *sarama.Config) (ClusterAdmin, error) {
	return sarama.NewClusterAdmin(brokers, cfg)
}

// Provisioner creates declared topics through the Kafka admin API.
type Provisioner struct {
	brokers []string
	config  *sarama.Config
}

// NewProvisioner returns a provisioner dialing brokers with cfg.
func NewProvisioner(brokers []string, cfg *sarama.Config) *Provisioner {
	return &Provisioner{brokers: brokers, config: cfg}
}

// Provision creates missing topics. An existing topic with fewer partitions
// or a lower replication factor than declared is reported as incompatible;
// more is accepted.
func (p *Provisioner) Provision(ctx context.Context, specs []transport.TopicSpec) ([]transport.ProvisionResult, error) {
	admin, err := AdminFactory(p.brokers, p.config)
	if err != nil {
		return nil, &errs.ProvisionFailure{Err: err}
	}
	defer admin.Close()

	existing, err := admin.ListTopics()
	if err != nil {
		return nil, &errs.ProvisionFailure{Err: err}
	}

	results := make([]transport.ProvisionResult, 0, len(specs))
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, &errs.ProvisionFailure{Topic: spec.Name, Err: err}
		}

		if detail, ok := existing[spec.Name]; ok {
			if detail.NumPartitions < spec.Partitions || detail.ReplicationFactor < spec.ReplicationFactor {
				return nil, &errs.ProvisionFailure{Topic: spec.Name, Err: errs.ErrIncompatibleTopic}
			}
			results = append(results, transport.ProvisionResult{Topic: spec.Name, Outcome: transport.ProvisionExisting, Partitions: detail.NumPartitions})
			continue
		}

		err := admin.CreateTopic(spec.Name, &sarama.TopicDetail{
			NumPartitions:     spec.Partitions,
			ReplicationFactor: spec.ReplicationFactor,
		}, false)
		switch {
		case err == nil:
			results = append(results, transport.ProvisionResult{Topic: spec.Name, Outcome: transport.ProvisionCreated, Partitions: spec.Partitions})
		case isTopicExists(err):
			// created concurrently by another process
			results = append(results, transport.ProvisionResult{Topic: spec.Name, Outcome: transport.ProvisionExisting, Partitions: spec.Partitions})
		default:
			return nil, &errs.ProvisionFailure{Topic: spec.Name, Err: err}
		}
	}
	return results, nil
}

func isTopicExists(err error) bool {
	if errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return true
	}
	var topicErr *sarama.TopicError
	return errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists
}
