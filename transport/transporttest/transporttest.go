// Package transporttest provides fakes for exercising transports and the bus
// without a broker.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a field-backed transport.Config.
type Config struct {
	PubSubSystem       string
	KafkaBrokers       []string
	KafkaClientID      string
	KafkaInitialOffset string
	RabbitMQURL        string
	NATSURL            string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
	ConnectTimeout     time.Duration
}

func (c *Config) GetPubSubSystem() string          { return c.PubSubSystem }
func (c *Config) GetKafkaBrokers() []string        { return c.KafkaBrokers }
func (c *Config) GetKafkaClientID() string         { return c.KafkaClientID }
func (c *Config) GetKafkaInitialOffset() string    { return c.KafkaInitialOffset }
func (c *Config) GetRabbitMQURL() string           { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string               { return c.NATSURL }
func (c *Config) GetAWSRegion() string             { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string          { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string        { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string    { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string           { return c.AWSEndpoint }
func (c *Config) GetConnectTimeout() time.Duration { return c.ConnectTimeout }

// Publisher records every published message. Err, when set, is returned from
// Publish and nothing is recorded.
type Publisher struct {
	mu       sync.Mutex
	Err      error
	messages map[string][]*message.Message
	closed   bool
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.messages == nil {
		p.messages = make(map[string][]*message.Message)
	}
	p.messages[topic] = append(p.messages[topic], messages...)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Messages returns a copy of what was published to topic.
func (p *Publisher) Messages(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages[topic]...)
}

// Closed reports whether Close was called.
func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Subscriber hands out channels that stay open until Close or ctx cancel.
type Subscriber struct {
	mu     sync.Mutex
	Err    error
	topics []string
	closed bool
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.topics = append(s.topics, topic)
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Topics returns the topics Subscribe was called with.
func (s *Subscriber) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

// Closed reports whether Close was called.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
