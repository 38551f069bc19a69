package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired     = sterrors.New("eventflow: configuration is required")
	ErrLoggerRequired     = sterrors.New("eventflow: logger is required")
	ErrPublisherRequired  = sterrors.New("eventflow: publisher is required")
	ErrTopicRequired      = sterrors.New("eventflow: topic is required")
	ErrTopicsRequired     = sterrors.New("eventflow: at least one topic is required")
	ErrUnknownTopic       = sterrors.New("eventflow: topic is not declared")
	ErrEventTypeRequired  = sterrors.New("eventflow: event type is required")
	ErrUnknownEventType   = sterrors.New("eventflow: unknown event type")
	ErrHandlerRequired    = sterrors.New("eventflow: handler function is required")
	ErrGroupIDRequired    = sterrors.New("eventflow: consumer group id is required")
	ErrGroupExists        = sterrors.New("eventflow: consumer group already subscribed")
	ErrInvalidEnvelope    = sterrors.New("eventflow: invalid envelope")
	ErrBusNotConnected    = sterrors.New("eventflow: bus is not connected")
	ErrBusAlreadyStarted  = sterrors.New("eventflow: bus already started")
	ErrBusStopped         = sterrors.New("eventflow: bus is stopped")
	ErrIncompatibleTopic  = sterrors.New("eventflow: existing topic has fewer partitions than declared")
	ErrDuplicateTopicName = sterrors.New("eventflow: duplicate topic declaration")
)

// ConfigValidationError wraps the joined validation errors of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("eventflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// ProvisionFailure reports that a topic could not be ensured for a reason other
// than already existing with a compatible layout. Fatal at startup.
type ProvisionFailure struct {
	Topic string
	Err   error
}

func (e *ProvisionFailure) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("eventflow: provision topics: %v", e.Err)
	}
	return fmt.Sprintf("eventflow: provision topic %q: %v", e.Topic, e.Err)
}

func (e *ProvisionFailure) Unwrap() error { return e.Err }

// ConnectFailure reports that a producer, consumer or admin connection could
// not be established.
type ConnectFailure struct {
	Component string
	Err       error
}

func (e *ConnectFailure) Error() string {
	return fmt.Sprintf("eventflow: connect %s: %v", e.Component, e.Err)
}

func (e *ConnectFailure) Unwrap() error { return e.Err }

// PublishFailure reports that a send did not reach the broker. The bus never
// retries; the caller decides.
type PublishFailure struct {
	Topic     string
	EventType string
	Err       error
}

func (e *PublishFailure) Error() string {
	return fmt.Sprintf("eventflow: publish %s to %q: %v", e.EventType, e.Topic, e.Err)
}

func (e *PublishFailure) Unwrap() error { return e.Err }

// DeserializationFailure reports a consumed message that is not a valid
// envelope. The message is skipped.
type DeserializationFailure struct {
	GroupID   string
	Topic     string
	Partition int32
	Offset    int64
	MessageID string
	Err       error
}

func (e *DeserializationFailure) Error() string {
	return fmt.Sprintf("eventflow: group %q skipped message %s on %s[%d]@%d: %v",
		e.GroupID, e.MessageID, e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *DeserializationFailure) Unwrap() error { return e.Err }

// HandlerFailure reports that a handler failed on a valid envelope. The
// message still counts as delivered.
type HandlerFailure struct {
	GroupID   string
	Topic     string
	Partition int32
	Offset    int64
	EventID   string
	EventType string
	Err       error
}

func (e *HandlerFailure) Error() string {
	return fmt.Sprintf("eventflow: group %q handler failed for %s %s on %s[%d]@%d: %v",
		e.GroupID, e.EventType, e.EventID, e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *HandlerFailure) Unwrap() error { return e.Err }
