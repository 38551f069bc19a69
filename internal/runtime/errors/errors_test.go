package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestSentinelErrorsArePrefixed(t *testing.T) {
	sentinels := []error{
		ErrConfigRequired, ErrLoggerRequired, ErrPublisherRequired, ErrTopicRequired,
		ErrTopicsRequired, ErrUnknownTopic, ErrEventTypeRequired, ErrUnknownEventType,
		ErrHandlerRequired, ErrGroupIDRequired, ErrGroupExists, ErrInvalidEnvelope,
		ErrBusNotConnected, ErrBusAlreadyStarted, ErrBusStopped, ErrIncompatibleTopic,
		ErrDuplicateTopicName,
	}
	for _, err := range sentinels {
		if !strings.HasPrefix(err.Error(), "eventflow: ") {
			t.Errorf("sentinel %q is missing the eventflow prefix", err)
		}
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "eventflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, inner) {
		t.Error("expected ConfigValidationError to unwrap to the inner error")
	}
	if NewConfigValidationError(nil) != nil {
		t.Error("expected nil for nil input")
	}
}

func TestFailureKindsAreDistinct(t *testing.T) {
	cause := errors.New("boom")

	var err error = &DeserializationFailure{GroupID: "g", Topic: "t", MessageID: "m", Err: cause}
	var handlerFailure *HandlerFailure
	if errors.As(err, &handlerFailure) {
		t.Fatal("deserialization failure must not match handler failure")
	}
	var decodeFailure *DeserializationFailure
	if !errors.As(err, &decodeFailure) || decodeFailure.GroupID != "g" {
		t.Fatalf("expected deserialization failure, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected failure to unwrap to its cause")
	}
}

func TestFailureMessages(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"provision topic", &ProvisionFailure{Topic: "user-events", Err: cause}, `eventflow: provision topic "user-events": boom`},
		{"provision all", &ProvisionFailure{Err: cause}, "eventflow: provision topics: boom"},
		{"connect", &ConnectFailure{Component: "publisher", Err: cause}, "eventflow: connect publisher: boom"},
		{"publish", &PublishFailure{Topic: "order-events", EventType: "ORDER_CREATED", Err: cause}, `eventflow: publish ORDER_CREATED to "order-events": boom`},
		{"handler", &HandlerFailure{GroupID: "g", Topic: "t", Partition: 2, Offset: 42, EventID: "id", EventType: "X", Err: cause}, `eventflow: group "g" handler failed for X id on t[2]@42: boom`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
