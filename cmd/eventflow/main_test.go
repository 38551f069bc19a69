package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventflow/internal/runtime/envelope"
	"github.com/drblury/eventflow/internal/runtime/jsoncodec"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PUBSUB_SYSTEM", "channel")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("CONNECT_MAX_ATTEMPTS", "1")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestProvisionListsDeclaredTopics(t *testing.T) {
	out, err := execute(t, "provision", "--config", "")
	require.NoError(t, err)
	assert.Contains(t, out, "user-events\tpartitions=3\treplication=1")
	assert.Contains(t, out, "order-events")
	assert.Contains(t, out, "notification-events")
}

func TestPublishPrintsEnvelope(t *testing.T) {
	out, err := execute(t, "publish", "--config", "",
		"--topic", "user-events", "--type", "USER_REGISTERED", "--key", "u1",
		"--payload", `{"id":"u1","name":"Ann"}`)
	require.NoError(t, err)

	var env envelope.Envelope
	require.NoError(t, jsoncodec.Unmarshal([]byte(out), &env))
	assert.Equal(t, envelope.EventType("USER_REGISTERED"), env.Type)
	require.NotNil(t, env.CorrelationKey)
	assert.Equal(t, "u1", *env.CorrelationKey)
	assert.NotEmpty(t, env.ID)
	assert.JSONEq(t, `{"id":"u1","name":"Ann"}`, string(env.Payload))
}

func TestPublishRejectsUnknownTopic(t *testing.T) {
	_, err := execute(t, "publish", "--config", "", "--topic", "audit-events", "--type", "USER_REGISTERED")
	assert.Error(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "provision", "--config", "", "--log-level", "loud")
	assert.Error(t, err)
}
