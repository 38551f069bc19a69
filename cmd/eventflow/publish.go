package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/eventflow/internal/app"
	"github.com/drblury/eventflow/internal/runtime"
	"github.com/drblury/eventflow/internal/runtime/envelope"
	"github.com/drblury/eventflow/internal/runtime/jsoncodec"
)

var (
	publishTopic   string
	publishType    string
	publishKey     string
	publishPayload string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a single event and print its envelope",
	RunE: func(cmd *cobra.Command, args []string) error {
		if publishTopic == "" || publishType == "" {
			return errors.New("--topic and --type are required")
		}
		payload := json.RawMessage(publishPayload)
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}

		bus, err := runtime.NewBus(conf, logger, runtime.Dependencies{EventTypes: app.EventTypes()})
		if err != nil {
			return err
		}
		if err := bus.Start(cmd.Context()); err != nil {
			return err
		}

		var opts []runtime.PublishOption
		if publishKey != "" {
			opts = append(opts, runtime.WithCorrelationKey(publishKey))
		}
		env, publishErr := bus.Publish(cmd.Context(), publishTopic, envelope.EventType(publishType), payload, opts...)
		stopErr := bus.Stop(cmd.Context())
		if publishErr != nil {
			return publishErr
		}
		if stopErr != nil {
			logger.Error("Failed to stop bus", stopErr, nil)
		}

		out, err := jsoncodec.MarshalIndent(env, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishTopic, "topic", "", "topic to publish to")
	publishCmd.Flags().StringVar(&publishType, "type", "", "event type, e.g. USER_REGISTERED")
	publishCmd.Flags().StringVar(&publishKey, "key", "", "correlation key used for partitioning")
	publishCmd.Flags().StringVar(&publishPayload, "payload", "", "JSON payload")
}
