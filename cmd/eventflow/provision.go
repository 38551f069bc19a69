package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/eventflow/internal/runtime"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the declared topics and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := runtime.ProvisionTopics(cmd.Context(), conf, logger, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, spec := range registry.Specs() {
			fmt.Fprintf(out, "%s\tpartitions=%d\treplication=%d\n", spec.Name, spec.Partitions, spec.ReplicationFactor)
		}
		return nil
	},
}
