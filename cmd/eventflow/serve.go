package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drblury/eventflow/internal/app"
	"github.com/drblury/eventflow/internal/runtime"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bus, the consumer groups and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(conf, logger, runtime.Dependencies{})
		if err != nil {
			return err
		}
		return a.Run(ctx)
	},
}
