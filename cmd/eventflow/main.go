// Command eventflow runs the demo event-driven application, provisions its
// topics and publishes single events from the command line.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configpkg "github.com/drblury/eventflow/internal/runtime/config"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
)

var (
	configPath string
	logLevel   string

	conf   *configpkg.Config
	logger loggingpkg.ServiceLogger
)

var rootCmd = &cobra.Command{
	Use:           "eventflow",
	Short:         "Event bus over a partitioned durable log",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configpkg.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		level, err := loggingpkg.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		conf = cfg
		logger = loggingpkg.NewJSONLogger(cmd.ErrOrStderr(), level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("EVENTFLOW_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, provisionCmd, publishCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "eventflow:", err)
		os.Exit(1)
	}
}
