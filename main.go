package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nicebartender/robotsock/logging"
	"github.com/spf13/cobra"
)

var cfg Config

var rootCmd = &cobra.Command{
	Use:   "robotsock",
	Short: "Expose robots, devices, commands and events over websocket namespaces",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger, err := logging.New(level, cfg.LogFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	bindLogFlags(rootCmd, &cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
