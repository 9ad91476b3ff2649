package main

import (
	"fmt"

	"github.com/nicebartender/robotsock/db"
	"github.com/nicebartender/robotsock/mcp"
	"github.com/spf13/cobra"
)

var importDBPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Store a YAML control program in a program database",
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := mcp.LoadYAMLFile(cfg.ProgramPath)
		if err != nil {
			return err
		}
		if _, err := mcp.Build(spec); err != nil {
			return fmt.Errorf("invalid program: %w", err)
		}

		database, err := db.Open(importDBPath)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.SaveSpec(cmd.Context(), spec); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d robots into %s\n", len(spec.Robots), importDBPath)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&cfg.ProgramPath, "program", envOrDefault("ROBOTSOCK_PROGRAM", "robots.yaml"), "YAML control program")
	importCmd.Flags().StringVar(&importDBPath, "db", envOrDefault("ROBOTSOCK_DB", "robotsock.db"), "Program database path")
	rootCmd.AddCommand(importCmd)
}
