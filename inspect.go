package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/nicebartender/robotsock/master"
	"github.com/nicebartender/robotsock/mcp"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the channels derived from a control program",
	RunE: func(cmd *cobra.Command, args []string) error {
		program, err := loadProgram(cmd.Context(), cfg.ProgramPath)
		if err != nil {
			return err
		}
		printChannels(cmd.OutOrStdout(), program)
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&cfg.ProgramPath, "program", envOrDefault("ROBOTSOCK_PROGRAM", "robots.yaml"), "Control program (.yaml, .yml, .db or .sqlite)")
	rootCmd.AddCommand(inspectCmd)
}

func printChannels(w io.Writer, program *mcp.Program) {
	for _, p := range master.Paths(program) {
		switch p.Kind() {
		case master.KindDevice:
			robot, _ := program.Robot(p.Robot())
			device, _ := robot.Device(p.Device())
			fmt.Fprintf(w, "%s\n  commands: %s\n  events:   %s\n", p, list(device.CommandNames()), list(device.Events()))
		case master.KindRobot:
			robot, _ := program.Robot(p.Robot())
			fmt.Fprintf(w, "%s\n  devices:  %s\n", p, list(robot.DeviceNames()))
		default:
			fmt.Fprintf(w, "%s\n  robots:   %s\n", p, list(program.RobotNames()))
		}
	}
}

func list(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
