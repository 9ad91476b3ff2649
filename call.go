package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nicebartender/robotsock/client"
	"github.com/nicebartender/robotsock/master"
	"github.com/spf13/cobra"
)

var callOpts struct {
	url     string
	nsp     string
	timeout time.Duration
}

var callCmd = &cobra.Command{
	Use:   "call EVENT [JSON_ARG...]",
	Short: "Emit one message on a namespace and print the reply",
	Example: `  robotsock call --nsp /api/ robots
  robotsock call --nsp /api/robots/rosie/devices/led command '"turn_on"'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		event := args[0]
		payload := parseArgs(args[1:])

		ctx, cancel := context.WithTimeout(cmd.Context(), callOpts.timeout)
		defer cancel()

		c, err := client.Dial(ctx, callOpts.url)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Join(ctx, callOpts.nsp); err != nil {
			return err
		}
		if err := c.Emit(callOpts.nsp, event, payload...); err != nil {
			return err
		}

		m, err := c.Await(ctx, callOpts.nsp, event, master.EventCommandError)
		if err != nil {
			return err
		}
		out, err := json.Marshal(m.Args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", m.Event, out)
		return nil
	},
}

// parseArgs decodes each argument as JSON, falling back to a plain string.
func parseArgs(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, r := range raw {
		var v any
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			v = r
		}
		out = append(out, v)
	}
	return out
}

func init() {
	callCmd.Flags().StringVar(&callOpts.url, "url", envOrDefault("ROBOTSOCK_URL", "ws://localhost:8090/socket"), "Server websocket URL")
	callCmd.Flags().StringVar(&callOpts.nsp, "nsp", "/api/", "Namespace to join")
	callCmd.Flags().DurationVar(&callOpts.timeout, "timeout", 10*time.Second, "Overall deadline")
	rootCmd.AddCommand(callCmd)
}
