// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpanel/mcpanel/cmd/mcpanel/cli"
	"github.com/mcpanel/mcpanel/protocol"
)

func sendCommand(environment *cli.Environment) *cobra.Command {
	var (
		wait  time.Duration
		plain bool
	)
	command := &cobra.Command{
		Use:   "send <server> <command>...",
		Short: "Run one console command",
		Long: `Send a command to a server's console, then print the output that
arrives within --wait. A leading slash is dropped.`,
		Example: "  mcpanel send survival say Restarting in 5 minutes\n  mcpanel send survival --wait 0 save-all",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := args[0]
			line := strings.TrimPrefix(strings.Join(args[1:], " "), "/")
			if err := environment.RequireServer(server); err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			runtime, stop, err := startRuntime(ctx, environment)
			if err != nil {
				return err
			}
			defer stop()

			panel, release, err := attach(ctx, runtime, server, "send", protocol.CadenceLow)
			if err != nil {
				return err
			}
			defer release()

			offset := panel.Console.Offset()
			if err := runtime.Hub.SendCommand(ctx, server, line); err != nil {
				return err
			}
			if wait <= 0 {
				return nil
			}
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			text, _, _ := panel.Console.ReadFrom(offset)
			_, err = cli.NewConsoleWriter(os.Stdout, plain).Write(text)
			return err
		},
	}
	command.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to collect output after sending; 0 prints nothing")
	command.Flags().BoolVar(&plain, "plain", false, "strip escape sequences")
	return command
}
