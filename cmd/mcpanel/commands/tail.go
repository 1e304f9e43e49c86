// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpanel/mcpanel/bridge"
	"github.com/mcpanel/mcpanel/cmd/mcpanel/cli"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/session"
)

func tailCommand(environment *cli.Environment) *cobra.Command {
	var plain bool
	command := &cobra.Command{
		Use:   "tail <server>",
		Short: "Stream a server's console output",
		Long: `Print a server's console output as it arrives, until interrupted or
the session is lost. Bridge telemetry is filtered out. Escape sequences
are stripped when stdout is not a color terminal or --plain is given.`,
		Example: "  mcpanel tail survival --plain | grep WARN",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := args[0]
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

			panel, release, err := attach(ctx, runtime, server, "tail", protocol.CadenceLow)
			if err != nil {
				return err
			}
			defer release()

			return follow(ctx, panel, cli.NewConsoleWriter(os.Stdout, plain))
		},
	}
	command.Flags().BoolVar(&plain, "plain", false, "strip escape sequences")
	return command
}

// follow copies console output to w until ctx is done or the session
// ends. A session that ends with an error returns it.
func follow(ctx context.Context, panel *bridge.Panel, w io.Writer) error {
	var offset uint64
	changed := panel.WaitState()
	for {
		output := panel.Console.Wait()
		text, next, _ := panel.Console.ReadFrom(offset)
		offset = next
		if len(text) > 0 {
			if _, err := w.Write(text); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-output:
		case <-changed:
			changed = panel.WaitState()
			if state := panel.State(); state.State == session.Disconnected {
				if state.Err != nil {
					return fmt.Errorf("%s: %w", panel.Server, state.Err)
				}
				return nil
			}
		}
	}
}
