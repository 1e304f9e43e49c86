// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mcpanel/mcpanel/cmd/mcpanel/cli"
	"github.com/mcpanel/mcpanel/console"
	"github.com/mcpanel/mcpanel/protocol"
)

func consoleCommand(environment *cli.Environment) *cobra.Command {
	return &cobra.Command{
		Use:   "console <server>",
		Short: "Open the interactive console of a server",
		Long: `Open a full-screen console: live server output, a command line with
completion from the server's command tree, and a status header. While
the console is open the bridge reports telemetry at high cadence.`,
		Example: "  mcpanel console survival",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := args[0]
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New(`console needs a terminal; use "mcpanel send" or "mcpanel tail" from scripts`)
			}
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

			panel, release, err := attach(ctx, runtime, server, "console", protocol.CadenceHigh)
			if err != nil {
				return err
			}
			defer release()

			return console.Run(console.Config{Panel: panel, Sender: runtime.Hub})
		},
	}
}
