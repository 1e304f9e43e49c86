// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpanel/mcpanel/cmd/mcpanel/cli"
)

func dumpCommand(environment *cli.Environment) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <server>",
		Short: "Load the bridge's command dump into the completion cache",
		Long: `Read the command tree the bridge plugin writes to its data directory,
over a one-shot SSH command rather than the console, and store its root
commands in the completion cache. Useful before the first console
session, or when the server is not running.`,
		Args: cobra.ExactArgs(1),
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

			if err := runtime.Hub.LoadDump(ctx, server); err != nil {
				return err
			}
			engine := runtime.Hub.Panel(server).Completion
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d root commands (tree %.12s)\n", server, len(engine.Roots()), engine.Digest())
			return nil
		},
	}
}
