// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the mcpanel command tree.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpanel/mcpanel/cmd/mcpanel/cli"
	"github.com/mcpanel/mcpanel/lib/version"
)

// Root returns the top-level command with every subcommand attached.
func Root() *cobra.Command {
	environment := &cli.Environment{}

	root := &cobra.Command{
		Use:   "mcpanel",
		Short: "Console and telemetry client for MCPanel bridge servers",
		Long: `mcpanel attaches to Minecraft server consoles over SSH and speaks to
the MCPanel bridge plugin running inside them. One connection per
server is shared by everything that needs it: the interactive console,
one-shot commands, and the websocket feed.

Servers are declared in the file named by --config or MCPANEL_CONFIG.`,
		Version:       version.Info(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&environment.ConfigPath, "config", "", "path to mcpanel.yaml (default $MCPANEL_CONFIG)")
	flags.StringVar(&environment.LogLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		serversCommand(environment),
		consoleCommand(environment),
		tailCommand(environment),
		sendCommand(environment),
		statusCommand(environment),
		historyCommand(environment),
		completeCommand(environment),
		dumpCommand(environment),
		serveCommand(environment),
		versionCommand(),
	)
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcpanel %s\n", version.Full())
		},
	}
}
