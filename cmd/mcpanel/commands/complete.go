// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpanel/mcpanel/cmd/mcpanel/cli"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/telemetry"
)

func completeCommand(environment *cli.Environment) *cobra.Command {
	var (
		timeout time.Duration
		remote  bool
	)
	command := &cobra.Command{
		Use:   "complete <server> <prefix>...",
		Short: "Complete a partial command line",
		Long: `Print completions for a partial command line, one per line.

By default completions come from the server's command tree, which is
fetched after connecting; if it does not arrive within --timeout the
cached root command names are used. With --remote the server itself is
asked, which also covers plugin commands with dynamic arguments.`,
		Example: "  mcpanel complete survival gamemode s\n  mcpanel complete survival --remote \"tp Ste\"",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := args[0]
			prefix := strings.Join(args[1:], " ")
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

			panel, release, err := attach(ctx, runtime, server, "complete", protocol.CadenceLow)
			if err != nil {
				return err
			}
			defer release()

			output := cmd.OutOrStdout()
			if remote {
				if err := panel.Completion.RequestCompletions(ctx, prefix); err != nil {
					return err
				}
				previous := panel.ServerCompletions()
				snapshot := awaitSnapshot(ctx, panel, timeout, func(snapshot *telemetry.Snapshot) bool {
					return snapshot.Completions != nil && snapshot.Completions != previous
				})
				if snapshot.Completions == nil || snapshot.Completions == previous {
					return fmt.Errorf("%s: no completions within %s", server, timeout)
				}
				for _, completion := range snapshot.Completions.Completions {
					fmt.Fprintln(output, completion.Text)
				}
				return nil
			}

			awaitSnapshot(ctx, panel, timeout, func(*telemetry.Snapshot) bool {
				return panel.Completion.HasTree()
			})
			for _, candidate := range panel.Complete(prefix) {
				fmt.Fprintln(output, candidate)
			}
			return nil
		},
	}
	command.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the command tree or the server's answer")
	command.Flags().BoolVar(&remote, "remote", false, "ask the server instead of the local index")
	return command
}
