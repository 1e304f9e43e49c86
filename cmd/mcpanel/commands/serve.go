// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/mcpanel/mcpanel/cmd/mcpanel/cli"
	"github.com/mcpanel/mcpanel/feed"
)

func serveCommand(environment *cli.Environment) *cobra.Command {
	var listen string
	command := &cobra.Command{
		Use:   "serve",
		Short: "Serve the websocket feed for dashboards",
		Long: `Run the feed server: a JSON API and a websocket per server carrying
snapshots, console output, and session state. Sessions open when the
first client subscribes to a server and close when the last leaves.
History is persisted to the archive while the server runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			runtime, stop, err := startRuntime(ctx, environment)
			if err != nil {
				return err
			}
			defer stop()

			cfg := runtime.Config
			if listen == "" {
				listen = cfg.Feed.Listen
			}
			server, err := feed.NewServer(feed.Config{
				Hub:      runtime.Hub,
				Servers:  cfg.ServerNames(),
				Throttle: cfg.Feed.Throttle,
				Token:    cfg.Feed.Token,
				Logger:   runtime.Logger,
			})
			if err != nil {
				return err
			}
			listener, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", listen, err)
			}
			return server.Serve(ctx, listener)
		},
	}
	command.Flags().StringVar(&listen, "listen", "", "address to listen on (default feed.listen)")
	return command
}
