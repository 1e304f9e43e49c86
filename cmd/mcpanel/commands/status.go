// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpanel/mcpanel/bridge"
	"github.com/mcpanel/mcpanel/cmd/mcpanel/cli"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/telemetry"
)

func statusCommand(environment *cli.Environment) *cobra.Command {
	var (
		timeout    time.Duration
		outputJSON bool
	)
	command := &cobra.Command{
		Use:   "status <server>",
		Short: "Show a server's latest telemetry",
		Long: `Connect to a server, ask the bridge for a status report, and print
it. Exits 2 if no report arrives within --timeout, which usually means
the bridge plugin is not installed.`,
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

			panel, release, err := attach(ctx, runtime, server, "status", protocol.CadenceHigh)
			if err != nil {
				return err
			}
			defer release()

			if err := runtime.Hub.Sessions().SendRequest(ctx, server, protocol.NewRequest(protocol.RequestStatus, nil)); err != nil {
				return err
			}
			snapshot := awaitSnapshot(ctx, panel, timeout, func(snapshot *telemetry.Snapshot) bool {
				return snapshot.Status != nil
			})
			if snapshot.Status == nil {
				fmt.Fprintf(os.Stderr, "%s: no status report within %s (is the bridge plugin installed?)\n", server, timeout)
				return &cli.ExitError{Code: 2}
			}
			if outputJSON {
				return cli.WriteJSON(cmd.OutOrStdout(), snapshot)
			}
			return printStatus(cmd.OutOrStdout(), panel, snapshot)
		},
	}
	command.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for a report")
	cli.JSONFlag(command.Flags(), &outputJSON)
	return command
}

// awaitSnapshot waits until ready accepts the panel's snapshot or
// timeout passes, and returns the last snapshot seen.
func awaitSnapshot(ctx context.Context, panel *bridge.Panel, timeout time.Duration, ready func(*telemetry.Snapshot) bool) *telemetry.Snapshot {
	updates, unsubscribe := panel.Store.Subscribe()
	defer unsubscribe()
	deadline := time.After(timeout)
	for {
		snapshot := panel.Store.Snapshot()
		if ready(snapshot) {
			return snapshot
		}
		select {
		case <-ctx.Done():
			return snapshot
		case <-deadline:
			return snapshot
		case <-updates:
		}
	}
}

func printStatus(w io.Writer, panel *bridge.Panel, snapshot *telemetry.Snapshot) error {
	writer := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	row := func(label, format string, values ...any) {
		fmt.Fprintf(writer, "%s\t%s\n", label, fmt.Sprintf(format, values...))
	}

	row("Server", "%s", snapshot.Server)
	row("Session", "%s", panel.State().State)
	if handshake := snapshot.Handshake; handshake != nil {
		row("Bridge", "%s %s (protocol %v)", handshake.Platform, handshake.BridgeVersion, handshake.Version)
	}

	status := snapshot.Status
	if status.TPS != nil {
		row("TPS", "%.2f", *status.TPS)
	}
	if status.MSPT != nil {
		row("MSPT", "%.2f", *status.MSPT)
	}
	if status.PlayerCount != nil {
		if status.MaxPlayers != nil {
			row("Players", "%d/%d", *status.PlayerCount, *status.MaxPlayers)
		} else {
			row("Players", "%d", *status.PlayerCount)
		}
	}
	if roster := snapshot.Players; roster != nil && len(roster.Players) > 0 {
		names := make([]string, 0, len(roster.Players))
		for _, player := range roster.Players {
			names = append(names, player.Name)
		}
		row("Online", "%s", strings.Join(names, ", "))
	}
	if percent, ok := status.MemoryPercent(); ok {
		row("Memory", "%d/%d MB (%.0f%%)", *status.UsedMemoryMB, *status.MaxMemoryMB, percent)
	}
	if status.ProcessCPUPercent != nil {
		row("CPU", "%.1f%%", *status.ProcessCPUPercent)
	}
	if status.SystemCPUPercent != nil {
		row("System CPU", "%.1f%%", *status.SystemCPUPercent)
	}
	if status.ThreadCount != nil {
		row("Threads", "%d", *status.ThreadCount)
	}
	if status.UptimeSeconds != nil {
		row("Uptime", "%s", time.Duration(*status.UptimeSeconds)*time.Second)
	}
	for _, disk := range status.Disks {
		row("Disk "+disk.Path, "%.1f%% of %d GB", disk.Percent(), disk.TotalBytes>>30)
	}
	if network := status.Network; network != nil {
		row("Network", "rx %.0f B/s, tx %.0f B/s", network.RxBytesPerSecond, network.TxBytesPerSecond)
	}
	return writer.Flush()
}
