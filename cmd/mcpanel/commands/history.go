// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpanel/mcpanel/cmd/mcpanel/cli"
	"github.com/mcpanel/mcpanel/telemetry"
)

func historyCommand(environment *cli.Environment) *cobra.Command {
	var (
		window     time.Duration
		maxSamples int
		metrics    []string
		outputJSON bool
	)
	command := &cobra.Command{
		Use:   "history <server>",
		Short: "Summarize archived metric history",
		Long: `Read a server's metric history from the local archive without
connecting. Each metric is downsampled to at most --max samples over
--window.

Metric names: tps, mspt, memory_percent, cpu_percent, system_cpu_percent,
thread_count, player_count, network_rx, network_tx, cpu_core.N, disk:PATH.`,
		Example: "  mcpanel history survival --window 10m --metric tps --metric mspt --json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := args[0]
			if err := environment.RequireServer(server); err != nil {
				return err
			}
			cfg, err := environment.Config()
			if err != nil {
				return err
			}
			selected := make([]telemetry.Metric, 0, len(metrics))
			for _, name := range metrics {
				metric, ok := telemetry.ParseMetric(name)
				if !ok {
					return fmt.Errorf("unknown metric %q", name)
				}
				selected = append(selected, metric)
			}

			archive, err := environment.OpenArchive()
			if err != nil {
				return err
			}
			if archive == nil {
				return errors.New("no history archive configured (paths.archive)")
			}
			defer archive.Close()

			store := telemetry.NewStore(telemetry.StoreConfig{
				Server:       server,
				Retention:    cfg.Bridge.HistoryRetention,
				GapThreshold: cfg.Bridge.GapThreshold,
				Archive:      archive,
			})
			if err := store.Restore(cmd.Context()); err != nil {
				return err
			}
			history := store.History(window, maxSamples, selected...)
			if outputJSON {
				return cli.WriteJSON(cmd.OutOrStdout(), history)
			}
			return printHistory(cmd.OutOrStdout(), history)
		},
	}
	flags := command.Flags()
	flags.DurationVar(&window, "window", 30*time.Minute, "how far back to look")
	flags.IntVar(&maxSamples, "max", 60, "maximum samples per metric")
	flags.StringSliceVar(&metrics, "metric", nil, "metrics to include (default all recorded)")
	cli.JSONFlag(flags, &outputJSON)
	return command
}

func printHistory(w io.Writer, history telemetry.History) error {
	writer := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "METRIC\tSAMPLES\tMIN\tMAX\tLAST\tAT")
	for _, metric := range sortedMetrics(history) {
		samples := history.Samples[metric]
		if len(samples) == 0 {
			fmt.Fprintf(writer, "%s\t0\t-\t-\t-\t-\n", metric)
			continue
		}
		low, high := samples[0].Value, samples[0].Value
		for _, sample := range samples[1:] {
			low = min(low, sample.Value)
			high = max(high, sample.Value)
		}
		last := samples[len(samples)-1]
		at := last.Time.Local().Format(time.TimeOnly)
		if last.Projected {
			at += " (projected)"
		}
		fmt.Fprintf(writer, "%s\t%d\t%.2f\t%.2f\t%.2f\t%s\n", metric, len(samples), low, high, last.Value, at)
	}
	return writer.Flush()
}

func sortedMetrics(history telemetry.History) []telemetry.Metric {
	return slices.Sorted(maps.Keys(history.Samples))
}
