// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mcpanel/mcpanel/cmd/mcpanel/cli"
)

type serverEntry struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	User      string `json:"user"`
	Directory string `json:"directory,omitempty"`
}

func serversCommand(environment *cli.Environment) *cobra.Command {
	var outputJSON bool
	command := &cobra.Command{
		Use:   "servers",
		Short: "List configured servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := environment.Config()
			if err != nil {
				return err
			}
			var entries []serverEntry
			for _, name := range cfg.ServerNames() {
				server := cfg.Servers[name]
				entries = append(entries, serverEntry{
					Name:      name,
					Address:   server.Address,
					User:      server.User,
					Directory: server.Directory,
				})
			}
			if outputJSON {
				return cli.WriteJSON(cmd.OutOrStdout(), entries)
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 0, 3, ' ', 0)
			fmt.Fprintln(writer, "NAME\tADDRESS\tUSER\tDIRECTORY")
			for _, entry := range entries {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", entry.Name, entry.Address, entry.User, entry.Directory)
			}
			return writer.Flush()
		},
	}
	cli.JSONFlag(command.Flags(), &outputJSON)
	return command
}
