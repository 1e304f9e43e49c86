// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Command mcpanel is the client for Minecraft servers running the
// MCPanel bridge plugin: an interactive console, scripting commands,
// and a websocket feed for dashboards.
package main

import (
	"os"

	"github.com/mcpanel/mcpanel/cmd/mcpanel/commands"
	"github.com/mcpanel/mcpanel/lib/process"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		// Commands that print their own output return an error with
		// an exit code; don't add an "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}
