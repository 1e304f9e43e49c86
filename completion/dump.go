// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/tidwall/jsonc"

	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/transport"
)

// DumpPath is where the bridge plugin writes its command dump,
// relative to the server directory.
const DumpPath = "plugins/MCPanelBridge/commands.json"

// Runner runs a one-shot command on a server and returns its output.
// transport.Transport satisfies it.
type Runner interface {
	RunOnce(ctx context.Context, server, command string) ([]byte, error)
}

// ParseDump decodes a command dump. The dump is pretty-printed JSON in
// the same shape as a commandTree payload; comments and trailing
// commas from hand-edited dumps are tolerated.
func ParseDump(data []byte) (*protocol.CommandTree, error) {
	var tree protocol.CommandTree
	if err := json.Unmarshal(jsonc.ToJSON(data), &tree); err != nil {
		return nil, fmt.Errorf("parsing command dump: %w", err)
	}
	if err := tree.Validate(); err != nil {
		return nil, fmt.Errorf("command dump: %w", err)
	}
	return &tree, nil
}

// LoadDump reads the bridge's command dump from serverDirectory over
// runner and installs it as the current tree. It is the offline path
// for servers whose bridge is not running.
func (e *Engine) LoadDump(ctx context.Context, runner Runner, serverDirectory string) error {
	command := "cat " + transport.ShellQuote(path.Join(serverDirectory, DumpPath))
	output, err := runner.RunOnce(ctx, e.server, command)
	if err != nil {
		return fmt.Errorf("fetching command dump for %s: %w", e.server, err)
	}
	tree, err := ParseDump(output)
	if err != nil {
		return err
	}
	e.SetTree(tree)
	return nil
}
