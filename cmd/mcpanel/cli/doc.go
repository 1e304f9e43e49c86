// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli holds what every mcpanel subcommand shares: the
// [Environment] that loads configuration and assembles the bridge, the
// command logger, JSON output, and exit codes. The command tree itself
// lives in package commands.
package cli
