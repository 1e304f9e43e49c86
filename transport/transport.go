// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport opens the byte streams the bridge runs over: an
// interactive PTY channel attached to a server console, and one-shot
// command execution on the same host.
//
// [SSH] is the production implementation. [Memory] is an in-process
// implementation for tests that lets the test play the remote side.
package transport

import (
	"context"
	"fmt"
	"io"
)

// Channel is an open PTY stream. Reads return console output; writes
// are keystrokes delivered to the console.
type Channel interface {
	io.ReadWriteCloser
}

// Resizer is implemented by channels whose terminal size can change.
type Resizer interface {
	Resize(columns, rows int) error
}

// Transport reaches remote servers by name.
type Transport interface {
	// Open starts an interactive PTY channel on server.
	Open(ctx context.Context, server string) (Channel, error)

	// RunOnce executes command on server outside any PTY and returns
	// its standard output.
	RunOnce(ctx context.Context, server, command string) ([]byte, error)
}

// Error reports a failure to open, read, or write a channel. Session
// code treats every Error as recoverable by reconnecting.
type Error struct {
	Server string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Server, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
