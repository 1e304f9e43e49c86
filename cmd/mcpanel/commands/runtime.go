// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcpanel/mcpanel/bridge"
	"github.com/mcpanel/mcpanel/cmd/mcpanel/cli"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/session"
)

// signalContext is cancelled by SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// startRuntime opens the runtime and starts its history persistence.
// The returned stop function ends persistence, waits for the final
// write, and closes every session.
func startRuntime(ctx context.Context, environment *cli.Environment) (*cli.Runtime, func(), error) {
	runtime, err := environment.OpenRuntime()
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.Hub.Run(ctx)
	}()
	return runtime, func() {
		cancel()
		<-done
		runtime.Close()
	}, nil
}

// attach acquires server for consumer. The returned release function
// must run before the runtime is stopped.
func attach(ctx context.Context, runtime *cli.Runtime, server string, consumer session.Consumer, cadence protocol.Cadence) (*bridge.Panel, func(), error) {
	panel, err := runtime.Hub.Acquire(ctx, server, consumer, cadence)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", server, err)
	}
	return panel, func() { runtime.Hub.Release(server, consumer) }, nil
}
