// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"sync"

	"github.com/mcpanel/mcpanel/activity"
	"github.com/mcpanel/mcpanel/completion"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/session"
	"github.com/mcpanel/mcpanel/telemetry"
)

// Panel is everything known about one server, shared by every consumer
// that has it open.
type Panel struct {
	Server     string
	Store      *telemetry.Store
	Completion *completion.Engine
	Activity   *activity.Controller
	Console    *Scrollback

	mu      sync.Mutex
	state   session.StateChange
	waiters []chan struct{}
}

// State returns the last session state change delivered for the
// server. Before any change it reports Disconnected.
func (p *Panel) State() session.StateChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// WaitState returns a channel closed by the next state change.
func (p *Panel) WaitState() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	return ch
}

// Complete answers from the local index.
func (p *Panel) Complete(prefix string) []string {
	return p.Completion.Complete(prefix)
}

// ServerCompletions returns the last completions the server sent in
// answer to a COMPLETE request, or nil.
func (p *Panel) ServerCompletions() *protocol.CommandCompletions {
	return p.Store.Snapshot().Completions
}

func (p *Panel) setState(change session.StateChange) {
	p.mu.Lock()
	p.state = change
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}
