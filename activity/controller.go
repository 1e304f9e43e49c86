// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package activity decides how often a server's bridge should report
// telemetry. Consumers vote a cadence while they are visible; the
// bridge is asked for high cadence while any vote is high and low
// otherwise. Changes are debounced so views flapping in and out of
// focus produce at most one request per interval.
package activity

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mcpanel/mcpanel/lib/clock"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/session"
)

// DefaultDebounce is the settle interval before a cadence change is
// sent.
const DefaultDebounce = 750 * time.Millisecond

// Requester sends a cadence request to a server. *session.Manager
// satisfies it.
type Requester interface {
	RequestCadence(ctx context.Context, server string, cadence protocol.Cadence) error
}

// Config holds the parameters for New.
type Config struct {
	Server    string
	Requester Requester
	Clock     clock.Clock
	Logger    *slog.Logger

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// RequestTimeout bounds each cadence request. Defaults to 5s.
	RequestTimeout time.Duration
}

// Controller tracks one server's active consumers.
type Controller struct {
	server    string
	requester Requester
	clock     clock.Clock
	logger    *slog.Logger
	debounce  time.Duration
	timeout   time.Duration

	mu    sync.Mutex
	votes map[session.Consumer]protocol.Cadence

	// applied is the cadence the bridge was last successfully asked
	// for; empty when unknown. The bridge starts at low.
	applied protocol.Cadence

	timer *clock.Timer

	// generation invalidates a timer that fired after being replaced.
	generation uint64
	closed     bool
}

// New returns a controller with no active consumers and the bridge
// assumed to be at low cadence.
func New(config Config) *Controller {
	c := &Controller{
		server:    config.Server,
		requester: config.Requester,
		clock:     config.Clock,
		logger:    config.Logger,
		debounce:  config.Debounce,
		timeout:   config.RequestTimeout,
		votes:     make(map[session.Consumer]protocol.Cadence),
		applied:   protocol.CadenceLow,
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	return c
}

// Activate records consumer as active with the given cadence vote,
// replacing any earlier vote.
func (c *Controller) Activate(consumer session.Consumer, cadence protocol.Cadence) {
	if cadence != protocol.CadenceHigh {
		cadence = protocol.CadenceLow
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if previous, ok := c.votes[consumer]; ok && previous == cadence {
		return
	}
	c.votes[consumer] = cadence
	c.scheduleLocked()
}

// Deactivate withdraws consumer's vote. Unknown consumers are ignored.
func (c *Controller) Deactivate(consumer session.Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.votes[consumer]; !ok {
		return
	}
	delete(c.votes, consumer)
	c.scheduleLocked()
}

// Desired returns the cadence the current votes call for.
func (c *Controller) Desired() protocol.Cadence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desiredLocked()
}

// Applied returns the cadence last sent successfully, or "" if the
// bridge's cadence is unknown.
func (c *Controller) Applied() protocol.Cadence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied
}

// Active lists consumers with a vote, sorted.
func (c *Controller) Active() []session.Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	consumers := make([]session.Consumer, 0, len(c.votes))
	for consumer := range c.votes {
		consumers = append(consumers, consumer)
	}
	sort.Slice(consumers, func(i, j int) bool { return consumers[i] < consumers[j] })
	return consumers
}

// Forget marks the bridge's cadence unknown, so the next evaluation
// sends the desired cadence even if it matches the last one sent. Call
// it when the session is torn down.
func (c *Controller) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = ""
}

// Resync schedules a request if the desired cadence differs from the
// applied one, e.g. after a send failed because the session was not
// yet open.
func (c *Controller) Resync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleLocked()
}

// Close cancels any pending request.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) desiredLocked() protocol.Cadence {
	for _, cadence := range c.votes {
		if cadence == protocol.CadenceHigh {
			return protocol.CadenceHigh
		}
	}
	return protocol.CadenceLow
}

// scheduleLocked restarts the debounce timer. A change that is undone
// before the timer fires sends nothing.
func (c *Controller) scheduleLocked() {
	if c.closed {
		return
	}
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.desiredLocked() == c.applied {
		return
	}
	generation := c.generation
	c.timer = c.clock.AfterFunc(c.debounce, func() { c.fire(generation) })
}

func (c *Controller) fire(generation uint64) {
	c.mu.Lock()
	if generation != c.generation || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	target := c.desiredLocked()
	if target == c.applied {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	err := c.requester.RequestCadence(ctx, c.server, target)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, session.ErrNotConnected) {
			level = slog.LevelDebug
		}
		c.logger.Log(context.Background(), level, "cadence request failed",
			"server", c.server, "cadence", target, "error", err)
		return
	}
	c.applied = target
	c.logger.Debug("cadence changed", "server", c.server, "cadence", target)
	// Votes that reverted while the request was in flight found
	// desired == applied and armed nothing.
	if c.timer == nil && c.desiredLocked() != c.applied {
		c.scheduleLocked()
	}
}
