// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mcpanel/mcpanel/activity"
	"github.com/mcpanel/mcpanel/completion"
	"github.com/mcpanel/mcpanel/frame"
	"github.com/mcpanel/mcpanel/lib/clock"
	"github.com/mcpanel/mcpanel/lib/config"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/session"
	"github.com/mcpanel/mcpanel/telemetry"
	"github.com/mcpanel/mcpanel/transport"
)

// DefaultPersistInterval is how often Run flushes history to the
// archive.
const DefaultPersistInterval = 30 * time.Second

// Config holds the parameters for New.
type Config struct {
	// Transport opens console channels and runs one-shot commands.
	// Required.
	Transport transport.Transport

	// Servers supplies each server's remote directory for dump
	// fetches. Optional.
	Servers map[string]config.ServerConfig

	// Bridge tunes the pipeline. Zero fields take package defaults.
	Bridge config.BridgeConfig

	// CacheDirectory holds completion caches. Empty disables them.
	CacheDirectory string

	// Archive persists history. Optional.
	Archive *telemetry.Archive

	// PersistInterval defaults to DefaultPersistInterval.
	PersistInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Hub routes every session's frames and state into per-server Panels.
// It owns the session.Manager; consumers go through Acquire and
// Release so that activity votes follow their sessions.
type Hub struct {
	config   Config
	clock    clock.Clock
	logger   *slog.Logger
	sessions *session.Manager

	// ctx bounds background requests issued in reaction to events.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	panels map[string]*Panel
}

// New creates a hub and its session manager.
func New(cfg Config) (*Hub, error) {
	if cfg.Transport == nil {
		return nil, errors.New("bridge: Transport is required")
	}
	hub := &Hub{
		config: cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		panels: make(map[string]*Panel),
	}
	if hub.clock == nil {
		hub.clock = clock.Real()
	}
	if hub.logger == nil {
		hub.logger = slog.New(slog.DiscardHandler)
	}
	if hub.config.PersistInterval <= 0 {
		hub.config.PersistInterval = DefaultPersistInterval
	}
	manager, err := session.NewManager(session.Config{
		Transport:         cfg.Transport,
		Handler:           hub,
		Clock:             hub.clock,
		Logger:            hub.logger,
		MaxFrameBytes:     cfg.Bridge.MaxFrameBytes,
		ReconnectAttempts: cfg.Bridge.ReconnectAttempts,
		ReconnectDelay:    cfg.Bridge.ReconnectDelay,
	})
	if err != nil {
		return nil, err
	}
	hub.sessions = manager
	hub.ctx, hub.cancel = context.WithCancel(context.Background())
	return hub, nil
}

// Sessions returns the underlying manager.
func (h *Hub) Sessions() *session.Manager { return h.sessions }

// Panel returns server's panel, creating it (and restoring archived
// history) on first use.
func (h *Hub) Panel(server string) *Panel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if panel, ok := h.panels[server]; ok {
		return panel
	}
	panel := &Panel{
		Server: server,
		Store: telemetry.NewStore(telemetry.StoreConfig{
			Server:       server,
			Clock:        h.clock,
			Logger:       h.logger,
			Retention:    h.config.Bridge.HistoryRetention,
			GapThreshold: h.config.Bridge.GapThreshold,
			Archive:      h.config.Archive,
		}),
		Completion: completion.NewEngine(completion.Config{
			Server:         server,
			Sender:         h.sessions,
			CacheDirectory: h.config.CacheDirectory,
			Clock:          h.clock,
			Logger:         h.logger,
		}),
		Activity: activity.New(activity.Config{
			Server:    server,
			Requester: h.sessions,
			Clock:     h.clock,
			Logger:    h.logger,
			Debounce:  h.config.Bridge.CadenceDebounce,
		}),
		Console: NewScrollback(h.config.Bridge.ScrollbackBytes),
		state:   session.StateChange{Server: server, State: session.Disconnected},
	}
	if err := panel.Store.Restore(h.ctx); err != nil {
		h.logger.Warn("history not restored", "server", server, "error", err)
	}
	h.panels[server] = panel
	return panel
}

// Servers lists servers with a panel, sorted.
func (h *Hub) Servers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	servers := make([]string, 0, len(h.panels))
	for server := range h.panels {
		servers = append(servers, server)
	}
	sort.Strings(servers)
	return servers
}

// Acquire opens server's session for consumer and records its cadence
// vote. It waits at most the configured connect timeout.
func (h *Hub) Acquire(ctx context.Context, server string, consumer session.Consumer, cadence protocol.Cadence) (*Panel, error) {
	panel := h.Panel(server)
	if timeout := h.config.Bridge.ConnectTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := h.sessions.Acquire(ctx, server, consumer); err != nil {
		return nil, err
	}
	panel.Activity.Activate(consumer, cadence)
	return panel, nil
}

// Release drops one of consumer's holds on the session. Its cadence
// vote is withdrawn with the last hold.
func (h *Hub) Release(server string, consumer session.Consumer) {
	h.sessions.Release(server, consumer)
	if info, ok := h.sessions.Info(server); ok && slices.Contains(info.Consumers, consumer) {
		return
	}
	h.Panel(server).Activity.Deactivate(consumer)
}

// SendCommand writes a console command to server.
func (h *Hub) SendCommand(ctx context.Context, server, command string) error {
	return h.sessions.SendCommand(ctx, server, command)
}

// LoadDump installs server's command dump, read over a one-shot
// command, as its completion tree.
func (h *Hub) LoadDump(ctx context.Context, server string) error {
	serverConfig, ok := h.config.Servers[server]
	if !ok || serverConfig.Directory == "" {
		return fmt.Errorf("no remote directory configured for %s", server)
	}
	return h.Panel(server).Completion.LoadDump(ctx, h.config.Transport, serverConfig.Directory)
}

// HandleFrames routes one batch of frames in arrival order: text to
// the console scrollback, events to the store and completion index.
func (h *Hub) HandleFrames(server string, frames []frame.Frame) {
	panel := h.Panel(server)
	for _, f := range frames {
		if !f.IsEvent() {
			panel.Console.Write(f.Text)
			continue
		}
		event := *f.Event
		// Index the tree before Apply wakes store subscribers.
		if tree, ok := event.Payload.(*protocol.CommandTree); ok {
			panel.Completion.SetTree(tree)
		}
		panel.Store.Apply(event)
		if _, ok := event.Payload.(*protocol.Handshake); ok && !panel.Completion.HasTree() {
			h.fetchTree(panel, "handshake")
		}
		if event.Kind == protocol.KindCommandsUpdated {
			h.fetchTree(panel, "commands updated")
		}
	}
}

// HandleState publishes the change and keeps cadence in step: a fresh
// connection gets any vote that could not be sent before, and a closed
// session forgets what the bridge was last told.
func (h *Hub) HandleState(change session.StateChange) {
	panel := h.Panel(change.Server)
	panel.setState(change)
	switch change.State {
	case session.Connected:
		panel.Activity.Resync()
	case session.Disconnected:
		panel.Activity.Forget()
		var fatal *session.FatalSessionError
		if errors.As(change.Err, &fatal) {
			h.logger.Error("session lost", "server", change.Server, "attempts", fatal.Attempts, "error", fatal.Err)
		}
	}
}

// Run persists history every PersistInterval until ctx is done, then
// persists once more.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.config.PersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.persist(context.Background())
			return
		case <-ticker.C:
			h.persist(ctx)
		}
	}
}

// Close tears down every session and pending cadence request.
func (h *Hub) Close() {
	h.cancel()
	h.sessions.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, panel := range h.panels {
		panel.Activity.Close()
	}
}

func (h *Hub) persist(ctx context.Context) {
	h.mu.Lock()
	panels := make([]*Panel, 0, len(h.panels))
	for _, panel := range h.panels {
		panels = append(panels, panel)
	}
	h.mu.Unlock()
	for _, panel := range panels {
		if err := panel.Store.Persist(ctx); err != nil {
			h.logger.Warn("persisting history failed", "server", panel.Server, "error", err)
		}
	}
}

// fetchTree requests a tree without blocking the session goroutine
// that delivered the triggering event.
func (h *Hub) fetchTree(panel *Panel, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
		defer cancel()
		if err := panel.Completion.FetchTree(ctx); err != nil {
			h.logger.Debug("command tree fetch failed", "server", panel.Server, "reason", reason, "error", err)
		}
	}()
}
