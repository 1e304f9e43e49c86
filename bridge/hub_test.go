// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcpanel/mcpanel/frame"
	"github.com/mcpanel/mcpanel/lib/clock"
	"github.com/mcpanel/mcpanel/lib/config"
	"github.com/mcpanel/mcpanel/lib/testutil"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/session"
	"github.com/mcpanel/mcpanel/telemetry"
	"github.com/mcpanel/mcpanel/transport"
)

const (
	server   = "survival"
	timeout  = 5 * time.Second
	debounce = 100 * time.Millisecond
)

type harness struct {
	hub    *Hub
	memory *transport.Memory
	clock  *clock.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		memory: transport.NewMemory(),
		clock:  clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	hub, err := New(Config{
		Transport: h.memory,
		Servers:   map[string]config.ServerConfig{server: {Directory: "/srv/survival"}},
		Bridge:    config.BridgeConfig{CadenceDebounce: debounce, ScrollbackBytes: 4096},
		Clock:     h.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.hub = hub
	t.Cleanup(hub.Close)
	return h
}

// open acquires server for consumer and plays the remote's first
// output so the acquisition completes.
func (h *harness) open(t *testing.T, consumer session.Consumer, cadence protocol.Cadence) (*Panel, *transport.MemoryRemote) {
	t.Helper()
	type result struct {
		panel *Panel
		err   error
	}
	results := make(chan result, 1)
	go func() {
		panel, err := h.hub.Acquire(context.Background(), server, consumer, cadence)
		results <- result{panel, err}
	}()
	remote := testutil.RequireReceive(t, h.memory.Remotes(), timeout, "channel opened")
	go remote.WriteString("[12:00:00 INFO]: Starting\n")
	got := testutil.RequireReceive(t, results, timeout, "acquire returns")
	if got.err != nil {
		t.Fatal(got.err)
	}
	return got.panel, remote
}

func bridgeFrame(t *testing.T, json string) string {
	t.Helper()
	return frame.StartMarker + base64.StdEncoding.EncodeToString([]byte(json)) + frame.EndMarker + "\n"
}

// requireRequest reads console lines until a bridge request arrives.
func requireRequest(t *testing.T, remote *transport.MemoryRemote) protocol.Request {
	t.Helper()
	for {
		line := testutil.RequireReceive(t, remote.Lines(), timeout, "bridge request")
		request, ok, err := protocol.DecodeCommand(line)
		if err != nil {
			t.Fatalf("decoding %q: %v", line, err)
		}
		if ok {
			return request
		}
	}
}

func TestHubRoutesTextAndEvents(t *testing.T) {
	h := newHarness(t)
	panel, remote := h.open(t, "console", protocol.CadenceLow)

	go remote.WriteString("Done (3.2s)!\n" +
		bridgeFrame(t, `{"type":"status","payload":{"tps":19.8,"playerCount":2}}`) +
		bridgeFrame(t, `{"type":"commandTree","payload":{"commands":{"gamemode":{},"give":{}}}}`))

	want := "[12:00:00 INFO]: Starting\nDone (3.2s)!\n\n\n"
	testutil.Eventually(t, timeout, func() bool {
		text, _, _ := panel.Console.ReadFrom(0)
		return string(text) == want
	}, "console never showed %q", want)

	if !panel.Completion.HasTree() {
		t.Fatal("command tree not installed")
	}
	snapshot := panel.Store.Snapshot()
	if snapshot.Status == nil || *snapshot.Status.TPS != 19.8 {
		t.Fatalf("status = %+v", snapshot.Status)
	}
	if samples := panel.Store.Query(telemetry.MetricPlayerCount, time.Minute, 0); len(samples) != 1 {
		t.Errorf("player count history = %+v", samples)
	}
	if got := panel.Complete("g"); len(got) != 2 {
		t.Errorf("Complete(g) = %v", got)
	}
	testutil.Eventually(t, timeout, func() bool {
		return panel.State().State == session.Connected
	}, "panel never saw the connection")
}

func TestHubFetchesTreeAfterHandshake(t *testing.T) {
	h := newHarness(t)
	_, remote := h.open(t, "console", protocol.CadenceLow)

	go remote.WriteString(bridgeFrame(t, `{"type":"handshake","version":2,"features":["commandTree"]}`))
	if request := requireRequest(t, remote); request.Type != protocol.RequestCommands {
		t.Fatalf("request = %+v, want COMMANDS", request)
	}

	go remote.WriteString(bridgeFrame(t, `{"type":"commandsUpdated"}`))
	if request := requireRequest(t, remote); request.Type != protocol.RequestCommands {
		t.Fatalf("request after commandsUpdated = %+v", request)
	}
}

func TestHubCadenceFollowsConsumers(t *testing.T) {
	h := newHarness(t)
	panel, remote := h.open(t, "console", protocol.CadenceLow)

	if _, err := h.hub.Acquire(context.Background(), server, "dashboard", protocol.CadenceHigh); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(debounce)
	request := requireRequest(t, remote)
	if request.Type != protocol.RequestCadence || request.Payload["mode"] != "high" {
		t.Fatalf("request = %+v, want CADENCE high", request)
	}
	testutil.Eventually(t, timeout, func() bool {
		return panel.Activity.Applied() == protocol.CadenceHigh
	}, "cadence not applied")

	h.hub.Release(server, "dashboard")
	h.clock.Advance(debounce)
	request = requireRequest(t, remote)
	if request.Type != protocol.RequestCadence || request.Payload["mode"] != "low" {
		t.Fatalf("request = %+v, want CADENCE low", request)
	}

	h.hub.Release(server, "console")
	testutil.RequireClosed(t, remote.Closed(), timeout, "channel closed after last release")
	testutil.Eventually(t, timeout, func() bool {
		return panel.State().State == session.Disconnected
	}, "panel never saw the disconnect")
}

func TestHubKeepsVoteWhileConsumerHoldsSession(t *testing.T) {
	h := newHarness(t)
	panel, _ := h.open(t, "console", protocol.CadenceLow)

	for range 2 {
		if _, err := h.hub.Acquire(context.Background(), server, "dashboard", protocol.CadenceHigh); err != nil {
			t.Fatal(err)
		}
	}
	h.hub.Release(server, "dashboard")
	if desired := panel.Activity.Desired(); desired != protocol.CadenceHigh {
		t.Fatalf("desired after one of two releases = %s, want high", desired)
	}

	h.hub.Release(server, "dashboard")
	if desired := panel.Activity.Desired(); desired != protocol.CadenceLow {
		t.Fatalf("desired after last release = %s, want low", desired)
	}
}

func TestHubLoadDump(t *testing.T) {
	h := newHarness(t)
	h.memory.SetOutput(server, "cat '/srv/survival/plugins/MCPanelBridge/commands.json'",
		[]byte(`{"commands": {"weather": {}}}`))
	if err := h.hub.LoadDump(context.Background(), server); err != nil {
		t.Fatal(err)
	}
	if got := h.hub.Panel(server).Complete("wea"); len(got) != 1 || got[0] != "weather" {
		t.Errorf("Complete(wea) = %v", got)
	}
	if err := h.hub.LoadDump(context.Background(), "creative"); err == nil {
		t.Error("LoadDump for an unconfigured server succeeded")
	}
}

func TestHubPersistsOnShutdown(t *testing.T) {
	archive, err := telemetry.OpenArchive(telemetry.ArchiveConfig{Path: filepath.Join(t.TempDir(), "history.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()

	memory := transport.NewMemory()
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	hub, err := New(Config{Transport: memory, Archive: archive, Clock: fake})
	if err != nil {
		t.Fatal(err)
	}
	defer hub.Close()

	tps := 20.0
	hub.HandleFrames(server, []frame.Frame{{Event: &protocol.Event{
		Kind:    protocol.KindStatus,
		Payload: &protocol.Status{TPS: &tps},
	}}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	testutil.RequireClosed(t, done, timeout, "Run did not return")

	loaded, err := archive.Load(context.Background(), server, fake.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded[telemetry.MetricTPS]) != 1 {
		t.Errorf("archived = %+v", loaded)
	}
}
