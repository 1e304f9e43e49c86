// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcpanel/mcpanel/bridge"
	"github.com/mcpanel/mcpanel/completion"
	"github.com/mcpanel/mcpanel/lib/testutil"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/telemetry"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	directory := t.TempDir()
	path := filepath.Join(directory, "mcpanel.yaml")
	contents := "paths:\n  root: " + directory + "\n  archive: " + filepath.Join(directory, "history.db") + "\n" +
		"servers:\n" +
		"  survival:\n    address: survival.example.net:22\n    user: mc\n" +
		"  lobby:\n    address: lobby.example.net:22\n    user: mc\n    directory: /srv/lobby\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := Root()
	var output bytes.Buffer
	root.SetOut(&output)
	root.SetErr(&output)
	root.SetArgs(args)
	err := root.Execute()
	return output.String(), err
}

func newPanel() *bridge.Panel {
	return &bridge.Panel{
		Server:     "lobby",
		Store:      telemetry.NewStore(telemetry.StoreConfig{Server: "lobby"}),
		Completion: completion.NewEngine(completion.Config{Server: "lobby"}),
		Console:    bridge.NewScrollback(1024),
	}
}

func TestServersListsConfiguredServers(t *testing.T) {
	path := writeConfig(t)
	output, err := execute(t, "--config", path, "servers", "--json")
	if err != nil {
		t.Fatalf("servers: %v", err)
	}
	var entries []serverEntry
	if err := json.Unmarshal([]byte(output), &entries); err != nil {
		t.Fatalf("servers --json output: %v\n%s", err, output)
	}
	if len(entries) != 2 || entries[0].Name != "lobby" || entries[1].Name != "survival" {
		t.Errorf("entries = %+v", entries)
	}
	if entries[0].Directory != "/srv/lobby" {
		t.Errorf("lobby directory = %q", entries[0].Directory)
	}
}

func TestUnknownServerRejectedBeforeConnecting(t *testing.T) {
	path := writeConfig(t)
	for _, args := range [][]string{
		{"tail", "creative"},
		{"send", "creative", "list"},
		{"status", "creative"},
		{"history", "creative"},
	} {
		_, err := execute(t, append([]string{"--config", path}, args...)...)
		if err == nil || !strings.Contains(err.Error(), `unknown server "creative"`) {
			t.Errorf("%v: error = %v, want unknown server", args, err)
		}
	}
}

func TestHistoryReadsArchive(t *testing.T) {
	path := writeConfig(t)
	archivePath := filepath.Join(filepath.Dir(path), "history.db")
	archive, err := telemetry.OpenArchive(telemetry.ArchiveConfig{Path: archivePath})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	now := time.Now()
	err = archive.Record(context.Background(), "survival", []telemetry.ArchivedSample{
		{Metric: telemetry.MetricTPS, Sample: telemetry.Sample{Time: now.Add(-2 * time.Minute), Value: 19.0}},
		{Metric: telemetry.MetricTPS, Sample: telemetry.Sample{Time: now.Add(-time.Minute), Value: 20.0}},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := archive.Close(); err != nil {
		t.Fatal(err)
	}

	output, err := execute(t, "--config", path, "history", "survival", "--metric", "tps", "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var history telemetry.History
	if err := json.Unmarshal([]byte(output), &history); err != nil {
		t.Fatalf("history --json output: %v\n%s", err, output)
	}
	samples := history.Samples[telemetry.MetricTPS]
	if len(samples) < 2 || samples[0].Value != 19.0 || samples[1].Value != 20.0 {
		t.Errorf("tps samples = %+v", samples)
	}

	if _, err := execute(t, "--config", path, "history", "survival", "--metric", "bogus"); err == nil {
		t.Error("history accepted an unknown metric")
	}
}

func TestFollowCopiesOutputUntilCancelled(t *testing.T) {
	panel := newPanel()
	panel.Console.Write([]byte("before\n"))

	ctx, cancel := context.WithCancel(context.Background())
	var (
		output syncBuffer
		done   = make(chan error, 1)
	)
	go func() { done <- follow(ctx, panel, &output) }()

	testutil.Eventually(t, time.Second, func() bool {
		return output.String() == "before\n"
	}, "initial scrollback not copied")
	panel.Console.Write([]byte("after\n"))
	testutil.Eventually(t, time.Second, func() bool {
		return output.String() == "before\nafter\n"
	}, "new output not copied")

	cancel()
	if err := testutil.RequireReceive(t, done, time.Second, "follow did not return"); err != nil {
		t.Errorf("follow = %v, want nil on cancel", err)
	}
}

func TestAwaitSnapshotReturnsOnUpdate(t *testing.T) {
	panel := newPanel()
	result := make(chan *telemetry.Snapshot, 1)
	go func() {
		result <- awaitSnapshot(context.Background(), panel, 5*time.Second, func(snapshot *telemetry.Snapshot) bool {
			return snapshot.Status != nil
		})
	}()

	tps := 20.0
	testutil.Eventually(t, time.Second, func() bool {
		panel.Store.Apply(protocol.Event{Kind: protocol.KindStatus, Payload: &protocol.Status{TPS: &tps}})
		return len(result) == 1
	}, "awaitSnapshot did not see the status")
	snapshot := <-result
	if snapshot.Status == nil || *snapshot.Status.TPS != 20.0 {
		t.Errorf("snapshot status = %+v", snapshot.Status)
	}
}

func TestAwaitSnapshotTimesOut(t *testing.T) {
	panel := newPanel()
	snapshot := awaitSnapshot(context.Background(), panel, 10*time.Millisecond, func(*telemetry.Snapshot) bool { return false })
	if snapshot == nil || snapshot.Version != 0 {
		t.Errorf("snapshot = %+v, want the empty initial snapshot", snapshot)
	}
}

func TestPrintStatus(t *testing.T) {
	panel := newPanel()
	tps, players, maxPlayers := 19.87, 2, 20
	used, total := int64(1024), int64(4096)
	panel.Store.Apply(protocol.Event{Kind: protocol.KindStatus, Payload: &protocol.Status{
		TPS: &tps, PlayerCount: &players, MaxPlayers: &maxPlayers,
		UsedMemoryMB: &used, MaxMemoryMB: &total,
	}})
	panel.Store.Apply(protocol.Event{Kind: protocol.KindPlayers, Payload: &protocol.PlayerRoster{
		Count: 2, Max: 20,
		Players: []protocol.Player{{Name: "Steve"}, {Name: "Alex"}},
	}})

	var output bytes.Buffer
	if err := printStatus(&output, panel, panel.Store.Snapshot()); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"19.87", "2/20", "Steve, Alex", "1024/4096 MB (25%)", "disconnected"} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("status output missing %q:\n%s", want, output.String())
		}
	}
}
