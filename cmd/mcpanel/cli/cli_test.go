// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteJSONNilSlice(t *testing.T) {
	var buffer bytes.Buffer
	var names []string
	if err := WriteJSON(&buffer, names); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if got := strings.TrimSpace(buffer.String()); got != "[]" {
		t.Errorf("WriteJSON(nil slice) = %q, want []", got)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("chatty"); err == nil {
		t.Error("NewLogger accepted an unknown level")
	}
}

func TestLoggerFormatFollowsTerminal(t *testing.T) {
	var buffer bytes.Buffer
	newLogger(&buffer, false, slog.LevelInfo).Info("connected", "server", "lobby")
	var record map[string]any
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("piped logger did not write JSON: %v (%q)", err, buffer.String())
	}
	if record["server"] != "lobby" {
		t.Errorf("record = %v", record)
	}

	buffer.Reset()
	newLogger(&buffer, true, slog.LevelInfo).Debug("hidden")
	if buffer.Len() != 0 {
		t.Errorf("debug record written at info level: %q", buffer.String())
	}
}

func TestConsoleWriterPlainStripsEscapes(t *testing.T) {
	var buffer bytes.Buffer
	writer := &ConsoleWriter{w: &buffer, plain: true}
	input := []byte("\x1b[32m[INFO]\x1b[0m Done\r\n")
	n, err := writer.Write(input)
	if err != nil || n != len(input) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if got := buffer.String(); got != "[INFO] Done\n" {
		t.Errorf("plain output = %q", got)
	}
}

func TestEnvironmentLoadsConfigAndBuildsHosts(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "mcpanel.yaml")
	contents := "paths:\n  root: " + directory + "\n  archive: \"\"\n" +
		"servers:\n  lobby:\n    address: mc.example.net:22\n    user: minecraft\n    directory: /srv/lobby\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	environment := &Environment{ConfigPath: path, LogLevel: "error"}
	cfg, err := environment.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if err := environment.RequireServer("lobby"); err != nil {
		t.Errorf("RequireServer(lobby): %v", err)
	}
	if err := environment.RequireServer("creative"); err == nil {
		t.Error("RequireServer accepted an unconfigured server")
	}

	host := SSHHosts(cfg)["lobby"]
	if host.Address != "mc.example.net:22" || host.User != "minecraft" || host.Directory != "/srv/lobby" {
		t.Errorf("host = %+v", host)
	}
	if host.Command == "" || host.Term == "" {
		t.Errorf("host defaults not filled: %+v", host)
	}

	archive, err := environment.OpenArchive()
	if err != nil || archive != nil {
		t.Errorf("OpenArchive with no archive path = %v, %v", archive, err)
	}
}
