// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the structured logger for a command. When stderr
// is a terminal it uses slog.TextHandler; when piped or redirected it
// uses slog.JSONHandler so the output can be ingested. level is a
// slog level name ("debug", "info", "warn", "error").
func NewLogger(level string) (*slog.Logger, error) {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return newLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), parsed), nil
}

func newLogger(w io.Writer, terminal bool, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}
