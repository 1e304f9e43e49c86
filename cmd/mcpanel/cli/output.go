// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

// ConsoleWriter copies server console text to a writer, removing
// escape sequences when the destination cannot render them.
type ConsoleWriter struct {
	w     io.Writer
	plain bool
}

// NewConsoleWriter writes to file. Output is plain if forcePlain is
// set or the file is not a color-capable terminal (NO_COLOR included).
func NewConsoleWriter(file *os.File, forcePlain bool) *ConsoleWriter {
	plain := forcePlain || termenv.NewOutput(file).EnvColorProfile() == termenv.Ascii
	return &ConsoleWriter{w: file, plain: plain}
}

// Write copies text, normalizing line endings.
func (c *ConsoleWriter) Write(text []byte) (int, error) {
	output := strings.ReplaceAll(string(text), "\r\n", "\n")
	if c.plain {
		output = ansi.Strip(output)
	}
	if _, err := io.WriteString(c.w, output); err != nil {
		return 0, err
	}
	return len(text), nil
}
