// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "strings"

// ShellQuote wraps s in single quotes for a POSIX shell. It always
// quotes, so paths with spaces or metacharacters stay one word.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ExpandCommand replaces "{dir}" in template with the quoted directory.
func ExpandCommand(template, directory string) string {
	return strings.ReplaceAll(template, "{dir}", ShellQuote(directory))
}
