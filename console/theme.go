// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mcpanel/mcpanel/session"
)

// Theme is the console's color palette, in ANSI 256-color codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	HeaderForeground lipgloss.Color
	HeaderBackground lipgloss.Color

	StateConnected    lipgloss.Color
	StateConnecting   lipgloss.Color
	StateDegraded     lipgloss.Color
	StateDisconnected lipgloss.Color

	ErrorText lipgloss.Color
}

// StateColor returns the color for a session state.
func (theme Theme) StateColor(state session.State) lipgloss.Color {
	switch state {
	case session.Connected:
		return theme.StateConnected
	case session.Connecting:
		return theme.StateConnecting
	case session.Degraded:
		return theme.StateDegraded
	default:
		return theme.StateDisconnected
	}
}

// DefaultTheme targets dark 256-color terminals.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	HeaderForeground: lipgloss.Color("255"),
	HeaderBackground: lipgloss.Color("236"),

	StateConnected:    lipgloss.Color("114"), // green
	StateConnecting:   lipgloss.Color("220"), // amber
	StateDegraded:     lipgloss.Color("208"), // orange
	StateDisconnected: lipgloss.Color("196"), // red

	ErrorText: lipgloss.Color("203"),
}
