// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package console implements the interactive server console: the
// server's output in a scrolling pane, a command line with completion
// from the command tree, and a status header fed by telemetry.
//
// The model holds no connection of its own. It reads a [bridge.Panel]
// (scrollback, session state, telemetry snapshot, completion index)
// and writes commands through a [Sender]. The caller acquires and
// releases the session around [Run].
//
// Data flow:
//
//	[bridge.Hub] -> [bridge.Panel]
//	        | (Wait channels, Store.Subscribe)
//	    [Model] <- bubbletea event loop
//	        | (Sender.SendCommand)
//	  [server console]
package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mcpanel/mcpanel/bridge"
	"github.com/mcpanel/mcpanel/session"
	"github.com/mcpanel/mcpanel/telemetry"
)

const (
	// DefaultMaxLines bounds the output pane's history.
	DefaultMaxLines = 5000

	// DefaultSendTimeout bounds one command write.
	DefaultSendTimeout = 5 * time.Second

	// chromeHeight is the header, command line, and footer.
	chromeHeight = 3
)

// Sender writes a console command to a server. *bridge.Hub satisfies
// it.
type Sender interface {
	SendCommand(ctx context.Context, server, command string) error
}

// Config holds the parameters for NewModel.
type Config struct {
	Panel  *bridge.Panel
	Sender Sender

	// Keys and Theme default to DefaultKeyMap and DefaultTheme.
	Keys  *KeyMap
	Theme *Theme

	MaxLines    int
	SendTimeout time.Duration
}

type (
	outputMsg   struct{}
	stateMsg    struct{}
	snapshotMsg struct{}
	sentMsg     struct {
		command string
		err     error
	}
)

// Model is the console's bubbletea model.
type Model struct {
	panel       *bridge.Panel
	sender      Sender
	keys        KeyMap
	theme       Theme
	maxLines    int
	sendTimeout time.Duration

	updates     <-chan struct{}
	unsubscribe func()

	viewport viewport.Model
	input    textinput.Model

	output string
	offset uint64

	state    session.StateChange
	snapshot *telemetry.Snapshot

	history      []string
	historyIndex int
	draft        string

	lastError error
	width     int
	height    int
}

// NewModel returns a console for config.Panel. Call Close when the
// program has exited.
func NewModel(config Config) Model {
	keys := DefaultKeyMap
	if config.Keys != nil {
		keys = *config.Keys
	}
	theme := DefaultTheme
	if config.Theme != nil {
		theme = *config.Theme
	}
	maxLines := config.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	sendTimeout := config.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}

	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "command"
	input.ShowSuggestions = true
	input.Focus()

	updates, unsubscribe := config.Panel.Store.Subscribe()
	return Model{
		panel:       config.Panel,
		sender:      config.Sender,
		keys:        keys,
		theme:       theme,
		maxLines:    maxLines,
		sendTimeout: sendTimeout,
		updates:     updates,
		unsubscribe: unsubscribe,
		viewport:    viewport.New(0, 0),
		input:       input,
		state:       config.Panel.State(),
		snapshot:    config.Panel.Store.Snapshot(),
	}
}

// Close drops the telemetry subscription.
func (model Model) Close() {
	model.unsubscribe()
}

// Run shows the console on the terminal until the user quits.
func Run(config Config, options ...tea.ProgramOption) error {
	model := NewModel(config)
	defer model.Close()
	options = append([]tea.ProgramOption{tea.WithAltScreen()}, options...)
	_, err := tea.NewProgram(model, options...).Run()
	return err
}

// Init implements tea.Model. Each watch starts with an immediate
// message so the model reads current content before it first waits.
func (model Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		deliver(outputMsg{}),
		deliver(stateMsg{}),
		listenForSnapshot(model.updates),
	)
}

func deliver(message tea.Msg) tea.Cmd {
	return func() tea.Msg { return message }
}

// waitFor returns a tea.Cmd that delivers message once channel is
// closed or signalled.
func waitFor(channel <-chan struct{}, message tea.Msg) tea.Cmd {
	return func() tea.Msg {
		<-channel
		return message
	}
}

func listenForSnapshot(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return nil
		}
		return snapshotMsg{}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.resize()
		return model, nil

	case outputMsg:
		// Take the waiter before reading so a write between the two
		// still wakes us.
		next := model.panel.Console.Wait()
		model.readOutput()
		return model, waitFor(next, outputMsg{})

	case stateMsg:
		next := model.panel.WaitState()
		model.state = model.panel.State()
		return model, waitFor(next, stateMsg{})

	case snapshotMsg:
		model.snapshot = model.panel.Store.Snapshot()
		return model, listenForSnapshot(model.updates)

	case sentMsg:
		model.lastError = message.err
		return model, nil

	case tea.KeyMsg:
		return model.handleKey(message)
	}

	var command tea.Cmd
	model.input, command = model.input.Update(message)
	return model, command
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit

	case key.Matches(message, model.keys.Submit):
		return model.submit()

	case key.Matches(message, model.keys.HistoryPrevious):
		model.recall(-1)
		return model, nil

	case key.Matches(message, model.keys.HistoryNext):
		model.recall(+1)
		return model, nil

	case key.Matches(message, model.keys.PageUp), key.Matches(message, model.keys.PageDown):
		var command tea.Cmd
		model.viewport, command = model.viewport.Update(message)
		return model, command

	case key.Matches(message, model.keys.Follow):
		model.viewport.GotoBottom()
		return model, nil
	}

	before := model.input.Value()
	var command tea.Cmd
	model.input, command = model.input.Update(message)
	if model.input.Value() != before {
		model.suggest()
	}
	return model, command
}

// submit sends the command line and records it in history. A leading
// slash is accepted and dropped.
func (model Model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(model.input.Value())
	model.input.Reset()
	model.input.SetSuggestions(nil)
	if line == "" {
		return model, nil
	}
	if len(model.history) == 0 || model.history[len(model.history)-1] != line {
		model.history = append(model.history, line)
	}
	model.historyIndex = len(model.history)
	model.draft = ""

	command := strings.TrimPrefix(line, "/")
	sender, server, timeout := model.sender, model.panel.Server, model.sendTimeout
	return model, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return sentMsg{command: command, err: sender.SendCommand(ctx, server, command)}
	}
}

// recall moves through history by delta. Moving past the newest entry
// restores what was being typed.
func (model *Model) recall(delta int) {
	if len(model.history) == 0 {
		return
	}
	if model.historyIndex == len(model.history) {
		model.draft = model.input.Value()
	}
	index := model.historyIndex + delta
	if index < 0 || index > len(model.history) {
		return
	}
	model.historyIndex = index
	if index == len(model.history) {
		model.input.SetValue(model.draft)
	} else {
		model.input.SetValue(model.history[index])
	}
	model.input.CursorEnd()
	model.suggest()
}

// suggest refreshes the command line's suggestions from the local
// completion index. Candidates keep the slash if the user typed one.
func (model *Model) suggest() {
	value := model.input.Value()
	if strings.TrimSpace(value) == "" {
		model.input.SetSuggestions(nil)
		return
	}
	candidates := model.panel.Complete(value)
	if strings.HasPrefix(value, "/") {
		for i, candidate := range candidates {
			candidates[i] = "/" + candidate
		}
	}
	model.input.SetSuggestions(candidates)
}

func (model *Model) readOutput() {
	text, next, lost := model.panel.Console.ReadFrom(model.offset)
	model.offset = next
	if len(text) == 0 && !lost {
		return
	}
	chunk := strings.ReplaceAll(string(text), "\r\n", "\n")
	if lost {
		chunk = "[... earlier output dropped ...]\n" + chunk
	}
	model.output = trimLines(model.output+chunk, model.maxLines)

	following := model.viewport.AtBottom()
	model.viewport.SetContent(model.output)
	if following {
		model.viewport.GotoBottom()
	}
}

// trimLines keeps the last limit lines of text.
func trimLines(text string, limit int) string {
	lines := strings.Count(text, "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		lines++
	}
	for excess := lines - limit; excess > 0; excess-- {
		cut := strings.IndexByte(text, '\n')
		text = text[cut+1:]
	}
	return text
}

func (model *Model) resize() {
	model.viewport.Width = model.width
	model.viewport.Height = max(model.height-chromeHeight, 1)
	model.input.Width = max(model.width-lipgloss.Width(model.input.Prompt)-1, 1)
	model.viewport.SetContent(model.output)
	model.viewport.GotoBottom()
}

// View implements tea.Model.
func (model Model) View() string {
	header := lipgloss.NewStyle().
		Foreground(model.theme.HeaderForeground).
		Background(model.theme.HeaderBackground).
		Width(model.width).
		Render(model.statusLine())

	footer := lipgloss.NewStyle().Foreground(model.theme.FaintText).
		Render("enter send · tab complete · ↑/↓ history · pgup/pgdn scroll · ctrl+c quit")
	if model.lastError != nil {
		footer = lipgloss.NewStyle().Foreground(model.theme.ErrorText).
			Render(model.lastError.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		model.viewport.View(),
		model.input.View(),
		footer,
	)
}

// statusLine renders the server name, session state, and the headline
// figures of the latest status report.
func (model Model) statusLine() string {
	stateStyle := lipgloss.NewStyle().Bold(true).
		Foreground(model.theme.StateColor(model.state.State))
	parts := []string{
		lipgloss.NewStyle().Bold(true).Render(model.panel.Server),
		stateStyle.Render(model.state.State.String()),
	}
	parts = append(parts, statusFigures(model.snapshot)...)
	return " " + strings.Join(parts, "  ")
}

func statusFigures(snapshot *telemetry.Snapshot) []string {
	if snapshot == nil || snapshot.Status == nil {
		return nil
	}
	status := snapshot.Status
	var figures []string
	if status.TPS != nil {
		figures = append(figures, fmt.Sprintf("TPS %.1f", *status.TPS))
	}
	if status.MSPT != nil {
		figures = append(figures, fmt.Sprintf("MSPT %.1f", *status.MSPT))
	}
	if status.PlayerCount != nil {
		if status.MaxPlayers != nil {
			figures = append(figures, fmt.Sprintf("players %d/%d", *status.PlayerCount, *status.MaxPlayers))
		} else {
			figures = append(figures, fmt.Sprintf("players %d", *status.PlayerCount))
		}
	}
	if percent, ok := status.MemoryPercent(); ok {
		figures = append(figures, fmt.Sprintf("mem %.0f%%", percent))
	}
	if status.ProcessCPUPercent != nil {
		figures = append(figures, fmt.Sprintf("cpu %.0f%%", *status.ProcessCPUPercent))
	}
	return figures
}
