// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status is a point-in-time performance snapshot. Every field is
// optional: a field absent from the message is nil, and a newer
// Status replaces an older one wholesale rather than merging into it.
type Status struct {
	TPS           *float64 `json:"tps,omitempty"`
	MSPT          *float64 `json:"mspt,omitempty"`
	PlayerCount   *int     `json:"playerCount,omitempty"`
	MaxPlayers    *int     `json:"maxPlayers,omitempty"`
	UsedMemoryMB  *int64   `json:"usedMemoryMB,omitempty"`
	MaxMemoryMB   *int64   `json:"maxMemoryMB,omitempty"`
	UptimeSeconds *int64   `json:"uptimeSeconds,omitempty"`

	// ProcessCPUPercent and SystemCPUPercent are 0-100.
	ProcessCPUPercent *float64 `json:"cpuPercent,omitempty"`
	SystemCPUPercent  *float64 `json:"systemCpuPercent,omitempty"`

	// CoreCPUPercent holds per-core load, index = core number.
	CoreCPUPercent []float64 `json:"coreCpuPercent,omitempty"`

	ThreadCount *int        `json:"threadCount,omitempty"`
	Disks       []DiskUsage `json:"disks,omitempty"`
	Network     *Network    `json:"network,omitempty"`
}

// MemoryPercent derives heap usage from the memory fields, if both are
// present and the maximum is positive.
func (s *Status) MemoryPercent() (float64, bool) {
	if s.UsedMemoryMB == nil || s.MaxMemoryMB == nil || *s.MaxMemoryMB <= 0 {
		return 0, false
	}
	return float64(*s.UsedMemoryMB) / float64(*s.MaxMemoryMB) * 100, true
}

// serverStatus is the server_status reply: TPS as the 1, 5 and 15
// minute averages, memory in MB, and the online player count.
type serverStatus struct {
	OnlinePlayers *int      `json:"onlinePlayers"`
	MaxPlayers    *int      `json:"maxPlayers"`
	TPS           []float64 `json:"tps"`
	MSPT          *float64  `json:"mspt"`
	Memory        *struct {
		Used int64 `json:"used"`
		Max  int64 `json:"max"`
	} `json:"memory"`
}

func (p *serverStatus) status() *Status {
	status := &Status{
		PlayerCount: p.OnlinePlayers,
		MaxPlayers:  p.MaxPlayers,
		MSPT:        p.MSPT,
	}
	if len(p.TPS) > 0 {
		tps := p.TPS[0]
		status.TPS = &tps
	}
	if p.Memory != nil {
		used, limit := p.Memory.Used, p.Memory.Max
		status.UsedMemoryMB = &used
		status.MaxMemoryMB = &limit
	}
	return status
}

// DiskUsage reports one mounted filesystem.
type DiskUsage struct {
	Path       string `json:"path"`
	UsedBytes  int64  `json:"usedBytes"`
	TotalBytes int64  `json:"totalBytes"`
}

// Percent is UsedBytes as a share of TotalBytes.
func (d DiskUsage) Percent() float64 {
	if d.TotalBytes <= 0 {
		return 0
	}
	return float64(d.UsedBytes) / float64(d.TotalBytes) * 100
}

// Network carries interface byte counters and rates in bytes per
// second, summed over all interfaces.
type Network struct {
	RxBytesPerSecond float64 `json:"rxRate"`
	TxBytesPerSecond float64 `json:"txRate"`
	RxTotalBytes     int64   `json:"rxTotal,omitempty"`
	TxTotalBytes     int64   `json:"txTotal,omitempty"`
}

// PlayerRoster is the full list of connected players. Each message
// replaces the previous roster.
type PlayerRoster struct {
	Count   int      `json:"count"`
	Max     int      `json:"max"`
	Players []Player `json:"players"`
}

// Player is one connected player.
type Player struct {
	Name     string `json:"name"`
	UUID     string `json:"uuid"`
	World    string `json:"world,omitempty"`
	Ping     int    `json:"ping"`
	GameMode string `json:"gameMode,omitempty"`
}

func (r *PlayerRoster) validate() error {
	for i, player := range r.Players {
		if player.Name == "" && player.UUID == "" {
			return fmt.Errorf("player %d has neither name nor uuid", i)
		}
	}
	if r.Count == 0 && len(r.Players) > 0 {
		r.Count = len(r.Players)
	}
	return nil
}

// SystemInfo describes the host and runtime. It changes rarely and is
// sent once after the handshake.
type SystemInfo struct {
	ServerVersion string `json:"serverVersion,omitempty"`
	Software      string `json:"software,omitempty"`
	GameVersion   string `json:"gameVersion,omitempty"`
	JavaVersion   string `json:"javaVersion,omitempty"`
	OSName        string `json:"osName,omitempty"`
	OSArch        string `json:"osArch,omitempty"`
	CPUModel      string `json:"cpuModel,omitempty"`
	CPUCores      int    `json:"cpuCores,omitempty"`
	TotalMemoryMB int64  `json:"totalMemoryMB,omitempty"`
}

// CommandTree is the server's registered command graph, keyed by root
// command name.
type CommandTree struct {
	Commands map[string]CommandNode `json:"commands"`
}

// CommandNode is one literal or argument in the command graph.
type CommandNode struct {
	Description string                 `json:"description,omitempty"`
	Aliases     []string               `json:"aliases,omitempty"`
	Permission  string                 `json:"permission,omitempty"`
	Usage       string                 `json:"usage,omitempty"`
	Type        string                 `json:"type,omitempty"`
	Required    bool                   `json:"required,omitempty"`
	Examples    []string               `json:"examples,omitempty"`
	Children    map[string]CommandNode `json:"children,omitempty"`
}

// IsArgument reports whether the node stands for a typed argument
// rather than a literal keyword.
func (n CommandNode) IsArgument() bool {
	return n.Type != "" && n.Type != "literal"
}

// Validate checks the structural rules every tree must satisfy,
// whether it arrived as an event or was read from a dump file.
func (t *CommandTree) Validate() error {
	if t.Commands == nil {
		return errors.New("missing commands")
	}
	for name := range t.Commands {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t\n") {
			return fmt.Errorf("invalid root command name %q", name)
		}
	}
	return nil
}

// CommandCompletions answers a COMPLETE request for a partial buffer.
type CommandCompletions struct {
	Completions []Completion `json:"completions"`
	IsAsync     bool         `json:"isAsync,omitempty"`
}

// Completion is one suggestion with an optional tooltip.
type Completion struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip,omitempty"`
}

// Handshake announces the bridge and the protocol version it speaks.
type Handshake struct {
	Version       ProtocolVersion `json:"version"`
	BridgeVersion string          `json:"bridgeVersion,omitempty"`
	Platform      string          `json:"platform,omitempty"`
	Features      []string        `json:"features,omitempty"`
}

// HasFeature reports whether the bridge advertised feature.
func (h *Handshake) HasFeature(feature string) bool {
	for _, candidate := range h.Features {
		if candidate == feature {
			return true
		}
	}
	return false
}

// ProtocolVersion is the major protocol version. Older bridges send
// their plugin version string ("1.0.1") in its place; the major
// component of such a string is used.
type ProtocolVersion int

func (v *ProtocolVersion) UnmarshalJSON(data []byte) error {
	var number int
	if err := json.Unmarshal(data, &number); err == nil {
		*v = ProtocolVersion(number)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("version must be a number or string: %s", data)
	}
	major, _, _ := strings.Cut(text, ".")
	number, err := strconv.Atoi(major)
	if err != nil {
		return fmt.Errorf("version %q has no numeric major component", text)
	}
	*v = ProtocolVersion(number)
	return nil
}
