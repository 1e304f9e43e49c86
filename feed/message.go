// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"time"

	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/telemetry"
)

// MessageType tags a websocket message.
type MessageType string

const (
	// Server to client.
	MsgSnapshot    MessageType = "snapshot"
	MsgConsole     MessageType = "console"
	MsgState       MessageType = "state"
	MsgCompletions MessageType = "completions"
	MsgError       MessageType = "error"

	// Client to server.
	MsgCommand  MessageType = "command"
	MsgActive   MessageType = "active"
	MsgComplete MessageType = "complete"
)

// Message is the websocket envelope in both directions.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// ConsolePayload carries console text after Offset. Lost reports that
// history between the client's last offset and this text was
// overwritten before it could be sent.
type ConsolePayload struct {
	Text   string `json:"text"`
	Offset uint64 `json:"offset"`
	Next   uint64 `json:"next"`
	Lost   bool   `json:"lost,omitempty"`
}

// StatePayload reports a session state change.
type StatePayload struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// CompletionsPayload answers a complete request.
type CompletionsPayload struct {
	Prefix     string   `json:"prefix"`
	Candidates []string `json:"candidates"`
}

// ErrorPayload reports a failed client request.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ClientMessage is what clients send.
type ClientMessage struct {
	Type MessageType `json:"type"`

	// Command is the console line for MsgCommand.
	Command string `json:"command,omitempty"`

	// Active toggles the client's high-cadence vote for MsgActive.
	Active bool `json:"active,omitempty"`

	// Prefix is the partial command line for MsgComplete.
	Prefix string `json:"prefix,omitempty"`
}

// ServerSummary is one entry of GET /api/servers.
type ServerSummary struct {
	Name       string           `json:"name"`
	State      string           `json:"state"`
	Detected   bool             `json:"detected"`
	References int              `json:"references"`
	Consumers  []string         `json:"consumers,omitempty"`
	Cadence    protocol.Cadence `json:"cadence,omitempty"`
	LastSeen   time.Time        `json:"lastSeen,omitzero"`
}

// HistoryResponse is the body of GET /api/servers/{server}/history.
type HistoryResponse struct {
	Server string `json:"server"`
	telemetry.History
}
