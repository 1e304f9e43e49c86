// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CommandPrefix is the console command the bridge plugin registers
// for client requests.
const CommandPrefix = "mcpanel"

// RequestType names a request the bridge understands.
type RequestType string

const (
	RequestComplete RequestType = "COMPLETE"
	RequestCommands RequestType = "COMMANDS"
	RequestPlayers  RequestType = "PLAYERS"
	RequestStatus   RequestType = "STATUS"
	RequestPing     RequestType = "PING"
	RequestCadence  RequestType = "CADENCE"
)

// Cadence is the telemetry reporting rate requested from the bridge.
type Cadence string

const (
	CadenceLow  Cadence = "low"
	CadenceHigh Cadence = "high"
)

// Request is a client-to-bridge message.
type Request struct {
	ID      string         `json:"id"`
	Type    RequestType    `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NewRequest builds a request with a fresh ID.
func NewRequest(requestType RequestType, payload map[string]any) Request {
	return Request{ID: uuid.NewString(), Type: requestType, Payload: payload}
}

// CadenceRequest asks the bridge to report at the given rate.
func CadenceRequest(cadence Cadence) Request {
	return NewRequest(RequestCadence, map[string]any{"mode": string(cadence)})
}

// CommandTreeRequest asks for the full command tree.
func CommandTreeRequest() Request {
	return NewRequest(RequestCommands, nil)
}

// CompleteRequest asks the server to complete a partial command line.
func CompleteRequest(buffer string) Request {
	return NewRequest(RequestComplete, map[string]any{"buffer": buffer})
}

// EncodeCommand renders a request as the console line the bridge
// reads, without the trailing newline.
func EncodeCommand(request Request) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("encoding %s request: %w", request.Type, err)
	}
	return CommandPrefix + " " + base64.StdEncoding.EncodeToString(data), nil
}

// DecodeCommand parses a console line produced by EncodeCommand. The
// second result is false when line is not a bridge request.
func DecodeCommand(line string) (Request, bool, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), CommandPrefix+" ")
	if !ok {
		return Request{}, false, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
	if err != nil {
		return Request{}, true, fmt.Errorf("decoding request: %w", err)
	}
	var request Request
	if err := json.Unmarshal(data, &request); err != nil {
		return Request{}, true, fmt.Errorf("decoding request: %w", err)
	}
	return request, true, nil
}
