// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the schema of an event payload.
type Kind string

const (
	KindStatus             Kind = "status"
	KindPlayers            Kind = "players"
	KindSystemInfo         Kind = "systemInfo"
	KindCommandTree        Kind = "commandTree"
	KindCommandCompletions Kind = "commandCompletions"
	KindHandshake          Kind = "handshake"

	// KindCommandsUpdated tells the client the server's command set
	// changed and any cached tree is stale. It has no payload.
	KindCommandsUpdated Kind = "commandsUpdated"
)

// serverStatusType is the reply older bridge builds send to a STATUS
// request. Its payload is shaped differently from a status event.
const serverStatusType = "server_status"

// legacyKinds maps event and response names used by older bridge
// builds onto current kinds.
var legacyKinds = map[string]Kind{
	"status_update":        KindStatus,
	serverStatusType:       KindStatus,
	"players_update":       KindPlayers,
	"player_list":          KindPlayers,
	"system_info":          KindSystemInfo,
	"command_tree":         KindCommandTree,
	"completions":          KindCommandCompletions,
	"mcpanel_bridge_ready": KindHandshake,
	"commands_updated":     KindCommandsUpdated,
}

// ErrUnknownType is returned by Decode for a well-formed envelope whose
// kind this client does not understand.
var ErrUnknownType = errors.New("unknown event type")

// ProtocolError reports a well-formed envelope of a known kind whose
// payload does not match the kind's schema.
type ProtocolError struct {
	Kind Kind
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Kind, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Event is one decoded message from the bridge.
type Event struct {
	Kind Kind

	// ID correlates a response with the request that asked for it.
	// Empty for unsolicited events.
	ID string

	// Payload is a pointer to the kind's payload struct: *Status,
	// *PlayerRoster, *SystemInfo, *CommandTree, *CommandCompletions or
	// *Handshake. Nil for KindCommandsUpdated.
	Payload any
}

type envelope struct {
	Type    string          `json:"type,omitempty"`
	Event   string          `json:"event,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses one JSON envelope. A syntax error is returned as-is
// (the caller treats the frame as plain text); ErrUnknownType and
// *ProtocolError mark frames that should be dropped.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Event{}, &ProtocolError{Kind: Kind(env.Type), Err: err}
		}
		return Event{}, err
	}

	kind, ok := resolveKind(env)
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, firstNonEmpty(env.Type, env.Event))
	}

	body := []byte(env.Payload)
	if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		// The envelope object doubles as the payload when no payload
		// field is present.
		body = data
	}

	event := Event{Kind: kind, ID: env.ID}
	var err error
	switch kind {
	case KindStatus:
		if firstNonEmpty(env.Type, env.Event) != serverStatusType {
			event.Payload, err = decodePayload[Status](body)
			break
		}
		var reply *serverStatus
		reply, err = decodePayload[serverStatus](body)
		if err == nil {
			event.Payload = reply.status()
		}
	case KindPlayers:
		var roster *PlayerRoster
		roster, err = decodePayload[PlayerRoster](body)
		if err == nil {
			err = roster.validate()
		}
		event.Payload = roster
	case KindSystemInfo:
		event.Payload, err = decodePayload[SystemInfo](body)
	case KindCommandTree:
		var tree *CommandTree
		tree, err = decodePayload[CommandTree](body)
		if err == nil {
			err = tree.Validate()
		}
		event.Payload = tree
	case KindCommandCompletions:
		event.Payload, err = decodePayload[CommandCompletions](body)
	case KindHandshake:
		event.Payload, err = decodePayload[Handshake](body)
	case KindCommandsUpdated:
	}
	if err != nil {
		return Event{}, &ProtocolError{Kind: kind, Err: err}
	}
	return event, nil
}

func resolveKind(env envelope) (Kind, bool) {
	if env.Type != "" {
		switch kind := Kind(env.Type); kind {
		case KindStatus, KindPlayers, KindSystemInfo, KindCommandTree,
			KindCommandCompletions, KindHandshake, KindCommandsUpdated:
			return kind, true
		}
		kind, ok := legacyKinds[env.Type]
		return kind, ok
	}
	kind, ok := legacyKinds[env.Event]
	return kind, ok
}

func decodePayload[T any](body []byte) (*T, error) {
	value := new(T)
	if err := json.Unmarshal(body, value); err != nil {
		return nil, err
	}
	return value, nil
}

// Encode renders an event as the JSON envelope Decode accepts. The
// bridge plugin is the usual producer; this exists for tools and tests
// that stand in for it.
func Encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: string(event.Kind), ID: event.ID, Payload: payload})
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
