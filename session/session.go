// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package session shares one PTY channel per game server among any
// number of named consumers.
//
// A [Manager] opens the channel on the first [Manager.Acquire] for a
// server and closes it when the last consumer calls
// [Manager.Release]. While the channel is open a single goroutine
// reads it, runs the bytes through a [frame.Decoder], and hands the
// frames to the [Handler] in stream order. A transport failure moves
// the session to Degraded and starts a bounded reconnect; when the
// retry budget runs out the Handler sees one Disconnected change
// carrying a [*FatalSessionError].
//
// Consumers never write to the channel directly. Console input goes
// through [Manager.SendCommand] and bridge requests through
// [Manager.SendRequest] and [Manager.RequestCadence], which serialize
// writes per session.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcpanel/mcpanel/frame"
	"github.com/mcpanel/mcpanel/protocol"
)

// State is the connection state of a server's session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Consumer identifies a holder of a session, such as "console" or
// "dashboard". It carries no state of its own.
type Consumer string

// StateChange is delivered to the Handler on every transition.
type StateChange struct {
	Server string
	State  State

	// Err is the transport error behind a Degraded change, or the
	// reason a session ended in Disconnected. Nil for an orderly
	// teardown.
	Err error
}

// Handler receives everything a session produces. Calls for one server
// come from a single goroutine, in order; calls for different servers
// may run concurrently. Implementations must not block for long, since
// the channel is not read while a call is in progress, and must not
// wait on Acquire for the server they are being called about.
type Handler interface {
	HandleFrames(server string, frames []frame.Frame)
	HandleState(change StateChange)
}

// FatalSessionError ends a session whose reconnect budget ran out.
type FatalSessionError struct {
	Server   string
	Attempts int
	Err      error
}

func (e *FatalSessionError) Error() string {
	return fmt.Sprintf("session %s: giving up after %d reconnect attempts: %v", e.Server, e.Attempts, e.Err)
}

func (e *FatalSessionError) Unwrap() error { return e.Err }

var (
	// ErrNotConnected is returned for writes to a session that has no
	// live channel.
	ErrNotConnected = errors.New("session not connected")

	// ErrClosed is returned once the Manager has been closed.
	ErrClosed = errors.New("session manager closed")
)

// Info is a point-in-time view of one session.
type Info struct {
	Server     string
	State      State
	References int
	Consumers  []Consumer

	// Cadence is the last cadence requested for this session.
	Cadence protocol.Cadence

	// LastSeen is when bytes last arrived from the server.
	LastSeen time.Time

	// Detected reports whether the server has ever sent a valid
	// bridge event on this session.
	Detected bool

	// Handshake is the bridge's most recent announcement, if any.
	Handshake *protocol.Handshake
}

type discardHandler struct{}

func (discardHandler) HandleFrames(string, []frame.Frame) {}
func (discardHandler) HandleState(StateChange)            {}
