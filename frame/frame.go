// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame separates bridge protocol messages from ordinary
// console output in a PTY byte stream.
//
// The bridge plugin writes each message as an OSC 1337 escape
// sequence:
//
//	ESC ] 1337 ; MCPanel : <base64 JSON> BEL
//
// Terminals ignore unknown OSC sequences, so a plain SSH client sees a
// normal console. [Decoder] turns the stream into an ordered sequence
// of [Frame] values: Text for everything outside valid frames, Event
// for each decoded message. Concatenating the Text frames reproduces
// the input with the valid frames removed.
package frame

import (
	"encoding/base64"

	"github.com/mcpanel/mcpanel/protocol"
)

// StartMarker opens an embedded message.
const StartMarker = "\x1b]1337;MCPanel:"

// EndMarker closes an embedded message.
const EndMarker = "\x07"

// DefaultMaxFrameBytes caps the bytes buffered for one unterminated
// frame. Full command trees from heavily modded servers run to a few
// megabytes once base64 encoded.
const DefaultMaxFrameBytes = 4 << 20

// Frame is one unit of demultiplexed output. Exactly one of Text and
// Event is set.
type Frame struct {
	Text  []byte
	Event *protocol.Event
}

// IsEvent reports whether f carries a protocol event.
func (f Frame) IsEvent() bool { return f.Event != nil }

// Encode wraps a JSON message in frame markers the way the bridge
// plugin does, including the newline the plugin appends.
func Encode(message []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(message)
	out := make([]byte, 0, len(StartMarker)+len(encoded)+len(EndMarker)+1)
	out = append(out, StartMarker...)
	out = append(out, encoded...)
	out = append(out, EndMarker...)
	return append(out, '\n')
}

// EncodeEvent encodes event and wraps it in frame markers.
func EncodeEvent(event protocol.Event) ([]byte, error) {
	message, err := protocol.Encode(event)
	if err != nil {
		return nil, err
	}
	return Encode(message), nil
}
