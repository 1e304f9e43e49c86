// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the messages exchanged with the bridge
// plugin running inside a game server.
//
// Messages from the server arrive embedded in the console byte stream
// (see package frame). Each carries a JSON envelope:
//
//	{"type": "status", "payload": {"tps": 19.8, "playerCount": 3}}
//
// The payload schema is selected by the type discriminator. Older
// bridge builds send {"event": "status_update", ...} or response type
// names such as "command_tree"; [Decode] maps those onto the same
// kinds. Unknown kinds decode to [ErrUnknownType] and callers drop
// them silently, so the bridge can add message kinds without breaking
// older clients.
//
// Messages to the server travel as an ordinary console command,
// "mcpanel <base64 JSON request>", built by [EncodeCommand].
package protocol
