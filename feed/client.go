// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mcpanel/mcpanel/bridge"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/session"
)

const (
	writeTimeout = 10 * time.Second
	sendBuffer   = 64
)

// client is one websocket connection. Only writePump writes to conn.
type client struct {
	conn     *websocket.Conn
	send     chan []byte
	consumer session.Consumer
	panel    *bridge.Panel
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request, panel *bridge.Panel) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &client{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		consumer: session.Consumer("feed-" + uuid.NewString()),
		panel:    panel,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx)
	}()
	defer func() {
		cancel()
		<-writerDone
		conn.Close()
	}()

	if _, err := s.hub.Acquire(r.Context(), panel.Server, c.consumer, protocol.CadenceHigh); err != nil {
		c.queue(ctx, Message{Type: MsgError, Payload: ErrorPayload{Message: err.Error()}})
		c.queue(ctx, Message{Type: MsgState, Payload: StatePayload{State: session.Disconnected.String(), Error: err.Error()}})
		// Closing send makes writePump flush both messages and say
		// goodbye before the deferred teardown.
		close(c.send)
		<-writerDone
		return
	}
	defer s.hub.Release(panel.Server, c.consumer)
	s.logger.Debug("websocket client connected", "server", panel.Server, "consumer", c.consumer)

	go s.stream(ctx, c)
	s.readLoop(ctx, c)
	s.logger.Debug("websocket client disconnected", "server", panel.Server, "consumer", c.consumer)
}

// readLoop handles client requests until the connection closes.
func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var request ClientMessage
		if err := json.Unmarshal(data, &request); err != nil {
			c.queue(ctx, Message{Type: MsgError, Payload: ErrorPayload{Message: "malformed message"}})
			continue
		}
		switch request.Type {
		case MsgCommand:
			if err := s.hub.SendCommand(ctx, c.panel.Server, request.Command); err != nil {
				c.queue(ctx, Message{Type: MsgError, Payload: ErrorPayload{Message: err.Error()}})
			}
		case MsgActive:
			cadence := protocol.CadenceLow
			if request.Active {
				cadence = protocol.CadenceHigh
			}
			c.panel.Activity.Activate(c.consumer, cadence)
		case MsgComplete:
			candidates := c.panel.Complete(request.Prefix)
			if candidates == nil {
				candidates = []string{}
			}
			c.queue(ctx, Message{Type: MsgCompletions, Payload: CompletionsPayload{
				Prefix:     request.Prefix,
				Candidates: candidates,
			}})
		default:
			c.queue(ctx, Message{Type: MsgError, Payload: ErrorPayload{Message: "unknown message type " + string(request.Type)}})
		}
	}
}

// stream pushes state, console text and snapshots as they change, at
// most once per throttle interval. Console text is read by offset, so
// nothing is skipped however long the throttle holds it back.
func (s *Server) stream(ctx context.Context, c *client) {
	var (
		offset      uint64
		lastVersion uint64
		lastState   = session.StateChange{State: -1}
		sentAny     bool
		consoleWait <-chan struct{}
		stateWait   <-chan struct{}
	)
	updates, unsubscribe := c.panel.Store.Subscribe()
	defer unsubscribe()

	for {
		if consoleWait == nil {
			consoleWait = c.panel.Console.Wait()
		}
		if stateWait == nil {
			stateWait = c.panel.WaitState()
		}

		if state := c.panel.State(); state.State != lastState.State || state.Err != lastState.Err {
			lastState = state
			payload := StatePayload{State: state.State.String()}
			if state.Err != nil {
				payload.Error = state.Err.Error()
			}
			if !c.queue(ctx, Message{Type: MsgState, Payload: payload}) {
				return
			}
		}
		if text, next, lost := c.panel.Console.ReadFrom(offset); len(text) > 0 {
			start := next - uint64(len(text))
			// JSON text cannot carry half a character. The rest of it
			// goes out with the next chunk.
			if text = wholeRunes(text); len(text) > 0 {
				end := start + uint64(len(text))
				if !c.queue(ctx, Message{Type: MsgConsole, Payload: ConsolePayload{
					Text: string(text), Offset: start, Next: end, Lost: lost && sentAny,
				}}) {
					return
				}
				offset = end
			}
		}
		if snapshot := c.panel.Store.Snapshot(); snapshot.Version != lastVersion || !sentAny {
			lastVersion = snapshot.Version
			if !c.queue(ctx, Message{Type: MsgSnapshot, Payload: snapshot}) {
				return
			}
		}
		sentAny = true

		select {
		case <-ctx.Done():
			return
		case <-consoleWait:
			consoleWait = nil
		case <-stateWait:
			stateWait = nil
		case <-updates:
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.throttle):
		}
	}
}

// wholeRunes drops an unfinished UTF-8 sequence from the end of text.
func wholeRunes(text []byte) []byte {
	for back := 1; back <= utf8.UTFMax && back <= len(text); back++ {
		tail := text[len(text)-back:]
		if !utf8.RuneStart(tail[0]) {
			continue
		}
		if utf8.FullRune(tail) {
			return text
		}
		return text[:len(text)-back]
	}
	return text
}

// queue hands a message to writePump. It returns false once the
// connection is going away.
func (c *client) queue(ctx context.Context, message Message) bool {
	data, err := json.Marshal(message)
	if err != nil {
		return true
	}
	select {
	case c.send <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *client) writePump(ctx context.Context) {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
