// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/mcpanel/mcpanel/frame"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/transport"
)

// run owns a session from first Acquire until teardown. It is the only
// goroutine that reads the channel or calls the Handler for this
// session, which keeps frames and state changes in order. A session
// that replaces a released one for the same server starts only after
// the old one has delivered its last notification.
func (m *Manager) run(s *bridgeSession) {
	defer close(s.done)
	if s.previous != nil {
		<-s.previous.done
		s.previous = nil
	}
	m.notify(s.server, Connecting, nil)

	connectedBefore := false
	attempt := 0
	for {
		if attempt > 0 && m.reconnectDelay > 0 {
			select {
			case <-m.clock.After(m.reconnectDelay):
			case <-s.ctx.Done():
			}
		}
		if s.ctx.Err() != nil {
			m.finish(s, nil)
			return
		}

		var (
			gotBytes bool
			decoder  *frame.Decoder
		)
		channel, err := m.transport.Open(s.ctx, s.server)
		if err == nil {
			gotBytes, decoder, err = m.pump(s, channel)
		}
		if s.ctx.Err() != nil {
			m.flush(s, decoder)
			m.finish(s, nil)
			return
		}
		err = transportError(s.server, "read", err)

		if m.takeForced(s) {
			m.notify(s.server, Connecting, nil)
			attempt = 0
			continue
		}
		if gotBytes {
			connectedBefore = true
			attempt = 0
		}
		if !connectedBefore {
			m.logger.Warn("session failed to connect", "server", s.server, "error", err)
			m.flush(s, decoder)
			m.finish(s, err)
			return
		}
		m.degrade(s, err)
		if attempt >= m.reconnectAttempts {
			fatal := &FatalSessionError{Server: s.server, Attempts: attempt, Err: err}
			m.logger.Error("session lost", "server", s.server, "error", fatal)
			m.flush(s, decoder)
			m.finish(s, fatal)
			return
		}
		attempt++
		m.logger.Info("reconnecting", "server", s.server, "attempt", attempt, "budget", m.reconnectAttempts)
	}
}

// pump reads channel until it fails and returns the decoder holding
// whatever was left unterminated. The first byte moves the session to
// Connected. Each channel gets a fresh decoder, so a partial frame from
// a broken channel never leaks into the next one.
func (m *Manager) pump(s *bridgeSession, channel transport.Channel) (gotBytes bool, decoder *frame.Decoder, err error) {
	if !m.attach(s, channel) {
		channel.Close()
		return false, nil, s.ctx.Err()
	}
	defer m.detach(s, channel)

	decoder = frame.NewDecoder(
		frame.WithMaxFrameBytes(m.maxFrameBytes),
		frame.WithLogger(m.logger.With("server", s.server)),
	)
	buffer := make([]byte, m.readBufferSize)
	for {
		n, readErr := channel.Read(buffer)
		if n > 0 {
			if !gotBytes {
				gotBytes = true
				m.markConnected(s, channel)
			}
			frames := decoder.Feed(buffer[:n])
			m.observe(s, frames)
			if len(frames) > 0 {
				m.handler.HandleFrames(s.server, frames)
			}
		}
		if readErr != nil {
			channel.Close()
			return gotBytes, decoder, readErr
		}
	}
}

// flush hands whatever decoder still holds to the Handler as text. It
// runs only when the session ends; a channel that is about to be
// replaced drops its partial frame instead.
func (m *Manager) flush(s *bridgeSession, decoder *frame.Decoder) {
	if decoder == nil {
		return
	}
	if flushed := decoder.Flush(); len(flushed) > 0 {
		m.handler.HandleFrames(s.server, flushed)
	}
}

func (m *Manager) attach(s *bridgeSession, channel transport.Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.channel = channel
	return true
}

func (m *Manager) detach(s *bridgeSession, channel transport.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.channel == channel {
		s.channel = nil
	}
}

func (m *Manager) markConnected(s *bridgeSession, channel transport.Channel) {
	m.mu.Lock()
	s.state = Connected
	s.lastSeen = m.clock.Now()
	if s.pending != nil {
		s.pending.resolve(nil)
		s.pending = nil
	}
	cadence := s.cadence
	m.mu.Unlock()

	m.logger.Info("session connected", "server", s.server)
	m.notify(s.server, Connected, nil)
	if cadence != "" {
		if err := m.sendCadence(s, channel, cadence); err != nil {
			m.logger.Warn("re-sending cadence failed", "server", s.server, "error", err)
		}
	}
}

func (m *Manager) observe(s *bridgeSession, frames []frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.lastSeen = m.clock.Now()
	for _, f := range frames {
		if !f.IsEvent() {
			continue
		}
		s.detected = true
		if handshake, ok := f.Event.Payload.(*protocol.Handshake); ok {
			s.handshake = handshake
		}
	}
}

func (m *Manager) takeForced(s *bridgeSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	forced := s.forced
	s.forced = false
	return forced
}

func (m *Manager) degrade(s *bridgeSession, cause error) {
	m.mu.Lock()
	already := s.state == Degraded
	s.state = Degraded
	if s.pending == nil {
		s.pending = newAttempt()
	}
	m.mu.Unlock()
	if !already {
		m.logger.Warn("session degraded", "server", s.server, "error", cause)
		m.notify(s.server, Degraded, cause)
	}
}

// finish ends the session. err is nil for an orderly teardown.
func (m *Manager) finish(s *bridgeSession, err error) {
	m.mu.Lock()
	if m.sessions[s.server] == s {
		delete(m.sessions, s.server)
	}
	s.state = Disconnected
	s.refs = make(map[Consumer]int)
	s.total = 0
	if s.pending != nil {
		resolveErr := err
		if resolveErr == nil {
			resolveErr = ErrNotConnected
		}
		s.pending.resolve(resolveErr)
		s.pending = nil
	}
	m.mu.Unlock()

	s.cancel()
	m.notify(s.server, Disconnected, err)

	m.mu.Lock()
	if m.latest[s.server] == s {
		delete(m.latest, s.server)
	}
	m.mu.Unlock()
}

func (m *Manager) notify(server string, state State, err error) {
	m.handler.HandleState(StateChange{Server: server, State: state, Err: err})
}
