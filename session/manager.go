// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcpanel/mcpanel/frame"
	"github.com/mcpanel/mcpanel/lib/clock"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/transport"
)

// Config configures a Manager.
type Config struct {
	// Transport opens channels. Required.
	Transport transport.Transport

	// Handler receives frames and state changes. Nil discards them.
	Handler Handler

	Clock  clock.Clock
	Logger *slog.Logger

	// MaxFrameBytes is passed to each session's decoder.
	MaxFrameBytes int

	// ReconnectAttempts is how many times a degraded session tries to
	// reopen its channel before giving up. Zero disables reconnect.
	ReconnectAttempts int

	// ReconnectDelay is the pause before each reconnect attempt.
	ReconnectDelay time.Duration

	// ReadBufferSize sizes each channel read. Defaults to 32 KiB.
	ReadBufferSize int
}

// Manager owns every server's session.
type Manager struct {
	transport transport.Transport
	handler   Handler
	clock     clock.Clock
	logger    *slog.Logger

	maxFrameBytes     int
	reconnectAttempts int
	reconnectDelay    time.Duration
	readBufferSize    int

	mu       sync.Mutex
	sessions map[string]*bridgeSession

	// latest is the newest session started per server, including one
	// that has been released but whose goroutine has not finished.
	latest map[string]*bridgeSession
	closed bool
}

// bridgeSession is the state of one server's channel. Fields below mu
// are guarded by Manager.mu.
type bridgeSession struct {
	server string
	ctx    context.Context
	cancel context.CancelFunc

	// previous is the session this one replaced. run waits for it
	// before notifying the Handler. done is closed when run returns.
	previous *bridgeSession
	done     chan struct{}

	// writeMu serializes writes to the channel.
	writeMu sync.Mutex

	state     State
	refs      map[Consumer]int
	total     int
	channel   transport.Channel
	pending   *attempt
	forced    bool
	cadence   protocol.Cadence
	lastSeen  time.Time
	detected  bool
	handshake *protocol.Handshake
}

// attempt is one wait for a session to reach Connected. Acquire and
// Reconnect block on done; err is set before done closes.
type attempt struct {
	done chan struct{}
	err  error
}

func newAttempt() *attempt { return &attempt{done: make(chan struct{})} }

func (a *attempt) resolve(err error) {
	a.err = err
	close(a.done)
}

// NewManager returns a Manager with no open sessions.
func NewManager(config Config) (*Manager, error) {
	if config.Transport == nil {
		return nil, errors.New("session: Transport is required")
	}
	m := &Manager{
		transport:         config.Transport,
		handler:           config.Handler,
		clock:             config.Clock,
		logger:            config.Logger,
		maxFrameBytes:     config.MaxFrameBytes,
		reconnectAttempts: config.ReconnectAttempts,
		reconnectDelay:    config.ReconnectDelay,
		readBufferSize:    config.ReadBufferSize,
		sessions:          make(map[string]*bridgeSession),
		latest:            make(map[string]*bridgeSession),
	}
	if m.handler == nil {
		m.handler = discardHandler{}
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.maxFrameBytes <= 0 {
		m.maxFrameBytes = frame.DefaultMaxFrameBytes
	}
	if m.readBufferSize <= 0 {
		m.readBufferSize = 32 << 10
	}
	return m, nil
}

// Acquire registers consumer as a holder of server's session, opening
// the channel if this is the first holder. It returns once the session
// is connected (the first byte has arrived) or has failed. On failure
// or cancellation the acquisition is rolled back and the caller must
// not call Release for it.
func (m *Manager) Acquire(ctx context.Context, server string, consumer Consumer) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	s, ok := m.sessions[server]
	if !ok {
		sessionCtx, cancel := context.WithCancel(context.Background())
		s = &bridgeSession{
			server:   server,
			ctx:      sessionCtx,
			cancel:   cancel,
			previous: m.latest[server],
			done:     make(chan struct{}),
			state:    Connecting,
			refs:     make(map[Consumer]int),
			pending:  newAttempt(),
		}
		m.sessions[server] = s
		m.latest[server] = s
		m.logger.Info("opening session", "server", server, "consumer", consumer)
		go m.run(s)
	}
	s.refs[consumer]++
	s.total++
	pending := s.pending
	m.mu.Unlock()

	if pending == nil {
		return nil
	}
	select {
	case <-pending.done:
		return pending.err
	case <-ctx.Done():
		m.release(s, consumer)
		return ctx.Err()
	}
}

// Release drops one acquisition by consumer. The channel closes when
// the last acquisition is released. Releasing a consumer that holds
// nothing is a no-op.
func (m *Manager) Release(server string, consumer Consumer) {
	m.mu.Lock()
	s := m.sessions[server]
	m.mu.Unlock()
	if s != nil {
		m.release(s, consumer)
	}
}

func (m *Manager) release(s *bridgeSession, consumer Consumer) {
	m.mu.Lock()
	if m.sessions[s.server] != s || s.refs[consumer] == 0 {
		m.mu.Unlock()
		return
	}
	s.refs[consumer]--
	if s.refs[consumer] == 0 {
		delete(s.refs, consumer)
	}
	s.total--
	if s.total > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.server)
	channel := s.channel
	// Cancel under the lock so attach cannot install a channel that
	// nothing would close.
	s.cancel()
	m.mu.Unlock()

	m.logger.Info("closing session", "server", s.server, "last_consumer", consumer)
	if channel != nil {
		channel.Close()
	}
}

// Reconnect closes server's channel and opens a new one, returning
// once the new channel is connected or the session has failed. If a
// reconnect is already in progress it waits for that one instead.
func (m *Manager) Reconnect(ctx context.Context, server string) error {
	m.mu.Lock()
	s := m.sessions[server]
	if s == nil {
		m.mu.Unlock()
		return fmt.Errorf("reconnect %s: %w", server, ErrNotConnected)
	}
	var channel transport.Channel
	if s.state == Connected {
		s.forced = true
		s.state = Connecting
		s.pending = newAttempt()
		channel = s.channel
	}
	pending := s.pending
	m.mu.Unlock()

	if channel != nil {
		m.logger.Info("forcing reconnect", "server", server)
		channel.Close()
	}
	if pending == nil {
		return nil
	}
	select {
	case <-pending.done:
		return pending.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendCommand writes text and a newline to server's console. It
// returns once the bytes are written; nothing confirms the command ran.
func (m *Manager) SendCommand(ctx context.Context, server, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("command for %s contains a line break", server)
	}
	s, channel, err := m.liveChannel(server)
	if err != nil {
		return err
	}
	return m.writeLine(s, channel, text)
}

// SendRequest encodes request as a bridge console command and writes
// it. The response, if any, arrives later as an event.
func (m *Manager) SendRequest(ctx context.Context, server string, request protocol.Request) error {
	line, err := protocol.EncodeCommand(request)
	if err != nil {
		return err
	}
	return m.SendCommand(ctx, server, line)
}

// RequestCadence records cadence as the session's requested rate and
// sends it if the session is connected. A session that is connecting
// or reconnecting sends the recorded cadence once it connects.
func (m *Manager) RequestCadence(ctx context.Context, server string, cadence protocol.Cadence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	s := m.sessions[server]
	if s == nil {
		m.mu.Unlock()
		return fmt.Errorf("cadence for %s: %w", server, ErrNotConnected)
	}
	s.cadence = cadence
	channel := s.channel
	live := s.state == Connected && channel != nil
	m.mu.Unlock()

	if !live {
		return nil
	}
	return m.sendCadence(s, channel, cadence)
}

// State returns server's state. Servers without a session are
// Disconnected.
func (m *Manager) State(server string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.sessions[server]; s != nil {
		return s.state
	}
	return Disconnected
}

// Info describes server's session. The second result is false when
// there is no session.
func (m *Manager) Info(server string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[server]
	if s == nil {
		return Info{Server: server, State: Disconnected}, false
	}
	consumers := make([]Consumer, 0, len(s.refs))
	for consumer := range s.refs {
		consumers = append(consumers, consumer)
	}
	sort.Slice(consumers, func(i, j int) bool { return consumers[i] < consumers[j] })
	return Info{
		Server:     server,
		State:      s.state,
		References: s.total,
		Consumers:  consumers,
		Cadence:    s.cadence,
		LastSeen:   s.lastSeen,
		Detected:   s.detected,
		Handshake:  s.handshake,
	}, true
}

// Close tears down every session and rejects further Acquire calls.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	var channels []transport.Channel
	for server, s := range m.sessions {
		delete(m.sessions, server)
		s.cancel()
		if s.channel != nil {
			channels = append(channels, s.channel)
		}
	}
	m.mu.Unlock()

	for _, channel := range channels {
		channel.Close()
	}
}

func (m *Manager) liveChannel(server string) (*bridgeSession, transport.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[server]
	if s == nil || s.state != Connected || s.channel == nil {
		return nil, nil, fmt.Errorf("write to %s: %w", server, ErrNotConnected)
	}
	return s, s.channel, nil
}

func (m *Manager) writeLine(s *bridgeSession, channel transport.Channel, line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := io.WriteString(channel, line+"\n"); err != nil {
		return transportError(s.server, "write", err)
	}
	return nil
}

func (m *Manager) sendCadence(s *bridgeSession, channel transport.Channel, cadence protocol.Cadence) error {
	line, err := protocol.EncodeCommand(protocol.CadenceRequest(cadence))
	if err != nil {
		return err
	}
	m.logger.Debug("requesting cadence", "server", s.server, "cadence", cadence)
	return m.writeLine(s, channel, line)
}

func transportError(server, op string, err error) error {
	var existing *transport.Error
	if errors.As(err, &existing) {
		return err
	}
	return &transport.Error{Server: server, Op: op, Err: err}
}
