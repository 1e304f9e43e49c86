// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mcpanel/mcpanel/frame"
	"github.com/mcpanel/mcpanel/lib/clock"
	"github.com/mcpanel/mcpanel/lib/testutil"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/transport"
)

const (
	server  = "survival"
	timeout = 5 * time.Second
)

type recordingHandler struct {
	frames chan []frame.Frame
	states chan StateChange

	// stall delays delivery of the first Disconnected change.
	stall     time.Duration
	stallOnce sync.Once
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		frames: make(chan []frame.Frame, 64),
		states: make(chan StateChange, 64),
	}
}

func (h *recordingHandler) HandleFrames(_ string, frames []frame.Frame) { h.frames <- frames }

func (h *recordingHandler) HandleState(change StateChange) {
	if change.State == Disconnected && h.stall > 0 {
		h.stallOnce.Do(func() { time.Sleep(h.stall) })
	}
	h.states <- change
}

func (h *recordingHandler) requireState(t *testing.T, want State) StateChange {
	t.Helper()
	change := testutil.RequireReceive(t, h.states, timeout, "waiting for %s", want)
	if change.State != want {
		t.Fatalf("state change = %s (err %v), want %s", change.State, change.Err, want)
	}
	return change
}

type harness struct {
	memory  *transport.Memory
	handler *recordingHandler
	manager *Manager
	clock   *clock.FakeClock
}

func newHarness(t *testing.T, attempts int, delay time.Duration) *harness {
	t.Helper()
	h := &harness{
		memory:  transport.NewMemory(),
		handler: newRecordingHandler(),
		clock:   clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	manager, err := NewManager(Config{
		Transport:         h.memory,
		Handler:           h.handler,
		Clock:             h.clock,
		ReconnectAttempts: attempts,
		ReconnectDelay:    delay,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.manager = manager
	t.Cleanup(manager.Close)
	return h
}

// connect acquires for consumer and plays the remote's first output.
func (h *harness) connect(t *testing.T, consumer Consumer) *transport.MemoryRemote {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- h.manager.Acquire(context.Background(), server, consumer) }()
	remote := testutil.RequireReceive(t, h.memory.Remotes(), timeout, "channel opened")
	h.handler.requireState(t, Connecting)
	if _, err := remote.WriteString("> "); err != nil {
		t.Fatal(err)
	}
	if err := testutil.RequireReceive(t, result, timeout, "acquire returns"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h.handler.requireState(t, Connected)
	testutil.RequireReceive(t, h.handler.frames, timeout, "prompt text")
	return remote
}

func wrapEvent(t *testing.T, json string) string {
	t.Helper()
	return frame.StartMarker + base64.StdEncoding.EncodeToString([]byte(json)) + frame.EndMarker
}

func TestAcquireConnectsOnFirstByte(t *testing.T) {
	h := newHarness(t, 0, 0)

	result := make(chan error, 1)
	go func() { result <- h.manager.Acquire(context.Background(), server, "console") }()
	remote := testutil.RequireReceive(t, h.memory.Remotes(), timeout, "channel opened")
	h.handler.requireState(t, Connecting)

	if state := h.manager.State(server); state != Connecting {
		t.Fatalf("state before first byte = %s", state)
	}
	select {
	case err := <-result:
		t.Fatalf("Acquire returned before first byte: %v", err)
	default:
	}

	go remote.WriteString("x")
	if err := testutil.RequireReceive(t, result, timeout, "acquire"); err != nil {
		t.Fatal(err)
	}
	h.handler.requireState(t, Connected)
	if state := h.manager.State(server); state != Connected {
		t.Fatalf("state = %s", state)
	}
	info, _ := h.manager.Info(server)
	if info.Detected {
		t.Fatal("plain output marked the bridge as detected")
	}
}

func TestHandshakeFramesInOrder(t *testing.T) {
	h := newHarness(t, 0, 0)
	remote := h.connect(t, "console")

	go remote.WriteString("Server starting...\n" + wrapEvent(t, `{"type":"handshake","version":2}`) + "Done!\n")
	frames := testutil.RequireReceive(t, h.handler.frames, timeout, "frames")
	if len(frames) != 3 {
		t.Fatalf("got %d frames: %+v", len(frames), frames)
	}
	if string(frames[0].Text) != "Server starting...\n" {
		t.Errorf("frame 0 = %q", frames[0].Text)
	}
	if !frames[1].IsEvent() || frames[1].Event.Kind != protocol.KindHandshake {
		t.Fatalf("frame 1 = %+v", frames[1])
	}
	if version := frames[1].Event.Payload.(*protocol.Handshake).Version; version != 2 {
		t.Errorf("version = %d", version)
	}
	if string(frames[2].Text) != "Done!\n" {
		t.Errorf("frame 2 = %q", frames[2].Text)
	}

	info, ok := h.manager.Info(server)
	if !ok || !info.Detected || info.Handshake == nil || info.Handshake.Version != 2 {
		t.Fatalf("info = %+v", info)
	}
}

func TestReferenceCounting(t *testing.T) {
	h := newHarness(t, 0, 0)
	remote := h.connect(t, "console")

	if err := h.manager.Acquire(context.Background(), server, "dashboard"); err != nil {
		t.Fatal(err)
	}
	if err := h.manager.Acquire(context.Background(), server, "dashboard"); err != nil {
		t.Fatal(err)
	}
	if h.memory.Opens(server) != 1 {
		t.Fatalf("opened %d channels, want 1", h.memory.Opens(server))
	}
	info, _ := h.manager.Info(server)
	if info.References != 3 || len(info.Consumers) != 2 {
		t.Fatalf("info = %+v", info)
	}

	h.manager.Release(server, "debug")
	h.manager.Release(server, "console")
	h.manager.Release(server, "console")
	h.manager.Release(server, "dashboard")
	select {
	case <-remote.Closed():
		t.Fatal("channel closed while dashboard still holds it")
	default:
	}
	if state := h.manager.State(server); state != Connected {
		t.Fatalf("state = %s", state)
	}

	h.manager.Release(server, "dashboard")
	testutil.RequireClosed(t, remote.Closed(), timeout, "channel closed after last release")
	if change := h.handler.requireState(t, Disconnected); change.Err != nil {
		t.Fatalf("orderly teardown reported %v", change.Err)
	}
	if state := h.manager.State(server); state != Disconnected {
		t.Fatalf("state = %s", state)
	}

	h.manager.Release(server, "dashboard")
}

func TestTeardownFlushesPendingText(t *testing.T) {
	h := newHarness(t, 0, 0)
	remote := h.connect(t, "console")

	go remote.WriteString("almost\x1b]13")
	frames := testutil.RequireReceive(t, h.handler.frames, timeout, "text")
	if string(frames[0].Text) != "almost" {
		t.Fatalf("text = %q", frames[0].Text)
	}

	h.manager.Release(server, "console")
	flushed := testutil.RequireReceive(t, h.handler.frames, timeout, "flushed text")
	if string(flushed[0].Text) != "\x1b]13" {
		t.Fatalf("flushed = %q", flushed[0].Text)
	}
	h.handler.requireState(t, Disconnected)
}

func TestFatalTeardownFlushesPendingText(t *testing.T) {
	h := newHarness(t, 0, 0)
	remote := h.connect(t, "console")

	go remote.WriteString("half\x1b]13")
	frames := testutil.RequireReceive(t, h.handler.frames, timeout, "text")
	if string(frames[0].Text) != "half" {
		t.Fatalf("text = %q", frames[0].Text)
	}

	remote.Fail(errors.New("broken pipe"))
	h.handler.requireState(t, Degraded)
	flushed := testutil.RequireReceive(t, h.handler.frames, timeout, "flushed text")
	if string(flushed[0].Text) != "\x1b]13" {
		t.Fatalf("flushed = %q", flushed[0].Text)
	}
	change := h.handler.requireState(t, Disconnected)
	var fatal *FatalSessionError
	if !errors.As(change.Err, &fatal) {
		t.Fatalf("final error = %v", change.Err)
	}
}

func TestReplacementSessionWaitsForPreviousTeardown(t *testing.T) {
	h := newHarness(t, 0, 0)
	h.handler.stall = 200 * time.Millisecond
	first := h.connect(t, "console")

	h.manager.Release(server, "console")
	testutil.RequireClosed(t, first.Closed(), timeout, "first channel closed")

	result := make(chan error, 1)
	go func() { result <- h.manager.Acquire(context.Background(), server, "console") }()

	// The old session's Disconnected must land before the new
	// session says anything.
	if change := h.handler.requireState(t, Disconnected); change.Err != nil {
		t.Fatalf("orderly teardown reported %v", change.Err)
	}
	second := testutil.RequireReceive(t, h.memory.Remotes(), timeout, "second channel opened")
	h.handler.requireState(t, Connecting)
	go second.WriteString("> ")
	if err := testutil.RequireReceive(t, result, timeout, "second acquire"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h.handler.requireState(t, Connected)
	testutil.RequireNoReceive(t, h.handler.states, 300*time.Millisecond, "late state change")

	if state := h.manager.State(server); state != Connected {
		t.Fatalf("state = %s", state)
	}
}

func TestSendCommand(t *testing.T) {
	h := newHarness(t, 0, 0)

	if err := h.manager.SendCommand(context.Background(), server, "say hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendCommand before acquire = %v", err)
	}

	remote := h.connect(t, "console")
	if err := h.manager.SendCommand(context.Background(), server, "say hi"); err != nil {
		t.Fatal(err)
	}
	if line := testutil.RequireReceive(t, remote.Lines(), timeout, "command"); line != "say hi" {
		t.Fatalf("line = %q", line)
	}
	if err := h.manager.SendCommand(context.Background(), server, "op a\nop b"); err == nil {
		t.Fatal("multi-line command accepted")
	}
}

func TestReconnectResendsCadenceOnce(t *testing.T) {
	h := newHarness(t, 3, 0)
	remote := h.connect(t, "dashboard")

	if err := h.manager.RequestCadence(context.Background(), server, protocol.CadenceHigh); err != nil {
		t.Fatal(err)
	}
	requireCadence(t, remote, protocol.CadenceHigh)

	remote.Fail(errors.New("connection reset by peer"))
	change := h.handler.requireState(t, Degraded)
	var transportErr *transport.Error
	if !errors.As(change.Err, &transportErr) {
		t.Fatalf("degraded error = %v, want *transport.Error", change.Err)
	}

	second := testutil.RequireReceive(t, h.memory.Remotes(), timeout, "reconnect")
	go second.WriteString("> ")
	h.handler.requireState(t, Connected)
	requireCadence(t, second, protocol.CadenceHigh)
	testutil.RequireNoReceive(t, second.Lines(), 50*time.Millisecond, "cadence sent twice")

	info, _ := h.manager.Info(server)
	if info.References != 1 || info.State != Connected {
		t.Fatalf("info after reconnect = %+v", info)
	}
}

func requireCadence(t *testing.T, remote *transport.MemoryRemote, want protocol.Cadence) {
	t.Helper()
	line := testutil.RequireReceive(t, remote.Lines(), timeout, "cadence request")
	request, ok, err := protocol.DecodeCommand(line)
	if err != nil || !ok {
		t.Fatalf("line %q is not a bridge request: %v", line, err)
	}
	if request.Type != protocol.RequestCadence || request.Payload["mode"] != string(want) {
		t.Fatalf("request = %+v", request)
	}
}

func TestReconnectBudgetExhausted(t *testing.T) {
	h := newHarness(t, 2, 5*time.Second)
	remote := h.connect(t, "console")

	refused := errors.New("connection refused")
	h.memory.FailOpen(server, refused)
	h.memory.FailOpen(server, refused)
	remote.Fail(errors.New("broken pipe"))
	h.handler.requireState(t, Degraded)

	waiter := make(chan error, 1)
	go func() { waiter <- h.manager.Acquire(context.Background(), server, "dashboard") }()
	testutil.Eventually(t, timeout, func() bool {
		info, _ := h.manager.Info(server)
		return info.References == 2
	}, "dashboard waiting on the degraded session")

	for range 2 {
		h.clock.WaitForTimers(1)
		h.clock.Advance(5 * time.Second)
	}

	change := h.handler.requireState(t, Disconnected)
	var fatal *FatalSessionError
	if !errors.As(change.Err, &fatal) || fatal.Attempts != 2 || !errors.Is(fatal, refused) {
		t.Fatalf("final error = %v", change.Err)
	}
	if err := testutil.RequireReceive(t, waiter, timeout, "waiting acquire"); !errors.As(err, &fatal) {
		t.Fatalf("waiting Acquire = %v", err)
	}
	testutil.RequireNoReceive(t, h.handler.states, 50*time.Millisecond, "fatal reported twice")

	if state := h.manager.State(server); state != Disconnected {
		t.Fatalf("state = %s", state)
	}
	h.manager.Release(server, "console")
}

func TestInitialConnectFailure(t *testing.T) {
	h := newHarness(t, 3, 0)
	h.memory.FailOpen(server, errors.New("auth failed"))

	err := h.manager.Acquire(context.Background(), server, "console")
	var transportErr *transport.Error
	if !errors.As(err, &transportErr) {
		t.Fatalf("Acquire = %v, want *transport.Error", err)
	}
	if state := h.manager.State(server); state != Disconnected {
		t.Fatalf("state = %s", state)
	}
	if _, ok := h.manager.Info(server); ok {
		t.Fatal("failed session still registered")
	}
}

func TestAcquireCancelRollsBack(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() { result <- h.manager.Acquire(ctx, server, "console") }()
	remote := testutil.RequireReceive(t, h.memory.Remotes(), timeout, "channel opened")
	cancel()

	if err := testutil.RequireReceive(t, result, timeout, "acquire"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire = %v", err)
	}
	testutil.RequireClosed(t, remote.Closed(), timeout, "channel closed after rollback")
}

func TestForcedReconnect(t *testing.T) {
	h := newHarness(t, 1, 0)
	first := h.connect(t, "console")

	result := make(chan error, 1)
	go func() { result <- h.manager.Reconnect(context.Background(), server) }()
	testutil.RequireClosed(t, first.Closed(), timeout, "old channel closed")
	second := testutil.RequireReceive(t, h.memory.Remotes(), timeout, "new channel")
	h.handler.requireState(t, Connecting)

	go second.WriteString("> ")
	if err := testutil.RequireReceive(t, result, timeout, "reconnect"); err != nil {
		t.Fatal(err)
	}
	h.handler.requireState(t, Connected)
	if h.memory.Opens(server) != 2 {
		t.Fatalf("Opens = %d", h.memory.Opens(server))
	}
}

func TestRequestCadenceDeferredUntilConnected(t *testing.T) {
	h := newHarness(t, 0, 0)

	result := make(chan error, 1)
	go func() { result <- h.manager.Acquire(context.Background(), server, "dashboard") }()
	remote := testutil.RequireReceive(t, h.memory.Remotes(), timeout, "channel opened")
	h.handler.requireState(t, Connecting)

	if err := h.manager.RequestCadence(context.Background(), server, protocol.CadenceHigh); err != nil {
		t.Fatal(err)
	}
	testutil.RequireNoReceive(t, remote.Lines(), 20*time.Millisecond, "cadence sent while connecting")

	go remote.WriteString("> ")
	testutil.RequireReceive(t, result, timeout, "acquire")
	requireCadence(t, remote, protocol.CadenceHigh)
}

func TestLargeOutputDelivered(t *testing.T) {
	h := newHarness(t, 0, 0)
	remote := h.connect(t, "console")

	payload := strings.Repeat("[12:00:00 INFO]: chunk loaded\n", 4096)
	go remote.WriteString(payload)

	var got bytes.Buffer
	for got.Len() < len(payload) {
		for _, f := range testutil.RequireReceive(t, h.handler.frames, timeout, "output") {
			got.Write(f.Text)
		}
	}
	if got.String() != payload {
		t.Fatal("console text corrupted")
	}
}
