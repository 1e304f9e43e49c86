// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
)

// Memory is an in-process Transport. Every successful Open hands the
// far end of the new channel to the test through Remotes, where the
// test writes console output and reads submitted lines.
type Memory struct {
	mu       sync.Mutex
	failures map[string][]error
	outputs  map[string][]byte
	opens    map[string]int
	remotes  chan *MemoryRemote
}

var _ Transport = (*Memory)(nil)

// NewMemory returns an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{
		failures: make(map[string][]error),
		outputs:  make(map[string][]byte),
		opens:    make(map[string]int),
		remotes:  make(chan *MemoryRemote, 32),
	}
}

// FailOpen makes the next Open for server fail with err. Calls queue.
func (m *Memory) FailOpen(server string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[server] = append(m.failures[server], err)
}

// SetOutput fixes what RunOnce returns for command on server.
func (m *Memory) SetOutput(server, command string, output []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[server+"\x00"+command] = output
}

// Remotes delivers the far end of every opened channel.
func (m *Memory) Remotes() <-chan *MemoryRemote { return m.remotes }

// Opens returns how many Open calls succeeded for server.
func (m *Memory) Opens(server string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[server]
}

// Open creates a connected channel pair.
func (m *Memory) Open(ctx context.Context, server string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if queued := m.failures[server]; len(queued) > 0 {
		m.failures[server] = queued[1:]
		m.mu.Unlock()
		return nil, &Error{Server: server, Op: "open", Err: queued[0]}
	}
	m.opens[server]++
	m.mu.Unlock()

	outputReader, outputWriter := io.Pipe()
	inputReader, inputWriter := io.Pipe()
	remote := &MemoryRemote{
		Server: server,
		output: outputWriter,
		input:  inputReader,
		lines:  make(chan string, 64),
		closed: make(chan struct{}),
	}
	go remote.readLines()

	channel := &memoryChannel{reader: outputReader, writer: inputWriter, remote: remote}
	select {
	case m.remotes <- remote:
	case <-ctx.Done():
		channel.Close()
		return nil, ctx.Err()
	}
	return channel, nil
}

// RunOnce returns the output registered with SetOutput.
func (m *Memory) RunOnce(ctx context.Context, server, command string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	output, ok := m.outputs[server+"\x00"+command]
	if !ok {
		return nil, &Error{Server: server, Op: "exec", Err: errors.New("command not found")}
	}
	return output, nil
}

// MemoryRemote is the server side of a Memory channel.
type MemoryRemote struct {
	Server string

	output *io.PipeWriter
	input  *io.PipeReader
	lines  chan string

	closeOnce sync.Once
	closed    chan struct{}
}

// Write sends console output to the client. It blocks until the
// client reads it.
func (r *MemoryRemote) Write(p []byte) (int, error) { return r.output.Write(p) }

// WriteString is Write for strings.
func (r *MemoryRemote) WriteString(s string) (int, error) { return r.output.Write([]byte(s)) }

// Lines delivers each newline-terminated line the client wrote. It is
// closed when the client closes the channel.
func (r *MemoryRemote) Lines() <-chan string { return r.lines }

// Fail breaks the channel: the client's next read returns err.
func (r *MemoryRemote) Fail(err error) {
	r.output.CloseWithError(err)
	r.input.CloseWithError(err)
}

// Hangup ends the stream cleanly: the client's next read returns EOF.
func (r *MemoryRemote) Hangup() {
	r.output.Close()
}

// Closed is closed once the client has closed its end.
func (r *MemoryRemote) Closed() <-chan struct{} { return r.closed }

func (r *MemoryRemote) readLines() {
	defer close(r.lines)
	scanner := bufio.NewScanner(r.input)
	for scanner.Scan() {
		r.lines <- scanner.Text()
	}
}

func (r *MemoryRemote) markClosed() {
	r.closeOnce.Do(func() { close(r.closed) })
}

type memoryChannel struct {
	reader *io.PipeReader
	writer *io.PipeWriter
	remote *MemoryRemote
}

func (c *memoryChannel) Read(p []byte) (int, error)  { return c.reader.Read(p) }
func (c *memoryChannel) Write(p []byte) (int, error) { return c.writer.Write(p) }

func (c *memoryChannel) Close() error {
	c.reader.Close()
	c.writer.Close()
	c.remote.markClosed()
	return nil
}
