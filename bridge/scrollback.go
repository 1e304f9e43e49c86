// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import "sync"

// DefaultScrollbackBytes is the console history kept per server.
const DefaultScrollbackBytes = 1 << 20

// Scrollback is a fixed-capacity circular buffer of console text,
// addressed by absolute byte offset. Readers remember the offset they
// have consumed up to and ask for everything after it, so a slow or
// late reader gets contiguous history (or learns it fell behind)
// instead of a torn stream. When full, new text overwrites the oldest.
type Scrollback struct {
	mu       sync.Mutex
	data     []byte
	capacity int

	// head is the index in data where the next byte goes; written is
	// the total ever written. The buffer holds offsets
	// [written-stored, written), stored = min(written, capacity).
	head    int
	written uint64

	waiters []chan struct{}
}

// NewScrollback returns an empty buffer of capacity bytes.
func NewScrollback(capacity int) *Scrollback {
	if capacity <= 0 {
		capacity = DefaultScrollbackBytes
	}
	return &Scrollback{data: make([]byte, capacity), capacity: capacity}
}

// Write appends text and wakes every Wait channel handed out since the
// last Write.
func (s *Scrollback) Write(text []byte) {
	if len(text) == 0 {
		return
	}
	s.mu.Lock()
	s.written += uint64(len(text))
	if len(text) > s.capacity {
		text = text[len(text)-s.capacity:]
	}
	for len(text) > 0 {
		n := copy(s.data[s.head:], text)
		s.head = (s.head + n) % s.capacity
		text = text[n:]
	}
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

// ReadFrom returns the text after offset and the offset to pass next
// time. If offset predates the retained history, the returned text
// starts at the oldest retained byte and lost is true.
func (s *Scrollback) ReadFrom(offset uint64) (text []byte, next uint64, lost bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset >= s.written {
		return nil, s.written, false
	}
	oldest := s.written - uint64(s.stored())
	if offset < oldest {
		offset = oldest
		lost = true
	}
	length := int(s.written - offset)
	text = make([]byte, length)
	start := (s.head - length + s.capacity) % s.capacity
	n := copy(text, s.data[start:])
	if n < length {
		copy(text[n:], s.data[:length-n])
	}
	return text, s.written, lost
}

// Offset returns the total bytes ever written.
func (s *Scrollback) Offset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Wait returns a channel closed by the next Write.
func (s *Scrollback) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	return ch
}

func (s *Scrollback) stored() int {
	if s.written < uint64(s.capacity) {
		return int(s.written)
	}
	return s.capacity
}
