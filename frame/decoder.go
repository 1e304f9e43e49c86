// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mcpanel/mcpanel/protocol"
)

// DecodeError describes a frame whose payload could not be parsed.
// Such frames are returned to the caller as Text, so DecodeError only
// shows up in logs.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame decode: %s: %v", e.Reason, e.Err)
	}
	return "frame decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder is the streaming demultiplexer. It is not safe for
// concurrent use; each session owns one and feeds it from a single
// reader goroutine.
type Decoder struct {
	maxFrameBytes int
	logger        *slog.Logger

	// pending holds bytes not yet emitted: either a suffix that might
	// be the start of StartMarker, or an open frame beginning with
	// StartMarker.
	pending []byte

	// inFrame is true when pending begins with a complete StartMarker.
	inFrame bool

	// searched is how far into pending the end-marker search has
	// already looked.
	searched int
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxFrameBytes sets the buffering cap for an unterminated frame.
func WithMaxFrameBytes(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxFrameBytes = n
		}
	}
}

// WithLogger sets where dropped frames are reported.
func WithLogger(logger *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDecoder returns an empty decoder.
func NewDecoder(options ...DecoderOption) *Decoder {
	d := &Decoder{
		maxFrameBytes: DefaultMaxFrameBytes,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(d)
	}
	return d
}

// Buffered returns the number of bytes held back waiting for more
// input.
func (d *Decoder) Buffered() int { return len(d.pending) }

// Feed consumes the next chunk of the stream and returns the frames it
// completes, in stream order. Bytes that may belong to a frame still in
// progress are held until a later Feed resolves them.
func (d *Decoder) Feed(data []byte) []Frame {
	if len(data) == 0 {
		return nil
	}
	d.pending = append(d.pending, data...)

	var frames []Frame
	emitText := func(text []byte) {
		if len(text) == 0 {
			return
		}
		// Merge adjacent text so callers see one chunk per run.
		if n := len(frames); n > 0 && !frames[n-1].IsEvent() {
			frames[n-1].Text = append(frames[n-1].Text, text...)
			return
		}
		frames = append(frames, Frame{Text: bytes.Clone(text)})
	}

	buf := d.pending
	for len(buf) > 0 {
		if !d.inFrame {
			start := bytes.Index(buf, []byte(StartMarker))
			if start < 0 {
				keep := partialPrefixLength(buf, StartMarker)
				emitText(buf[:len(buf)-keep])
				buf = buf[len(buf)-keep:]
				break
			}
			emitText(buf[:start])
			buf = buf[start:]
			d.inFrame = true
			d.searched = len(StartMarker)
		}

		body := buf[d.searched:]
		end := bytes.Index(body, []byte(EndMarker))
		restart := bytes.Index(body, []byte(StartMarker))

		if restart >= 0 && (end < 0 || restart < end) {
			// A new frame opened before this one closed. Give up on the
			// earlier one.
			cut := d.searched + restart
			d.logger.Debug("abandoning unterminated frame", "bytes", cut)
			emitText(buf[:cut])
			buf = buf[cut:]
			d.inFrame = false
			continue
		}

		if end < 0 {
			if len(buf) > d.maxFrameBytes {
				d.logger.Warn("frame exceeded size cap, passing through as text",
					"bytes", len(buf), "max_frame_bytes", d.maxFrameBytes)
				keep := partialPrefixLength(buf, StartMarker)
				emitText(buf[:len(buf)-keep])
				buf = buf[len(buf)-keep:]
				d.inFrame = false
				break
			}
			// Keep a possible partial marker at the tail in the next
			// search window.
			d.searched = max(len(StartMarker), len(buf)-len(StartMarker)+1)
			break
		}

		frameEnd := d.searched + end + len(EndMarker)
		raw := buf[:frameEnd]
		payload := buf[len(StartMarker) : d.searched+end]
		d.inFrame = false
		buf = buf[frameEnd:]

		if d.searched+end > d.maxFrameBytes {
			// Same outcome as when the cap trips before the end marker
			// arrives, so the result does not depend on chunking.
			d.logger.Warn("frame exceeded size cap, passing through as text",
				"bytes", frameEnd, "max_frame_bytes", d.maxFrameBytes)
			emitText(raw)
			continue
		}

		event, err := d.decodePayload(payload)
		switch {
		case err == nil:
			frames = append(frames, Frame{Event: &event})
		case errors.Is(err, protocol.ErrUnknownType):
			d.logger.Debug("ignoring unknown bridge event", "error", err)
		case isProtocolError(err):
			d.logger.Warn("dropping malformed bridge event", "error", err)
		default:
			d.logger.Debug("frame payload unreadable, passing through as text", "error", err)
			emitText(raw)
		}
	}

	// buf is a suffix of pending; shift it to the front.
	d.pending = d.pending[:copy(d.pending, buf)]
	if !d.inFrame {
		d.searched = 0
	}
	return frames
}

// Flush returns any held-back bytes as Text and resets the decoder.
// Call it when the stream ends.
func (d *Decoder) Flush() []Frame {
	if len(d.pending) == 0 {
		d.Reset()
		return nil
	}
	text := bytes.Clone(d.pending)
	d.Reset()
	return []Frame{{Text: text}}
}

// Reset discards held-back bytes.
func (d *Decoder) Reset() {
	d.pending = nil
	d.inFrame = false
	d.searched = 0
}

func (d *Decoder) decodePayload(payload []byte) (protocol.Event, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return protocol.Event{}, &DecodeError{Reason: "empty payload"}
	}
	message := payload
	if payload[0] != '{' {
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
		n, err := base64.StdEncoding.Decode(decoded, payload)
		if err != nil {
			return protocol.Event{}, &DecodeError{Reason: "invalid base64", Err: err}
		}
		message = decoded[:n]
	}
	event, err := protocol.Decode(message)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) || isProtocolError(err) {
			return protocol.Event{}, err
		}
		return protocol.Event{}, &DecodeError{Reason: "invalid JSON", Err: err}
	}
	return event, nil
}

func isProtocolError(err error) bool {
	var protocolErr *protocol.ProtocolError
	return errors.As(err, &protocolErr)
}

// partialPrefixLength returns the length of the longest proper prefix
// of marker that buf ends with.
func partialPrefixLength(buf []byte, marker string) int {
	longest := min(len(buf), len(marker)-1)
	for n := longest; n > 0; n-- {
		if bytes.HasSuffix(buf, []byte(marker[:n])) {
			return n
		}
	}
	return 0
}
