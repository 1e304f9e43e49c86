// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package completion answers command completion queries from the
// bridge's command tree.
//
// The tree arrives as a commandTree event (or from the bridge's dump
// file) and replaces the previous one wholesale. Until a tree has been
// received in this process, completion falls back to the root names of
// the last tree seen for the server, cached on disk. Complete never
// blocks: it reads an immutable index through an atomic pointer.
package completion

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/mcpanel/mcpanel/lib/clock"
	"github.com/mcpanel/mcpanel/lib/codec"
	"github.com/mcpanel/mcpanel/protocol"
)

// Sender writes a bridge request to a server's console.
// *session.Manager satisfies it.
type Sender interface {
	SendRequest(ctx context.Context, server string, request protocol.Request) error
}

// Config holds the parameters for NewEngine.
type Config struct {
	Server string

	// Sender carries FetchTree and RequestCompletions. Without one both
	// return an error.
	Sender Sender

	// CacheDirectory holds the fallback root list. Empty disables the
	// cache.
	CacheDirectory string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine is the completion index of one server.
type Engine struct {
	server    string
	sender    Sender
	cachePath string
	clock     clock.Clock
	logger    *slog.Logger

	current  atomic.Pointer[index]
	fallback atomic.Pointer[[]string]

	// setMu serializes SetTree so the digest check and the cache write
	// see a consistent current index.
	setMu sync.Mutex
}

// NewEngine returns an engine with no tree. A cached root list for the
// server, if present, becomes the fallback; an unreadable cache is
// logged and ignored.
func NewEngine(config Config) *Engine {
	engine := &Engine{
		server: config.Server,
		sender: config.Sender,
		clock:  config.Clock,
		logger: config.Logger,
	}
	if engine.clock == nil {
		engine.clock = clock.Real()
	}
	if engine.logger == nil {
		engine.logger = slog.New(slog.DiscardHandler)
	}
	if config.CacheDirectory != "" {
		engine.cachePath = cachePath(config.CacheDirectory, config.Server)
		record, err := readCache(engine.cachePath)
		switch {
		case err != nil:
			engine.logger.Warn("ignoring completion cache", "server", config.Server, "error", err)
		case record != nil:
			roots := record.Roots
			engine.fallback.Store(&roots)
			engine.logger.Debug("loaded completion cache",
				"server", config.Server, "roots", len(roots), "saved", record.Saved)
		}
	}
	return engine
}

// SetTree replaces the index with one built from tree. A tree
// identical to the current one is a no-op. A nil tree is ignored.
func (e *Engine) SetTree(tree *protocol.CommandTree) {
	if tree == nil {
		return
	}
	digest, err := treeDigest(tree)
	if err != nil {
		e.logger.Warn("hashing command tree failed", "server", e.server, "error", err)
	}

	e.setMu.Lock()
	defer e.setMu.Unlock()
	if current := e.current.Load(); current != nil && err == nil && current.digest == digest {
		return
	}
	idx := newIndex(tree, digest)
	e.current.Store(idx)
	e.logger.Debug("command tree installed", "server", e.server, "roots", len(idx.roots))

	if e.cachePath == "" {
		return
	}
	record := cacheRecord{
		Server: e.server,
		Digest: digest[:],
		Roots:  idx.roots,
		Saved:  e.clock.Now(),
	}
	if err := writeCache(e.cachePath, record); err != nil {
		e.logger.Warn("saving completion cache failed", "server", e.server, "error", err)
	}
}

// HasTree reports whether a tree has been received.
func (e *Engine) HasTree() bool {
	return e.current.Load() != nil
}

// Tree returns the current tree, or nil.
func (e *Engine) Tree() *protocol.CommandTree {
	if idx := e.current.Load(); idx != nil {
		return idx.tree
	}
	return nil
}

// Digest returns the hex BLAKE3 digest of the current tree, or "".
func (e *Engine) Digest() string {
	if idx := e.current.Load(); idx != nil {
		return hex.EncodeToString(idx.digest[:])
	}
	return ""
}

// Roots returns the root names completion currently draws from: the
// tree's, else the cached fallback, else nil.
func (e *Engine) Roots() []string {
	if idx := e.current.Load(); idx != nil {
		return idx.roots
	}
	if fallback := e.fallback.Load(); fallback != nil {
		return *fallback
	}
	return nil
}

// Complete returns the candidates for prefix in lexicographic order.
// A prefix without whitespace matches root names case-insensitively.
// A prefix with whitespace walks the tree and returns full-line
// candidates for the last word; that needs a received tree, so it
// yields nil against the fallback list.
func (e *Engine) Complete(prefix string) []string {
	prefix = strings.TrimPrefix(prefix, "/")
	idx := e.current.Load()
	if strings.ContainsAny(prefix, " \t") {
		if idx == nil {
			return nil
		}
		return idx.completeLine(prefix)
	}
	return matchRoots(e.Roots(), prefix)
}

// FetchTree asks the bridge for its full command tree. It returns once
// the request is written; the tree arrives later as a commandTree
// event.
func (e *Engine) FetchTree(ctx context.Context) error {
	if e.sender == nil {
		return fmt.Errorf("fetching command tree for %s: no sender", e.server)
	}
	if err := e.sender.SendRequest(ctx, e.server, protocol.CommandTreeRequest()); err != nil {
		return fmt.Errorf("fetching command tree for %s: %w", e.server, err)
	}
	return nil
}

// RequestCompletions asks the server itself to complete buffer. The
// answer arrives as a commandCompletions event.
func (e *Engine) RequestCompletions(ctx context.Context, buffer string) error {
	if e.sender == nil {
		return fmt.Errorf("requesting completions for %s: no sender", e.server)
	}
	return e.sender.SendRequest(ctx, e.server, protocol.CompleteRequest(buffer))
}

func treeDigest(tree *protocol.CommandTree) ([32]byte, error) {
	data, err := codec.Marshal(tree)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(data), nil
}
