// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry holds per-server bridge state: the latest status,
// roster, system info and command tree, plus time-windowed history of
// every chartable metric.
//
// A Store has one writer (the session goroutine delivering events via
// Apply) and any number of readers. Readers get an immutable Snapshot
// replaced atomically on every change, so a reader never observes a
// new roster next to an old status. History series carry their own
// locks and can be queried at any time.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpanel/mcpanel/lib/clock"
	"github.com/mcpanel/mcpanel/protocol"
)

const (
	// DefaultRetention is how much history each series keeps.
	DefaultRetention = 30 * time.Minute

	// DefaultGapThreshold is how stale the newest sample may be before
	// Query projects it forward to the present.
	DefaultGapThreshold = 30 * time.Second
)

// Snapshot is the current state of one server. Snapshots are never
// modified after publication; Apply builds a new one. Nil fields mean
// the bridge has not reported them.
type Snapshot struct {
	Server  string    `json:"server"`
	Version uint64    `json:"version"`
	Updated time.Time `json:"updated"`

	Status      *protocol.Status             `json:"status,omitempty"`
	Players     *protocol.PlayerRoster       `json:"players,omitempty"`
	SystemInfo  *protocol.SystemInfo         `json:"systemInfo,omitempty"`
	CommandTree *protocol.CommandTree        `json:"-"`
	Handshake   *protocol.Handshake          `json:"handshake,omitempty"`
	Completions *protocol.CommandCompletions `json:"completions,omitempty"`
}

// Detected reports whether the bridge has sent anything at all.
func (s *Snapshot) Detected() bool {
	return s.Version > 0
}

// StoreConfig holds the parameters for NewStore.
type StoreConfig struct {
	Server string

	// Clock stamps samples and drives retention. Defaults to
	// clock.Real().
	Clock clock.Clock

	Logger *slog.Logger

	// Retention defaults to DefaultRetention.
	Retention time.Duration

	// GapThreshold defaults to DefaultGapThreshold. Negative disables
	// projection.
	GapThreshold time.Duration

	// Archive, if set, receives every appended sample on Persist and
	// seeds history on Restore.
	Archive *Archive
}

// Store is the state of one server.
type Store struct {
	server       string
	clock        clock.Clock
	logger       *slog.Logger
	retention    time.Duration
	gapThreshold time.Duration
	archive      *Archive

	snapshot atomic.Pointer[Snapshot]

	// writeMu serializes Apply and guards unarchived.
	writeMu    sync.Mutex
	unarchived []ArchivedSample

	seriesMu sync.RWMutex
	series   map[Metric]*Series

	subscribersMu sync.Mutex
	subscribers   map[chan struct{}]struct{}
}

// NewStore returns an empty store.
func NewStore(config StoreConfig) *Store {
	store := &Store{
		server:       config.Server,
		clock:        config.Clock,
		logger:       config.Logger,
		retention:    config.Retention,
		gapThreshold: config.GapThreshold,
		archive:      config.Archive,
		series:       make(map[Metric]*Series),
		subscribers:  make(map[chan struct{}]struct{}),
	}
	if store.clock == nil {
		store.clock = clock.Real()
	}
	if store.logger == nil {
		store.logger = slog.New(slog.DiscardHandler)
	}
	if store.retention <= 0 {
		store.retention = DefaultRetention
	}
	if store.gapThreshold == 0 {
		store.gapThreshold = DefaultGapThreshold
	}
	store.snapshot.Store(&Snapshot{Server: config.Server})
	return store
}

// Server returns the server name the store was created for.
func (s *Store) Server() string { return s.server }

// Snapshot returns the current state. The result must not be modified.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Apply reduces one event into the store. Each kind replaces its
// snapshot field wholesale; status and roster events also append to
// history. Events of kinds the store does not track are ignored.
func (s *Store) Apply(event protocol.Event) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.clock.Now()
	previous := s.snapshot.Load()
	next := *previous

	var points []point
	switch payload := event.Payload.(type) {
	case *protocol.Status:
		next.Status = payload
		points = statusPoints(payload)
	case *protocol.PlayerRoster:
		// The player_count series comes from status reports only.
		next.Players = payload
	case *protocol.SystemInfo:
		next.SystemInfo = payload
	case *protocol.CommandTree:
		next.CommandTree = payload
	case *protocol.Handshake:
		next.Handshake = payload
	case *protocol.CommandCompletions:
		next.Completions = payload
	default:
		return
	}

	next.Version = previous.Version + 1
	next.Updated = now
	s.snapshot.Store(&next)

	for _, p := range points {
		if s.seriesFor(p.metric).Append(now, now, p.value) && s.archive != nil {
			s.unarchived = append(s.unarchived, ArchivedSample{
				Metric: p.metric,
				Sample: Sample{Time: now, Value: p.value},
			})
		}
	}
	s.notify()
}

// Query returns metric's history over window, thinned to maxSamples,
// with the last value projected to now when the feed has stalled. An
// unknown metric yields nil.
func (s *Store) Query(metric Metric, window time.Duration, maxSamples int) []Sample {
	s.seriesMu.RLock()
	series := s.series[metric]
	s.seriesMu.RUnlock()
	if series == nil {
		return nil
	}
	return series.Query(s.clock.Now(), window, maxSamples, s.gapThreshold)
}

// History queries several metrics at one instant. With no metrics
// listed, every known metric is included.
func (s *Store) History(window time.Duration, maxSamples int, metrics ...Metric) History {
	if len(metrics) == 0 {
		metrics = s.Metrics()
	}
	history := History{Window: window, Samples: make(map[Metric][]Sample, len(metrics))}
	now := s.clock.Now()
	s.seriesMu.RLock()
	defer s.seriesMu.RUnlock()
	for _, metric := range metrics {
		if series := s.series[metric]; series != nil {
			history.Samples[metric] = series.Query(now, window, maxSamples, s.gapThreshold)
		}
	}
	return history
}

// Metrics lists the metrics with history, sorted by name.
func (s *Store) Metrics() []Metric {
	s.seriesMu.RLock()
	defer s.seriesMu.RUnlock()
	metrics := make([]Metric, 0, len(s.series))
	for metric := range s.series {
		metrics = append(metrics, metric)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i] < metrics[j] })
	return metrics
}

// Subscribe returns a channel that receives a value after the snapshot
// changes. Notifications coalesce: a slow subscriber sees one pending
// signal, then reads the latest Snapshot. Call cancel to unsubscribe.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subscribersMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subscribersMu.Unlock()
	return ch, func() {
		s.subscribersMu.Lock()
		delete(s.subscribers, ch)
		s.subscribersMu.Unlock()
	}
}

// Persist writes samples appended since the last Persist to the
// archive. It is a no-op without an archive. On failure the samples
// are kept for the next attempt.
func (s *Store) Persist(ctx context.Context) error {
	if s.archive == nil {
		return nil
	}
	s.writeMu.Lock()
	pending := s.unarchived
	s.unarchived = nil
	s.writeMu.Unlock()

	if err := s.archive.Record(ctx, s.server, pending); err != nil {
		s.writeMu.Lock()
		s.unarchived = append(pending, s.unarchived...)
		s.writeMu.Unlock()
		return err
	}
	if _, err := s.archive.Prune(ctx, s.clock.Now().Add(-s.retention)); err != nil {
		s.logger.Warn("pruning history archive failed", "server", s.server, "error", err)
	}
	return nil
}

// Restore loads the retention window from the archive into history.
// It should run before the first Apply; samples not newer than a
// series' current tail are skipped.
func (s *Store) Restore(ctx context.Context) error {
	if s.archive == nil {
		return nil
	}
	now := s.clock.Now()
	loaded, err := s.archive.Load(ctx, s.server, now.Add(-s.retention))
	if err != nil {
		return fmt.Errorf("restoring %s history: %w", s.server, err)
	}
	restored := 0
	for metric, samples := range loaded {
		series := s.seriesFor(metric)
		for _, sample := range samples {
			if series.Append(now, sample.Time, sample.Value) {
				restored++
			}
		}
	}
	s.logger.Debug("history restored", "server", s.server, "metrics", len(loaded), "samples", restored)
	return nil
}

func (s *Store) seriesFor(metric Metric) *Series {
	s.seriesMu.RLock()
	series := s.series[metric]
	s.seriesMu.RUnlock()
	if series != nil {
		return series
	}
	s.seriesMu.Lock()
	defer s.seriesMu.Unlock()
	if series = s.series[metric]; series == nil {
		series = NewSeries(s.retention)
		s.series[metric] = series
	}
	return series
}

func (s *Store) notify() {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
