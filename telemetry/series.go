// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"sync"
	"time"
)

// Sample is one point of a metric's history.
type Sample struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`

	// Projected marks a point Query synthesized by carrying the last
	// real value forward to the present.
	Projected bool `json:"projected,omitempty"`
}

// Series is the history of one metric: samples in strictly increasing
// time order, none older than the retention window.
type Series struct {
	mu        sync.RWMutex
	retention time.Duration
	samples   []Sample
}

// NewSeries returns an empty series keeping retention worth of
// samples.
func NewSeries(retention time.Duration) *Series {
	return &Series{retention: retention}
}

// Append adds a sample at the tail. now is the current time, used to
// evict samples older than the retention window. A sample that is not
// newer than the current tail, or already outside the window, is
// dropped and Append returns false.
func (s *Series) Append(now, timestamp time.Time, value float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.retention)
	if timestamp.Before(cutoff) {
		return false
	}
	if n := len(s.samples); n > 0 && !timestamp.After(s.samples[n-1].Time) {
		return false
	}
	s.samples = append(s.samples, Sample{Time: timestamp, Value: value})
	s.evictLocked(cutoff)
	return true
}

// Len returns the number of retained samples.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Last returns the newest sample.
func (s *Series) Last() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// Query returns the samples no older than now-window, thinned to at
// most maxSamples by uniform stride. Returned points are always real
// samples, except that when the newest sample is older than gap a
// Projected copy of it stamped now is appended (and counted against
// maxSamples). maxSamples <= 0 means no limit; gap <= 0 disables
// projection.
func (s *Series) Query(now time.Time, window time.Duration, maxSamples int, gap time.Duration) []Sample {
	s.mu.RLock()
	cutoff := now.Add(-window)
	if retained := now.Add(-s.retention); retained.After(cutoff) {
		cutoff = retained
	}
	start := len(s.samples)
	for i, sample := range s.samples {
		if !sample.Time.Before(cutoff) {
			start = i
			break
		}
	}
	selected := append([]Sample(nil), s.samples[start:]...)
	s.mu.RUnlock()

	if len(selected) == 0 {
		return nil
	}
	last := selected[len(selected)-1]
	project := gap > 0 && now.Sub(last.Time) > gap

	if maxSamples > 0 {
		limit := maxSamples
		if project {
			limit--
		}
		if limit == 0 {
			selected = nil
		} else {
			selected = downsample(selected, limit)
		}
	}
	if project {
		selected = append(selected, Sample{Time: now, Value: last.Value, Projected: true})
	}
	return selected
}

// downsample keeps limit evenly spaced samples including the first and
// last. limit <= 0 keeps everything.
func downsample(samples []Sample, limit int) []Sample {
	n := len(samples)
	if limit <= 0 || n <= limit {
		return samples
	}
	if limit == 1 {
		return samples[n-1:]
	}
	out := make([]Sample, limit)
	for k := range limit {
		out[k] = samples[k*(n-1)/(limit-1)]
	}
	return out
}

func (s *Series) evictLocked(cutoff time.Time) {
	drop := 0
	for drop < len(s.samples) && s.samples[drop].Time.Before(cutoff) {
		drop++
	}
	if drop == 0 {
		return
	}
	s.samples = s.samples[drop:]
	// Reallocate once the dead prefix dominates the backing array.
	if cap(s.samples) > 2*len(s.samples)+64 {
		s.samples = append([]Sample(nil), s.samples...)
	}
}
