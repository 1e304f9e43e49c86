// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time { return epoch.Add(offset) }

func fill(series *Series, count int, step time.Duration) {
	for i := range count {
		ts := at(time.Duration(i) * step)
		series.Append(ts, ts, float64(i))
	}
}

func TestSeriesDropsOutOfOrderSamples(t *testing.T) {
	series := NewSeries(time.Hour)
	if !series.Append(at(2*time.Second), at(2*time.Second), 1) {
		t.Fatal("first append rejected")
	}
	if series.Append(at(2*time.Second), at(time.Second), 2) {
		t.Error("older sample accepted")
	}
	if series.Append(at(2*time.Second), at(2*time.Second), 3) {
		t.Error("duplicate timestamp accepted")
	}
	if series.Len() != 1 {
		t.Fatalf("Len = %d, want 1", series.Len())
	}
	last, _ := series.Last()
	if last.Value != 1 {
		t.Errorf("tail value = %v, want 1", last.Value)
	}
}

func TestSeriesEvictionDoesNotResurrect(t *testing.T) {
	series := NewSeries(10 * time.Minute)
	series.Append(at(0), at(0), 1)
	series.Append(at(11*time.Minute), at(11*time.Minute), 2)
	if series.Len() != 1 {
		t.Fatalf("Len after eviction = %d, want 1", series.Len())
	}
	if series.Append(at(11*time.Minute), at(0), 1) {
		t.Error("evicted sample re-appended")
	}
	samples := series.Query(at(11*time.Minute), time.Hour, 0, 0)
	if len(samples) != 1 || samples[0].Value != 2 {
		t.Fatalf("Query = %+v, want only the newest sample", samples)
	}
}

func TestSeriesQueryWindow(t *testing.T) {
	series := NewSeries(time.Hour)
	fill(series, 10, time.Minute)

	now := at(9 * time.Minute)
	samples := series.Query(now, 3*time.Minute, 0, 0)
	if len(samples) != 4 {
		t.Fatalf("got %d samples, want 4", len(samples))
	}
	for _, sample := range samples {
		if sample.Time.Before(now.Add(-3 * time.Minute)) {
			t.Errorf("sample at %v is outside the window", sample.Time)
		}
	}
}

func TestSeriesQueryDownsamplesToRealPoints(t *testing.T) {
	series := NewSeries(time.Hour)
	fill(series, 100, time.Second)

	samples := series.Query(at(99*time.Second), time.Hour, 10, 0)
	if len(samples) != 10 {
		t.Fatalf("got %d samples, want 10", len(samples))
	}
	if samples[0].Value != 0 || samples[9].Value != 99 {
		t.Errorf("endpoints = %v..%v, want 0..99", samples[0].Value, samples[9].Value)
	}
	for i, sample := range samples {
		if sample.Projected {
			t.Errorf("sample %d projected without a gap", i)
		}
		// Sample i was appended at i seconds with value i.
		if want := at(time.Duration(sample.Value) * time.Second); !sample.Time.Equal(want) {
			t.Errorf("sample %d = %+v is not a real point", i, sample)
		}
		if i > 0 && !sample.Time.After(samples[i-1].Time) {
			t.Errorf("sample %d out of order", i)
		}
	}
}

func TestSeriesQueryProjectsStalledFeed(t *testing.T) {
	series := NewSeries(time.Hour)
	fill(series, 20, time.Second)
	now := at(time.Minute)

	samples := series.Query(now, time.Hour, 0, 30*time.Second)
	if len(samples) != 21 {
		t.Fatalf("got %d samples, want 20 real plus one projected", len(samples))
	}
	last := samples[20]
	if !last.Projected || !last.Time.Equal(now) || last.Value != 19 {
		t.Errorf("projected point = %+v, want value 19 at now", last)
	}

	limited := series.Query(now, time.Hour, 5, 30*time.Second)
	if len(limited) != 5 {
		t.Fatalf("limited query returned %d samples, want 5", len(limited))
	}
	if !limited[4].Projected {
		t.Error("limited query lost the projected point")
	}

	fresh := series.Query(at(25*time.Second), time.Hour, 0, 30*time.Second)
	if fresh[len(fresh)-1].Projected {
		t.Error("projected a sample newer than the gap threshold")
	}
}

func TestSeriesQueryEmpty(t *testing.T) {
	series := NewSeries(time.Hour)
	if samples := series.Query(epoch, time.Minute, 10, time.Second); samples != nil {
		t.Errorf("empty series returned %v", samples)
	}
}
