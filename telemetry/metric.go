// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"strconv"
	"strings"
	"time"

	"github.com/mcpanel/mcpanel/protocol"
)

// Metric names a history series.
type Metric string

const (
	MetricTPS              Metric = "tps"
	MetricMSPT             Metric = "mspt"
	MetricMemoryPercent    Metric = "memory_percent"
	MetricCPUPercent       Metric = "cpu_percent"
	MetricSystemCPUPercent Metric = "system_cpu_percent"
	MetricThreadCount      Metric = "thread_count"
	MetricPlayerCount      Metric = "player_count"
	MetricNetworkRx        Metric = "network_rx"
	MetricNetworkTx        Metric = "network_tx"

	corePrefix = "cpu_core."
	diskPrefix = "disk:"
)

// CoreMetric names the load series of one CPU core.
func CoreMetric(core int) Metric {
	return Metric(corePrefix + strconv.Itoa(core))
}

// DiskMetric names the usage series of the filesystem mounted at path.
func DiskMetric(path string) Metric {
	return Metric(diskPrefix + path)
}

// ParseMetric validates a metric name from user input.
func ParseMetric(name string) (Metric, bool) {
	metric := Metric(name)
	switch metric {
	case MetricTPS, MetricMSPT, MetricMemoryPercent, MetricCPUPercent, MetricSystemCPUPercent,
		MetricThreadCount, MetricPlayerCount, MetricNetworkRx, MetricNetworkTx:
		return metric, true
	}
	if rest, ok := strings.CutPrefix(name, corePrefix); ok {
		_, err := strconv.Atoi(rest)
		return metric, err == nil
	}
	if rest, ok := strings.CutPrefix(name, diskPrefix); ok {
		return metric, rest != ""
	}
	return "", false
}

// point is one chartable value extracted from an event.
type point struct {
	metric Metric
	value  float64
}

// statusPoints lists the chartable values a status carries. Absent
// fields produce no point.
func statusPoints(status *protocol.Status) []point {
	var points []point
	add := func(metric Metric, value float64) {
		points = append(points, point{metric, value})
	}
	if status.TPS != nil {
		add(MetricTPS, *status.TPS)
	}
	if status.MSPT != nil {
		add(MetricMSPT, *status.MSPT)
	}
	if percent, ok := status.MemoryPercent(); ok {
		add(MetricMemoryPercent, percent)
	}
	if status.ProcessCPUPercent != nil {
		add(MetricCPUPercent, *status.ProcessCPUPercent)
	}
	if status.SystemCPUPercent != nil {
		add(MetricSystemCPUPercent, *status.SystemCPUPercent)
	}
	if status.ThreadCount != nil {
		add(MetricThreadCount, float64(*status.ThreadCount))
	}
	if status.PlayerCount != nil {
		add(MetricPlayerCount, float64(*status.PlayerCount))
	}
	for core, load := range status.CoreCPUPercent {
		add(CoreMetric(core), load)
	}
	for _, disk := range status.Disks {
		add(DiskMetric(disk.Path), disk.Percent())
	}
	if status.Network != nil {
		add(MetricNetworkRx, status.Network.RxBytesPerSecond)
		add(MetricNetworkTx, status.Network.TxBytesPerSecond)
	}
	return points
}

// History bundles query results for several metrics.
type History struct {
	Window  time.Duration       `json:"window"`
	Samples map[Metric][]Sample `json:"samples"`
}
