// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package reservoir

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Metric is a single metric observation merged into the metric
// table. A simple counter sample arrives with Count=1, Total equal
// to the observed value, and Min=Max=Total; an agent that
// pre-aggregates before sending fills in all fields directly.
type Metric struct {
	Name         string  `json:"name"`
	Count        float64 `json:"count"`
	Total        float64 `json:"total"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	SumOfSquares float64 `json:"sum_of_squares"`
}

func (m *Metric) merge(other Metric) {
	m.Count += other.Count
	m.Total += other.Total
	m.SumOfSquares += other.SumOfSquares
	if other.Min < m.Min {
		m.Min = other.Min
	}
	if other.Max > m.Max {
		m.Max = other.Max
	}
}

// MetricTable aggregates metrics by name. Once the table holds
// nameCap distinct names, further unknown names are dropped rather
// than merged; a known name is always merged regardless of the cap.
type MetricTable struct {
	mu      sync.Mutex
	nameCap int
	data    map[string]*Metric
	dropped uint64
}

// NewMetricTable creates a table that tracks at most nameCap distinct
// metric names.
func NewMetricTable(nameCap int) *MetricTable {
	return &MetricTable{nameCap: nameCap, data: make(map[string]*Metric)}
}

// Observe merges item into the table, or drops it if item names a
// metric not already present and the table is at its distinct-name
// cap. item must be a Metric.
func (t *MetricTable) Observe(item any) error {
	metric, ok := item.(Metric)
	if !ok {
		return fmt.Errorf("reservoir: metric table got %T, want Metric", item)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, found := t.data[metric.Name]; found {
		existing.merge(metric)
		return nil
	}

	if len(t.data) >= t.nameCap {
		t.dropped++
		return nil
	}

	copied := metric
	t.data[metric.Name] = &copied
	return nil
}

// Swap atomically detaches the current table contents into a retired
// table and leaves this one empty with the same name cap. The drop
// counter resets with the swap, since it is reported as a
// supportability metric of the harvest it belongs to.
func (t *MetricTable) Swap() Capability {
	t.mu.Lock()
	defer t.mu.Unlock()

	retired := &MetricTable{nameCap: t.nameCap, data: t.data, dropped: t.dropped}
	t.data = make(map[string]*Metric)
	t.dropped = 0
	return retired
}

// Reduce marshals the table as a JSON array of metrics sorted by
// name, with a trailing Supportability/MetricsDropped entry appended
// when names were dropped over the cap. Returns nil, nil when the
// table is empty and nothing was dropped.
func (t *MetricTable) Reduce() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.data) == 0 && t.dropped == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(t.data))
	for name := range t.data {
		names = append(names, name)
	}
	sort.Strings(names)

	metrics := make([]Metric, 0, len(names)+1)
	for _, name := range names {
		metrics = append(metrics, *t.data[name])
	}
	if t.dropped > 0 {
		metrics = append(metrics, Metric{
			Name:  "Supportability/MetricsDropped",
			Count: float64(t.dropped),
			Total: float64(t.dropped),
			Max:   float64(t.dropped),
		})
	}

	return json.Marshal(metrics)
}

// Len reports the number of distinct metric names currently held.
func (t *MetricTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data)
}

// Dropped reports the number of over-cap names dropped since the
// last swap.
func (t *MetricTable) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
