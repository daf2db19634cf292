// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package reservoir

import (
	"encoding/json"
	"testing"
)

func TestMetricTableMergesKnownName(t *testing.T) {
	tbl := NewMetricTable(10)
	tbl.Observe(Metric{Name: "Custom/Latency", Count: 1, Total: 10, Min: 10, Max: 10})
	tbl.Observe(Metric{Name: "Custom/Latency", Count: 1, Total: 30, Min: 30, Max: 30})

	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}

	retired := tbl.Swap().(*MetricTable)
	m := retired.data["Custom/Latency"]
	if m.Count != 2 || m.Total != 40 || m.Min != 10 || m.Max != 30 {
		t.Errorf("merged metric = %+v, want Count=2 Total=40 Min=10 Max=30", m)
	}
}

func TestMetricTableDropsOverCapUnknownNames(t *testing.T) {
	tbl := NewMetricTable(1)
	tbl.Observe(Metric{Name: "a", Count: 1, Total: 1, Min: 1, Max: 1})
	tbl.Observe(Metric{Name: "b", Count: 1, Total: 1, Min: 1, Max: 1})

	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
	if tbl.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", tbl.Dropped())
	}

	// A known name still merges even while the table is at its cap.
	tbl.Observe(Metric{Name: "a", Count: 1, Total: 5, Min: 5, Max: 5})
	if tbl.Len() != 1 {
		t.Errorf("Len() after merging known name = %d, want 1", tbl.Len())
	}
}

func TestMetricTableReduceAppendsDroppedSupportabilityMetric(t *testing.T) {
	tbl := NewMetricTable(1)
	tbl.Observe(Metric{Name: "a", Count: 1, Total: 1, Min: 1, Max: 1})
	tbl.Observe(Metric{Name: "b", Count: 1, Total: 1, Min: 1, Max: 1})

	payload, err := tbl.Reduce()
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	var metrics []Metric
	if err := json.Unmarshal(payload, &metrics); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("got %d metrics, want 2", len(metrics))
	}
	last := metrics[len(metrics)-1]
	if last.Name != "Supportability/MetricsDropped" || last.Count != 1 {
		t.Errorf("last metric = %+v, want Supportability/MetricsDropped with Count=1", last)
	}
}

func TestMetricTableReduceEmptyIsNil(t *testing.T) {
	tbl := NewMetricTable(10)
	payload, err := tbl.Reduce()
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if payload != nil {
		t.Errorf("Reduce on empty table = %q, want nil", payload)
	}
}

func TestMetricTableSwapResetsDropCounter(t *testing.T) {
	tbl := NewMetricTable(1)
	tbl.Observe(Metric{Name: "a", Count: 1, Total: 1, Min: 1, Max: 1})
	tbl.Observe(Metric{Name: "b", Count: 1, Total: 1, Min: 1, Max: 1})

	tbl.Swap()

	if tbl.Dropped() != 0 {
		t.Errorf("Dropped() after Swap = %d, want 0", tbl.Dropped())
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() after Swap = %d, want 0", tbl.Len())
	}
}
