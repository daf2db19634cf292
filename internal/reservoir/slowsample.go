// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package reservoir

import (
	"encoding/json"
	"fmt"
	"sync"
)

// SlowSample is a single slow-operation record: a database query, an
// external call, or any other timed segment an agent considers slow
// enough to report individually rather than fold into a metric. ID is
// an agent-assigned identifier for the operation shape (e.g. a
// normalized query text hash); records sharing an ID are merged
// rather than kept as separate entries.
type SlowSample struct {
	ID          string
	Count       int64
	TotalMicros uint64
	MinMicros   uint64
	MaxMicros   uint64
	MetricName  string
	Query       string
	TxnName     string
	TxnURL      string
	Params      []byte
}

func (s *SlowSample) merge(other SlowSample) {
	s.Count += other.Count
	s.TotalMicros += other.TotalMicros
	if other.MinMicros < s.MinMicros {
		s.MinMicros = other.MinMicros
	}
	if other.MaxMicros > s.MaxMicros {
		s.MaxMicros = other.MaxMicros
		// The slowest occurrence's context is the most useful one to
		// report, so its descriptive fields replace the merged record's.
		s.MetricName = other.MetricName
		s.Query = other.Query
		s.TxnName = other.TxnName
		s.TxnURL = other.TxnURL
		s.Params = other.Params
	}
}

// SlowSampleReservoir retains at most capacity distinct slow samples
// per harvest cycle. A new sample whose ID matches a retained one
// merges into it regardless of capacity; a new sample with an unseen
// ID is admitted only if there is room, or if it is slower than the
// fastest (least interesting) retained sample, which it then evicts.
type SlowSampleReservoir struct {
	mu    sync.Mutex
	cap   int
	items []SlowSample
}

// NewSlowSampleReservoir creates a reservoir retaining at most
// capacity distinct slow samples per harvest cycle.
func NewSlowSampleReservoir(capacity int) *SlowSampleReservoir {
	return &SlowSampleReservoir{cap: capacity}
}

func (r *SlowSampleReservoir) find(id string) int {
	for i := range r.items {
		if r.items[i].ID == id {
			return i
		}
	}
	return -1
}

// fastest returns the index of the retained sample with the smallest
// MaxMicros, breaking ties in favor of the first one encountered.
func (r *SlowSampleReservoir) fastest() int {
	best := 0
	for i := 1; i < len(r.items); i++ {
		if r.items[i].MaxMicros < r.items[best].MaxMicros {
			best = i
		}
	}
	return best
}

// Observe merges item into a matching retained sample if one exists
// by ID; otherwise it is appended if there is room, or it replaces
// the fastest (smallest MaxMicros) retained sample if item is slower
// than that victim. A new sample no slower than the current fastest
// retained sample is dropped. item must be a SlowSample.
func (r *SlowSampleReservoir) Observe(item any) error {
	sample, ok := item.(SlowSample)
	if !ok {
		return fmt.Errorf("reservoir: slow sample reservoir got %T, want SlowSample", item)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.find(sample.ID); i >= 0 {
		r.items[i].merge(sample)
		return nil
	}

	if len(r.items) < r.cap {
		r.items = append(r.items, sample)
		return nil
	}

	victim := r.fastest()
	if sample.MaxMicros > r.items[victim].MaxMicros {
		r.items[victim] = sample
	}
	return nil
}

// Swap atomically detaches the current contents into a retired
// reservoir and leaves this one empty with the same capacity.
func (r *SlowSampleReservoir) Swap() Capability {
	r.mu.Lock()
	defer r.mu.Unlock()

	retired := &SlowSampleReservoir{cap: r.cap, items: r.items}
	r.items = nil
	return retired
}

// collectorTuple mirrors the collector's fixed-order wire
// representation for a slow sample: a plain JSON array rather than an
// object, in field order.
type collectorTuple struct {
	TxnName     string
	TxnURL      string
	ID          string
	Query       string
	MetricName  string
	Count       int64
	TotalMillis float64
	MinMillis   float64
	MaxMillis   float64
	Params      string
}

func (c collectorTuple) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		c.TxnName, c.TxnURL, c.ID, c.Query, c.MetricName,
		c.Count, c.TotalMillis, c.MinMillis, c.MaxMillis, c.Params,
	})
}

// Reduce marshals the retained samples into the collector's nested
// tuple-array shape: an outer array whose single element is the array
// of per-sample tuples. Returns nil, nil for an empty reservoir.
func (r *SlowSampleReservoir) Reduce() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == 0 {
		return nil, nil
	}

	tuples := make([]collectorTuple, 0, len(r.items))
	for _, s := range r.items {
		params, err := compressParams(s.Params)
		if err != nil {
			return nil, fmt.Errorf("reservoir: compress slow sample params: %w", err)
		}
		tuples = append(tuples, collectorTuple{
			TxnName:     s.TxnName,
			TxnURL:      s.TxnURL,
			ID:          s.ID,
			Query:       s.Query,
			MetricName:  s.MetricName,
			Count:       s.Count,
			TotalMillis: float64(s.TotalMicros) / 1000.0,
			MinMillis:   float64(s.MinMicros) / 1000.0,
			MaxMillis:   float64(s.MaxMicros) / 1000.0,
			Params:      params,
		})
	}

	return json.Marshal([][]collectorTuple{tuples})
}

// Len reports the number of distinct slow samples currently retained.
func (r *SlowSampleReservoir) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
