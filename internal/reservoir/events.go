// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package reservoir

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
)

// Event is a single analytics or custom event. Both kinds share the
// same record shape and the same replacement rule; they are
// distinguished only by which EventReservoir instance an application
// entry routes them to.
type Event struct {
	Type       string         `json:"type"`
	Timestamp  float64        `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// EventReservoir is a fixed-capacity sampler implementing classic
// reservoir sampling: every observed event, including ones eventually
// discarded, has an equal N/seen probability of being retained.
type EventReservoir struct {
	mu       sync.Mutex
	capacity int
	rng      *rand.Rand
	seen     uint64
	items    []Event
}

// NewEventReservoir creates a reservoir that retains at most capacity
// events. rng supplies the uniform random draws used for victim
// selection once the reservoir is full; tests pass a seeded
// rand.Rand for deterministic, repeatable sampling.
func NewEventReservoir(capacity int, rng *rand.Rand) *EventReservoir {
	return &EventReservoir{capacity: capacity, rng: rng}
}

// Observe applies the reservoir-sampling rule: while there is room,
// append; once full, draw r in [0, seen) and replace slot r if r
// falls within capacity. item must be an Event.
func (r *EventReservoir) Observe(item any) error {
	event, ok := item.(Event)
	if !ok {
		return fmt.Errorf("reservoir: event reservoir got %T, want Event", item)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seen++
	if len(r.items) < r.capacity {
		r.items = append(r.items, event)
		return nil
	}

	index := r.rng.Intn(int(r.seen)) //nolint:gosec // sampling weight, not security-sensitive.
	if index < r.capacity {
		r.items[index] = event
	}
	return nil
}

// Swap atomically detaches the current contents into a retired
// reservoir and leaves this one empty with a reset seen counter, same
// capacity and rng.
func (r *EventReservoir) Swap() Capability {
	r.mu.Lock()
	defer r.mu.Unlock()

	retired := &EventReservoir{capacity: r.capacity, rng: r.rng, seen: r.seen, items: r.items}
	r.items = nil
	r.seen = 0
	return retired
}

// Reduce marshals the retained events as a JSON array. Returns nil,
// nil for an empty reservoir so the harvest scheduler can skip the
// upload entirely rather than shipping an empty payload.
func (r *EventReservoir) Reduce() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == 0 {
		return nil, nil
	}
	return json.Marshal(r.items)
}

// Len reports the number of events currently retained. Exposed for
// tests asserting the capacity invariant.
func (r *EventReservoir) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
