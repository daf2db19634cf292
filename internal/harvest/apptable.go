// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package harvest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telemetryrelay/daemon/internal/appkey"
	"github.com/telemetryrelay/daemon/internal/ingestclient"
	"github.com/telemetryrelay/daemon/lib/clock"
)

// Table is the application table (spec §4.6): a mapping from
// application identity to harvest state, protected by a single lock
// around insertion, lookup, and eviction. Per-observation hot-path
// lookups hold this lock only long enough to obtain the entry handle;
// subsequent reservoir merges take only that reservoir's own lock.
type Table struct {
	mu          sync.Mutex
	entries     map[string]*Entry
	capacities  Capacities
	appTimeout  time.Duration
	clk         clock.Clock
	uploader    ingestclient.Uploader
	logger      *slog.Logger
	seedCounter atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	loops    sync.WaitGroup
}

// NewTable creates an empty application table. appTimeout is the
// inactivity window after which an idle entry is evicted at its own
// next harvest tick.
func NewTable(capacities Capacities, appTimeout time.Duration, clk clock.Clock, uploader ingestclient.Uploader, logger *slog.Logger) *Table {
	return &Table{
		entries:    make(map[string]*Entry),
		capacities: capacities,
		appTimeout: appTimeout,
		clk:        clk,
		uploader:   uploader,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// GetOrCreate returns the entry for identity, creating and starting
// its harvest loop if this is the first contact. Called by the
// listener on every connect frame.
func (t *Table) GetOrCreate(identity appkey.Identity, harvestInterval time.Duration) *Entry {
	key := identity.Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[key]; ok {
		return entry
	}

	seed := t.seedCounter.Add(1) + t.clk.Now().UnixNano()
	entry := newEntry(t.capacities, seed)
	entry.Touch(t.clk)
	t.entries[key] = entry

	// The ticker is registered before GetOrCreate returns, so a clock
	// advance made right after this call already reaches it.
	ticker := t.clk.NewTicker(harvestInterval)
	t.loops.Add(1)
	go t.runHarvestLoop(key, entry, ticker)

	return entry
}

// Get returns the entry for identity without creating one. Used by
// the listener to attribute an observation frame to an
// already-connected application.
func (t *Table) Get(identity appkey.Identity) (*Entry, bool) {
	key := identity.Key()
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	return entry, ok
}

// Len reports the number of live entries. Exposed for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// runHarvestLoop drives one entry's periodic swap-reduce-upload
// cycle on its own clock.Ticker until the table is stopped or the
// entry is evicted for inactivity.
func (t *Table) runHarvestLoop(key string, entry *Entry, ticker *clock.Ticker) {
	defer t.loops.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if entry.IdleSince(t.clk, t.appTimeout.Nanoseconds()) {
				entry.runHarvest(context.Background(), t.uploader, t.logger)
				t.evict(key, entry)
				return
			}
			entry.runHarvest(context.Background(), t.uploader, t.logger)
		case <-t.stop:
			entry.runHarvest(context.Background(), t.uploader, t.logger)
			return
		}
	}
}

// evict removes entry from the table if it is still the entry stored
// under key (it may have been replaced by a fresh connect after
// going idle, in which case eviction of the stale handle is a no-op)
// and closes its open connections.
func (t *Table) evict(key string, entry *Entry) {
	t.mu.Lock()
	current, ok := t.entries[key]
	if ok && current == entry {
		delete(t.entries, key)
	}
	t.mu.Unlock()

	entry.closeConnections(t.logger)
}

// Stop signals every running harvest loop to perform one final
// harvest and exit, implementing the worker's shutdown drain: a
// forced final harvest per entry (spec §5 "Cancellation"). Stop
// blocks until every loop's final Upload call has returned, so a
// caller that exits the process immediately after Stop returns
// cannot race a final harvest still in flight.
func (t *Table) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.loops.Wait()
}
