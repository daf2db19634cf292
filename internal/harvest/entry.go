// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

// Package harvest implements the per-application aggregation state
// (the application table) and the periodic swap-reduce-upload cycle
// that drains it. One Entry exists per distinct application identity
// seen on the listener; one goroutine per Entry drives its harvest
// tick independently of every other entry's.
package harvest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/telemetryrelay/daemon/internal/ingestclient"
	"github.com/telemetryrelay/daemon/internal/reservoir"
	"github.com/telemetryrelay/daemon/lib/clock"
)

// payloadKind names the wire-level data type a reduced reservoir
// uploads as, mirroring the collector's own vocabulary for these
// endpoints.
type payloadKind string

const (
	kindAnalyticEvents payloadKind = "analytic_event_data"
	kindCustomEvents   payloadKind = "custom_event_data"
	kindMetrics        payloadKind = "metric_data"
	kindErrors         payloadKind = "error_data"
	kindSlowSamples    payloadKind = "sql_trace_data"
)

// harvestOrder is the fixed sequence payloads are uploaded in per
// entry, so that a later payload's failure never retroactively
// invalidates an earlier payload's already-accepted upload.
var harvestOrder = []struct {
	kind       payloadKind
	reservoirs func(*Entry) reservoir.Capability
}{
	{kindAnalyticEvents, func(e *Entry) reservoir.Capability { return e.Analytics }},
	{kindCustomEvents, func(e *Entry) reservoir.Capability { return e.Custom }},
	{kindMetrics, func(e *Entry) reservoir.Capability { return e.Metrics }},
	{kindErrors, func(e *Entry) reservoir.Capability { return e.Errors }},
	{kindSlowSamples, func(e *Entry) reservoir.Capability { return e.SlowSamples }},
}

// Entry is one application's harvest state: its reservoirs, its
// connection set, and the bookkeeping the application table needs to
// decide when the entry has gone idle. Mutated only by the listener
// (on observation ingest) and by its own harvest goroutine (on swap).
// Each reservoir is guarded by its own mutex, which both Observe and
// Swap take; entryMu guards only the run token, the connected flag and
// lastActivity, and is not held across the reservoirs.
type Entry struct {
	Analytics   *reservoir.EventReservoir
	Custom      *reservoir.EventReservoir
	Metrics     *reservoir.MetricTable
	Errors      *reservoir.ErrorReservoir
	SlowSamples *reservoir.SlowSampleReservoir

	entryMu sync.Mutex

	runToken     string
	connected    bool
	lastActivity int64 // unix nanoseconds, read/written only under entryMu

	connMu      sync.Mutex
	connections map[any]struct{}
}

// Capacities bounds the size of every reservoir kind a new entry is
// created with. Shared across all entries in a table.
type Capacities struct {
	Events      int // analytics and custom events share a capacity
	MetricNames int
	Errors      int
	SlowSamples int
}

func newEntry(cap Capacities, rngSeed int64) *Entry {
	return &Entry{
		Analytics:   reservoir.NewEventReservoir(cap.Events, newSeededRand(rngSeed)),
		Custom:      reservoir.NewEventReservoir(cap.Events, newSeededRand(rngSeed+1)),
		Metrics:     reservoir.NewMetricTable(cap.MetricNames),
		Errors:      reservoir.NewErrorReservoir(cap.Errors),
		SlowSamples: reservoir.NewSlowSampleReservoir(cap.SlowSamples),
		connections: make(map[any]struct{}),
	}
}

// Touch records that an observation or connect frame just arrived,
// resetting the entry's idle clock.
func (e *Entry) Touch(now clock.Clock) {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()
	e.lastActivity = now.Now().UnixNano()
}

// IdleSince reports whether the entry has had no activity for at
// least timeout, as of now.
func (e *Entry) IdleSince(now clock.Clock, timeoutNanos int64) bool {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()
	return now.Now().UnixNano()-e.lastActivity >= timeoutNanos
}

// SetRunToken records the application run token issued by the remote
// ingestion service on a successful connect, and marks the entry
// connected. Observations arriving before this call are dispatched
// into reservoirs normally; only uploads need the token.
func (e *Entry) SetRunToken(token string) {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()
	e.runToken = token
	e.connected = true
}

// Disconnect marks the entry as no longer holding a valid run token,
// forcing the next observation on this identity to re-initiate the
// connect handshake. Called after a rejected-permanent upload outcome
// per spec §4.3's fold-failure rule.
func (e *Entry) Disconnect() {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()
	e.connected = false
	e.runToken = ""
}

// Connected reports whether the entry currently holds a valid run
// token.
func (e *Entry) Connected() bool {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()
	return e.connected
}

// AddConnection registers a connection handle as belonging to this
// entry. The entry does not own the connection — it is a weak
// reference only used so the table can close an entry's connections
// on eviction.
func (e *Entry) AddConnection(conn any) {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	e.connections[conn] = struct{}{}
}

// RemoveConnection drops a connection handle from the entry's set.
// The entry itself outlives the connection's closing.
func (e *Entry) RemoveConnection(conn any) {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	delete(e.connections, conn)
}

// Closer is satisfied by a listener connection handle so the
// application table can close every connection of an evicted entry
// without importing the listener package.
type Closer interface {
	Close() error
}

// closeConnections closes every connection currently registered to
// the entry, best-effort, logging but not failing on close errors.
func (e *Entry) closeConnections(logger *slog.Logger) {
	e.connMu.Lock()
	conns := make([]any, 0, len(e.connections))
	for c := range e.connections {
		conns = append(conns, c)
	}
	e.connMu.Unlock()

	for _, c := range conns {
		closer, ok := c.(Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			logger.Warn("closing connection of evicted entry failed", "error", err)
		}
	}
}

// runHarvest performs one harvest tick: swap, reduce, upload, fold
// failure, exactly as spec §4.3 orders them. Payloads are uploaded
// sequentially in harvestOrder so that a later payload's rejection
// never retroactively invalidates an earlier payload already accepted
// by the remote service.
func (e *Entry) runHarvest(ctx context.Context, uploader ingestclient.Uploader, logger *slog.Logger) {
	e.entryMu.Lock()
	runToken := e.runToken
	e.entryMu.Unlock()

	for _, step := range harvestOrder {
		retired := step.reservoirs(e).Swap()

		payload, err := retired.Reduce()
		if err != nil {
			logger.Warn("reducing reservoir failed", "kind", step.kind, "error", err)
			continue
		}
		if payload == nil {
			continue
		}

		outcome, err := uploader.Upload(ctx, runToken, string(step.kind), payload)
		if err != nil {
			logger.Warn("harvest upload failed", "kind", step.kind, "error", err)
		}

		// All three outcomes discard the payload; a rejected-permanent
		// outcome additionally disconnects the entry so the next
		// observation re-initiates the connect handshake.
		if outcome == ingestclient.RejectedPermanent {
			e.Disconnect()
		}
	}
}
