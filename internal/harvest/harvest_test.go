// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package harvest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/telemetryrelay/daemon/internal/appkey"
	"github.com/telemetryrelay/daemon/internal/ingestclient"
	"github.com/telemetryrelay/daemon/internal/reservoir"
	"github.com/telemetryrelay/daemon/lib/clock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCapacities() Capacities {
	return Capacities{Events: 10, MetricNames: 10, Errors: 10, SlowSamples: 10}
}

// fakeUploader records every upload and returns a scripted outcome.
type fakeUploader struct {
	mu      sync.Mutex
	outcome ingestclient.Outcome
	err     error
	uploads []fakeUpload
}

type fakeUpload struct {
	kind    string
	payload []byte
}

func (f *fakeUploader) Upload(_ context.Context, _, kind string, payload []byte) (ingestclient.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, fakeUpload{kind: kind, payload: payload})
	return f.outcome, f.err
}

func (f *fakeUploader) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func TestEntryHarvestUploadsOnlyNonEmptyReservoirs(t *testing.T) {
	entry := newEntry(testCapacities(), 1)
	entry.Metrics.Observe(reservoir.Metric{Name: "Custom/x", Count: 1, Total: 1, Min: 1, Max: 1})

	uploader := &fakeUploader{outcome: ingestclient.Accepted}
	entry.runHarvest(context.Background(), uploader, discardLogger())

	if uploader.uploadCount() != 1 {
		t.Fatalf("upload count = %d, want 1 (only the metric payload)", uploader.uploadCount())
	}
	if uploader.uploads[0].kind != string(kindMetrics) {
		t.Errorf("uploaded kind = %q, want %q", uploader.uploads[0].kind, kindMetrics)
	}
}

// TestHarvestLossOnFailure reproduces end-to-end scenario 6: a
// rejected upload discards the payload outright. Ten metrics observed,
// one forced harvest against a failing uploader, then a second forced
// harvest immediately after finds nothing left to upload.
func TestHarvestLossOnFailure(t *testing.T) {
	entry := newEntry(testCapacities(), 1)
	for i := 0; i < 10; i++ {
		entry.Metrics.Observe(reservoir.Metric{Name: "Custom/x", Count: 1, Total: float64(i), Min: float64(i), Max: float64(i)})
	}

	uploader := &fakeUploader{outcome: ingestclient.RejectedRetry}
	entry.runHarvest(context.Background(), uploader, discardLogger())

	if uploader.uploadCount() != 1 {
		t.Fatalf("first harvest upload count = %d, want 1", uploader.uploadCount())
	}
	if entry.Metrics.Len() != 0 {
		t.Fatalf("metric table after first harvest has %d names, want 0 (swapped out)", entry.Metrics.Len())
	}

	entry.runHarvest(context.Background(), uploader, discardLogger())
	if uploader.uploadCount() != 1 {
		t.Errorf("second harvest upload count = %d, want 1 (nothing left to upload)", uploader.uploadCount())
	}
}

func TestEntryDisconnectsOnRejectedPermanent(t *testing.T) {
	entry := newEntry(testCapacities(), 1)
	entry.SetRunToken("run-1")
	entry.Metrics.Observe(reservoir.Metric{Name: "Custom/x", Count: 1, Total: 1, Min: 1, Max: 1})

	uploader := &fakeUploader{outcome: ingestclient.RejectedPermanent}
	entry.runHarvest(context.Background(), uploader, discardLogger())

	if entry.Connected() {
		t.Error("entry still connected after rejected-permanent upload outcome")
	}
}

func TestEntryHarvestOrderIsFixed(t *testing.T) {
	entry := newEntry(testCapacities(), 1)
	entry.Analytics.Observe(reservoir.Event{Type: "t"})
	entry.Custom.Observe(reservoir.Event{Type: "t"})
	entry.Metrics.Observe(reservoir.Metric{Name: "x", Count: 1, Total: 1, Min: 1, Max: 1})
	entry.Errors.Observe(reservoir.ErrorRecord{Message: "boom"})
	entry.SlowSamples.Observe(reservoir.SlowSample{ID: "q1", MaxMicros: 10})

	uploader := &fakeUploader{outcome: ingestclient.Accepted}
	entry.runHarvest(context.Background(), uploader, discardLogger())

	want := []string{string(kindAnalyticEvents), string(kindCustomEvents), string(kindMetrics), string(kindErrors), string(kindSlowSamples)}
	if len(uploader.uploads) != len(want) {
		t.Fatalf("upload count = %d, want %d", len(uploader.uploads), len(want))
	}
	for i, kind := range want {
		if uploader.uploads[i].kind != kind {
			t.Errorf("upload[%d].kind = %q, want %q", i, uploader.uploads[i].kind, kind)
		}
	}
}

func TestTableGetOrCreateReturnsSameEntry(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	table := NewTable(testCapacities(), time.Minute, clk, &fakeUploader{outcome: ingestclient.Accepted}, discardLogger())
	defer table.Stop()

	identity := appkey.Identity{LicenseKey: "abc", AppNames: []string{"app"}}

	a := table.GetOrCreate(identity, time.Hour)
	b := table.GetOrCreate(identity, time.Hour)
	if a != b {
		t.Error("GetOrCreate returned different entries for the same identity")
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}
}

func TestTableGetMissingReturnsFalse(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	table := NewTable(testCapacities(), time.Minute, clk, &fakeUploader{outcome: ingestclient.Accepted}, discardLogger())
	defer table.Stop()

	_, ok := table.Get(appkey.Identity{LicenseKey: "missing"})
	if ok {
		t.Error("Get on an identity never created returned ok=true")
	}
}

// TestTableHarvestsOnTickerAdvance drives a live entry's background
// harvest loop through its actual ticker rather than calling
// runHarvest directly, proving the ticker wiring (not just the
// harvest logic it triggers) behaves as spec §4.3 describes: a
// metric observed before the interval elapses is uploaded once the
// fake clock is advanced past it.
func TestTableHarvestsOnTickerAdvance(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	uploader := &fakeUploader{outcome: ingestclient.Accepted}
	table := NewTable(testCapacities(), time.Hour, clk, uploader, discardLogger())
	defer table.Stop()

	identity := appkey.Identity{LicenseKey: "abc", AppNames: []string{"app"}}
	entry := table.GetOrCreate(identity, time.Minute)
	entry.Metrics.Observe(reservoir.Metric{Name: "Custom/x", Count: 1, Total: 1, Min: 1, Max: 1})

	clk.Advance(time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if uploader.uploadCount() >= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no upload observed after advancing the fake clock past the harvest interval")
}

// blockingUploader blocks inside Upload until release is closed, so a
// test can observe whether a caller waiting on Table.Stop returns
// before or after the in-flight final harvest actually completes.
type blockingUploader struct {
	release chan struct{}
	started chan struct{}
	done    atomic.Bool
}

func newBlockingUploader() *blockingUploader {
	return &blockingUploader{
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
}

func (b *blockingUploader) Upload(_ context.Context, _, _ string, _ []byte) (ingestclient.Outcome, error) {
	select {
	case <-b.started:
	default:
		close(b.started)
	}
	<-b.release
	b.done.Store(true)
	return ingestclient.Accepted, nil
}

// TestTableStopWaitsForFinalHarvest proves Stop blocks until every
// entry's forced final harvest (spec §5 "Cancellation") has actually
// finished its Upload call, not merely been signalled to start.
func TestTableStopWaitsForFinalHarvest(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	uploader := newBlockingUploader()
	table := NewTable(testCapacities(), time.Hour, clk, uploader, discardLogger())

	identity := appkey.Identity{LicenseKey: "abc", AppNames: []string{"app"}}
	entry := table.GetOrCreate(identity, time.Minute)
	entry.Metrics.Observe(reservoir.Metric{Name: "Custom/x", Count: 1, Total: 1, Min: 1, Max: 1})

	stopped := make(chan struct{})
	go func() {
		table.Stop()
		close(stopped)
	}()

	<-uploader.started

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight final harvest's Upload call completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(uploader.release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the final harvest's Upload call completed")
	}

	if !uploader.done.Load() {
		t.Error("Stop returned without the final harvest's Upload call having completed")
	}
}

func TestEntryReduceProducesValidJSON(t *testing.T) {
	entry := newEntry(testCapacities(), 1)
	entry.Metrics.Observe(reservoir.Metric{Name: "x", Count: 1, Total: 1, Min: 1, Max: 1})

	uploader := &fakeUploader{outcome: ingestclient.Accepted}
	entry.runHarvest(context.Background(), uploader, discardLogger())

	var metrics []reservoir.Metric
	if err := json.Unmarshal(uploader.uploads[0].payload, &metrics); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(metrics) != 1 || metrics[0].Name != "x" {
		t.Errorf("uploaded metrics = %+v", metrics)
	}
}
