// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for the
// harvest scheduler's per-application ticker.
//
// internal/harvest drives one background goroutine per application
// entry, ticking on a fixed harvest interval and checking an idle
// timeout against the current time. Both operations go through a
// Clock instead of calling time.Now/time.NewTicker directly, so tests
// can advance time deterministically rather than sleeping real
// wall-clock durations to observe a harvest fire.
//
// # Wiring pattern
//
//	type Table struct {
//	    clk clock.Clock
//	    // ...
//	}
//
// In production:
//
//	table := harvest.NewTable(capacities, appTimeout, clock.Real(), uploader, logger)
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	table := harvest.NewTable(capacities, appTimeout, c, uploader, logger)
//	c.Advance(harvestInterval) // fires one tick on every entry's ticker
package clock
