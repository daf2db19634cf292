// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called. Tickers created on it register
// pending waiters that fire when the clock advances past their
// deadline.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests driving relayd's
// per-application harvest ticker without waiting on real wall-clock
// time. Advance moves it forward and fires any ticker whose deadline
// falls within the new time.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	tickers []*fakeTicker
}

// fakeTicker is one pending or running ticker registered with a
// FakeClock.
type fakeTicker struct {
	deadline time.Time
	interval time.Duration
	channel  chan time.Time
	stopped  bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTicker returns a Ticker that delivers ticks on its C channel
// every time the clock is advanced past a multiple of d. Panics if
// d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	ticker := &fakeTicker{
		deadline: c.current.Add(d),
		interval: d,
		channel:  channel,
	}
	c.tickers = append(c.tickers, ticker)

	return &Ticker{
		C: channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			ticker.stopped = true
		},
	}
}

// Advance moves the clock forward by d and delivers a tick, in
// deadline order, to every ticker whose deadline falls within the new
// time. A ticker that has fallen behind by more than one interval
// still fires once per elapsed interval, matching time.Ticker's
// catch-up behavior; ticks that overflow the channel's buffer of 1
// are dropped rather than queued.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		fired := false
		c.mu.Lock()
		for _, ticker := range c.tickers {
			if ticker.stopped || ticker.deadline.After(target) {
				continue
			}
			select {
			case ticker.channel <- target:
			default:
			}
			ticker.deadline = ticker.deadline.Add(ticker.interval)
			fired = true
		}
		c.mu.Unlock()
		if !fired {
			return
		}
	}
}
