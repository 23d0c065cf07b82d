// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package debounce coalesces bursts of calls into at most one call per delay.
package debounce

import (
	"sync"
	"sync/atomic"
	"time"
)

// Debouncer runs the latest submitted function once per delay window.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	latest  func()
	timer   *time.Timer
	stopped atomic.Bool
}

func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Do schedules fn to run when the current window closes, replacing whatever
// was scheduled before. After Stop or Cancel, fn runs immediately.
func (d *Debouncer) Do(fn func()) {
	if d.stopped.Load() {
		fn()
		return
	}

	d.mu.Lock()
	d.latest = fn
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
	}
	d.mu.Unlock()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	fn := d.latest
	d.latest = nil
	d.timer = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Queued reports whether a call is waiting for its window to close.
func (d *Debouncer) Queued() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop runs any pending call right away and disables debouncing.
func (d *Debouncer) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}
	if fn := d.drain(); fn != nil {
		fn()
	}
}

// Cancel discards any pending call and disables debouncing.
func (d *Debouncer) Cancel() {
	d.stopped.Store(true)
	d.drain()
}

func (d *Debouncer) drain() func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	fn := d.latest
	d.latest = nil
	return fn
}
