// Package debounce coalesces bursts of events into a single callback.
package debounce

import (
	"sync"
	"time"
)

// Timer runs fn once the quiet window has elapsed since the last Reset.
//
// Reset restarts the window, Fire runs fn immediately and cancels the
// pending run, Stop cancels without running. fn never runs concurrently
// with itself.
type Timer struct {
	quiet time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64 // bumps on every Reset/Fire/Stop; stale expirations are ignored
	stopped bool

	runMu sync.Mutex
}

// New creates a Timer. It does not start until the first Reset.
func New(quiet time.Duration, fn func()) *Timer {
	return &Timer{quiet: quiet, fn: fn}
}

// Reset (re)starts the quiet window.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.quiet, func() { t.expire(gen) })
}

// Pending reports whether a run is scheduled.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Fire runs fn now if a run was pending and reports whether it ran.
func (t *Timer) Fire() bool {
	t.mu.Lock()
	if t.timer == nil || t.stopped {
		t.mu.Unlock()
		return false
	}
	t.timer.Stop()
	t.timer = nil
	t.gen++
	t.mu.Unlock()

	t.run()
	return true
}

// Stop cancels any pending run. After Stop, Reset is a no-op.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Timer) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.stopped {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()

	t.run()
}

func (t *Timer) run() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.fn()
}
