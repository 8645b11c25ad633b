package search

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers (keystrokes, filter mutations) into
// one callback after a quiet interval. Every Trigger resets the window.
type Debouncer struct {
	mu      sync.Mutex
	d       time.Duration
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a Debouncer with the given quiet interval.
func NewDebouncer(d time.Duration) *Debouncer {
	return &Debouncer{d: d}
}

// Trigger schedules fn after the quiet interval, replacing any pending
// callback. fn runs on a timer goroutine.
func (db *Debouncer) Trigger(fn func()) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.stopped {
		return
	}
	if db.timer != nil {
		db.timer.Stop()
	}
	db.timer = time.AfterFunc(db.d, fn)
}

// Stop cancels any pending callback and refuses further triggers. Safe to
// call on teardown even if nothing is pending.
func (db *Debouncer) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.stopped = true
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
}
