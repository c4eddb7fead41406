package sched

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into one callback: each Trigger
// arms (or re-arms) the timer, and the callback runs once the burst has
// been quiet for the configured duration.
type Debouncer struct {
	d  time.Duration
	fn func()

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer returns a Debouncer firing fn after d of quiet.
func NewDebouncer(d time.Duration, fn func()) *Debouncer {
	return &Debouncer{d: d, fn: fn}
}

// Trigger notes one occurrence of the underlying signal. Safe for
// concurrent use.
func (db *Debouncer) Trigger() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.timer != nil {
		db.timer.Reset(db.d)
		return
	}
	db.timer = time.AfterFunc(db.d, db.fire)
}

func (db *Debouncer) fire() {
	db.mu.Lock()
	db.timer = nil
	db.mu.Unlock()
	db.fn()
}

// Stop discards any pending callback.
func (db *Debouncer) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
}
