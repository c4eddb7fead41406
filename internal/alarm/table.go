// Package alarm owns the exact-alarm table and the firing/alert path.
//
// Table is the in-process stand-in for the platform's exact-alarm facility:
// wake-capable timers keyed by occurrence id, with replace semantics so the
// policy engine can re-schedule idempotently on every pass.
package alarm

import (
	"sync"
	"time"

	appLog "kairos/internal/log"
	"kairos/internal/model"
)

// Gate is the exact-alarm capability check consulted before every schedule
// call. On platforms where the capability can be revoked at runtime this is
// backed by the OS; here it is typically a config flag.
type Gate interface {
	CanScheduleExact() bool
}

// StaticGate is a Gate with a fixed answer.
type StaticGate bool

func (g StaticGate) CanScheduleExact() bool { return bool(g) }

// FirePayload carries everything the alert path needs to render without
// re-querying the calendar.
type FirePayload struct {
	Title       string
	UniqueID    int32
	EventID     int64
	StartMillis int64
}

// Table registers and cancels exact wake triggers keyed by occurrence id.
//
// Schedule for an identity that already has a pending trigger replaces it;
// last write wins. Neither Schedule nor Cancel reports success or failure:
// a denied capability is a silent no-op, which is the accepted degraded
// mode, and anything else would be fatal at the OS boundary.
type Table struct {
	gate   Gate
	onFire func(FirePayload)
	now    func() time.Time

	mu      sync.Mutex
	pending map[int32]*pendingAlarm
}

type pendingAlarm struct {
	timer   *time.Timer
	payload FirePayload
}

// NewTable constructs a Table. onFire is invoked on the timer goroutine when
// a trigger fires; it must not block.
func NewTable(gate Gate, onFire func(FirePayload)) *Table {
	if gate == nil {
		gate = StaticGate(true)
	}
	if onFire == nil {
		onFire = func(FirePayload) {}
	}
	return &Table{
		gate:    gate,
		onFire:  onFire,
		now:     time.Now,
		pending: make(map[int32]*pendingAlarm),
	}
}

// Schedule registers a wake trigger at ev's start, replacing any pending
// trigger for the same occurrence id. When the exact-alarm capability is
// absent it silently does nothing.
func (t *Table) Schedule(ev model.Event) {
	if !t.gate.CanScheduleExact() {
		appLog.Debug("exact alarms unavailable, schedule skipped", "unique_id", ev.OccurrenceID())
		return
	}

	uid := ev.OccurrenceID()
	payload := FirePayload{
		Title:       ev.Title,
		UniqueID:    uid,
		EventID:     ev.ID,
		StartMillis: ev.StartMillis,
	}

	delay := time.UnixMilli(ev.StartMillis).Sub(t.now())
	if delay < 0 {
		delay = 0
	}

	t.mu.Lock()
	if old, ok := t.pending[uid]; ok {
		old.timer.Stop()
	}
	p := &pendingAlarm{payload: payload}
	p.timer = time.AfterFunc(delay, func() { t.fire(uid) })
	t.pending[uid] = p
	t.mu.Unlock()

	appLog.Debug("alarm scheduled", "unique_id", uid, "event_id", ev.ID, "start", ev.StartMillis)
}

func (t *Table) fire(uid int32) {
	t.mu.Lock()
	p, ok := t.pending[uid]
	if ok {
		delete(t.pending, uid)
	}
	t.mu.Unlock()

	if !ok {
		// Cancelled between timer expiry and this callback.
		return
	}

	appLog.Info("alarm fired", "unique_id", uid, "event_id", p.payload.EventID)
	t.onFire(p.payload)
}

// Cancel removes any pending trigger for ev's occurrence id. No-op if none
// exists.
func (t *Table) Cancel(ev model.Event) {
	t.CancelID(ev.OccurrenceID())
}

// CancelID removes any pending trigger for the given occurrence id.
func (t *Table) CancelID(uid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[uid]; ok {
		p.timer.Stop()
		delete(t.pending, uid)
		appLog.Debug("alarm cancelled", "unique_id", uid)
	}
}

// CancelWhere removes every pending trigger whose payload matches. Returns
// the number removed.
func (t *Table) CancelWhere(match func(FirePayload) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for uid, p := range t.pending {
		if !match(p.payload) {
			continue
		}
		p.timer.Stop()
		delete(t.pending, uid)
		removed++
		appLog.Debug("alarm cancelled", "unique_id", uid)
	}
	return removed
}

// CancelSeries removes every pending trigger belonging to the calendar
// series, so a series-wide disable catches occurrences registered before
// the toggle.
func (t *Table) CancelSeries(eventID int64) int {
	return t.CancelWhere(func(p FirePayload) bool { return p.EventID == eventID })
}

// CancelAll removes every pending trigger. Used when the global alarm
// switch turns off.
func (t *Table) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for uid, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, uid)
	}
}

// Pending reports whether a trigger is registered for the occurrence id.
func (t *Table) Pending(uid int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[uid]
	return ok
}

// PendingCount returns the number of registered triggers.
func (t *Table) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
