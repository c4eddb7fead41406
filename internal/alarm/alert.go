package alarm

import (
	"context"
	"sync"
	"sync/atomic"

	"kairos/internal/bus"
	appLog "kairos/internal/log"
)

// SessionState tracks one alarm instance through the alert path.
type SessionState int32

const (
	StateScheduled SessionState = iota
	StateFired
	StateAlerting
	StateDismissed
)

func (s SessionState) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateFired:
		return "fired"
	case StateAlerting:
		return "alerting"
	case StateDismissed:
		return "dismissed"
	default:
		return "unknown"
	}
}

// Sounder starts and stops the looping alert sound/vibration session.
type Sounder interface {
	Start(vibrateOnly bool)
	Stop()
}

// Notifier posts and cancels the user-facing alert notification, addressed
// by the occurrence id so a dismissal hits the right one.
type Notifier interface {
	Post(uniqueID int32, title string)
	Cancel(uniqueID int32)
}

// LogSounder is the default Sounder for headless runs: it only logs.
type LogSounder struct{}

func (LogSounder) Start(vibrateOnly bool) {
	appLog.Info("alert session started", "vibrate_only", vibrateOnly)
}

func (LogSounder) Stop() {
	appLog.Info("alert session stopped")
}

// LogNotifier is the default Notifier for headless runs: it only logs.
type LogNotifier struct{}

func (LogNotifier) Post(uniqueID int32, title string) {
	appLog.Info("notification posted", "unique_id", uniqueID, "title", title)
}

func (LogNotifier) Cancel(uniqueID int32) {
	appLog.Info("notification cancelled", "unique_id", uniqueID)
}

// VibratePrefs supplies the vibrate-only flag at fire time.
type VibratePrefs interface {
	VibrateOnly(ctx context.Context) (bool, error)
}

// Alerter runs the alert path: it consumes AlarmFired messages, drives the
// Scheduled → Fired → Alerting → Dismissed state machine, and enforces the
// at-most-one-alerting-session invariant with a CAS latch. A fire that
// arrives while a session is alerting is folded into the active session.
type Alerter struct {
	sounder  Sounder
	notifier Notifier
	prefs    VibratePrefs

	// latch: held flips with CAS; activeID and state are only written by
	// the latch holder.
	held     atomic.Bool
	activeID atomic.Int32
	state    atomic.Int32

	// mu serializes session setup and teardown: a Dismiss can never observe
	// the latch held with the previous session's activeID.
	mu sync.Mutex
}

// NewAlerter constructs an Alerter. Nil collaborators fall back to the
// log-backed defaults; a nil prefs means vibrate-only is always false.
func NewAlerter(sounder Sounder, notifier Notifier, prefs VibratePrefs) *Alerter {
	if sounder == nil {
		sounder = LogSounder{}
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Alerter{sounder: sounder, notifier: notifier, prefs: prefs}
}

// Run consumes AlarmFired messages from b until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context, b *bus.Bus) {
	ch, cancel := b.Subscribe(8)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if fired, ok := msg.(bus.AlarmFired); ok {
				a.HandleFired(ctx, FirePayload{
					Title:       fired.Title,
					UniqueID:    fired.UniqueID,
					EventID:     fired.EventID,
					StartMillis: fired.StartMillis,
				})
			}
		}
	}
}

// HandleFired transitions a fired alarm into an alerting session. If a
// session is already active the fire is folded into it.
func (a *Alerter) HandleFired(ctx context.Context, p FirePayload) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.held.CompareAndSwap(false, true) {
		appLog.Info("alert already active, folding fire into existing session",
			"unique_id", p.UniqueID, "active_id", a.activeID.Load())
		return
	}

	a.state.Store(int32(StateFired))
	a.activeID.Store(p.UniqueID)
	a.state.Store(int32(StateAlerting))

	vibrateOnly := false
	if a.prefs != nil {
		if v, err := a.prefs.VibrateOnly(ctx); err == nil {
			vibrateOnly = v
		}
	}

	a.sounder.Start(vibrateOnly)
	a.notifier.Post(p.UniqueID, p.Title)
}

// Dismiss ends the alerting session addressed by uniqueID: stops sound and
// vibration, cancels the notification, and releases the latch. A dismissal
// for a different id, or with no active session, is a no-op.
func (a *Alerter) Dismiss(uniqueID int32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.held.Load() || a.activeID.Load() != uniqueID {
		return
	}

	a.sounder.Stop()
	a.notifier.Cancel(uniqueID)
	a.state.Store(int32(StateDismissed))
	a.activeID.Store(0)
	a.held.Store(false)

	appLog.Info("alert dismissed", "unique_id", uniqueID)
}

// Active returns the occurrence id of the alerting session, or false when
// no session is active.
func (a *Alerter) Active() (int32, bool) {
	if !a.held.Load() {
		return 0, false
	}
	return a.activeID.Load(), true
}

// State returns the current session state.
func (a *Alerter) State() SessionState {
	return SessionState(a.state.Load())
}
