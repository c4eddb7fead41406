// Package sched ties the pieces together: it runs the periodic sweeps and
// the immediate re-evaluations that follow reloads and user toggles, and it
// owns the calendar-change observer and its debounce.
package sched

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"kairos/internal/alarm"
	"kairos/internal/bus"
	appLog "kairos/internal/log"
	"kairos/internal/model"
	"kairos/internal/policy"
	"kairos/internal/prefs"
)

// Source supplies candidate events for a time range: the calendar adapter
// on the phone, the snapshot cache on the watch.
type Source interface {
	Events(ctx context.Context, from, to time.Time) ([]model.Event, error)
}

// Pusher replicates the current snapshot to the peer. Nil on the watch.
type Pusher interface {
	Push(ctx context.Context) error
}

// Coordinator runs the scheduling passes. It keeps no sweep-to-sweep state
// in memory: each pass reloads candidates and preferences from their
// durable stores, evaluates in full, and issues idempotent schedule calls.
type Coordinator struct {
	src     Source
	prefs   *prefs.Store
	table   *alarm.Table
	bus     *bus.Bus
	window  time.Duration
	horizon time.Duration
	now     func() time.Time
}

// Options configures a Coordinator.
type Options struct {
	Source Source
	Prefs  *prefs.Store
	Table  *alarm.Table
	Bus    *bus.Bus

	// Window is the alarm-registration lookahead. Zero means
	// policy.DefaultLookahead.
	Window time.Duration

	// Horizon bounds how far ahead a sweep reads candidates. Zero means 31
	// days.
	Horizon time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		src:     opts.Source,
		prefs:   opts.Prefs,
		table:   opts.Table,
		bus:     opts.Bus,
		window:  opts.Window,
		horizon: opts.Horizon,
		now:     opts.Now,
	}
	if c.window <= 0 {
		c.window = policy.DefaultLookahead
	}
	if c.horizon <= 0 {
		c.horizon = 31 * 24 * time.Hour
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Reload loads candidates over the horizon, evaluates them against current
// preferences, and registers alarms for everything eligible inside the
// window. It is the immediate pass run after event-list or preference
// changes; the periodic sweep is the same computation from a fresh "now".
func (c *Coordinator) Reload(ctx context.Context) error {
	now := c.now()

	candidates, err := c.src.Events(ctx, now, now.Add(c.horizon))
	if err != nil {
		return fmt.Errorf("load candidates: %w", err)
	}

	snap, err := c.prefs.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	d := policy.Evaluate(candidates, now, c.window, snap.AlarmsEnabled,
		snap.DisabledInstances, snap.DisabledSeries)

	for _, ev := range d.ToSchedule {
		c.table.Schedule(ev)
	}

	appLog.Info("scheduling pass complete",
		"candidates", len(candidates),
		"scheduled", len(d.ToSchedule),
		"skipped", len(d.ToSkip),
	)

	if c.bus != nil {
		c.bus.Publish(bus.EventsUpdated{Events: c.annotate(candidates, snap)})
	}
	return nil
}

// annotate computes the derived per-event alarm flag for UI consumers.
func (c *Coordinator) annotate(events []model.Event, snap prefs.Snapshot) []model.Event {
	out := make([]model.Event, len(events))
	for i, ev := range events {
		ev.AlarmEnabled = snap.AlarmsEnabled &&
			policy.Eligible(ev, snap.DisabledInstances, snap.DisabledSeries)
		out[i] = ev
	}
	return out
}

// Sweep is the periodic entry point. Failures are contained here: they are
// logged and reported to the host scheduler, and the next run starts clean.
func (c *Coordinator) Sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("sweep panicked", fmt.Errorf("%v", r))
		}
	}()

	if err := c.Reload(ctx); err != nil {
		appLog.Error("sweep failed", err)
	}
}

// OnEventAlarmToggle applies a per-event user toggle. allOccurrences widens
// a disable to the whole series for recurring events. Disables cancel the
// registration immediately; enables re-evaluate the single event and
// register it if it is eligible inside the window right now.
func (c *Coordinator) OnEventAlarmToggle(ctx context.Context, ev model.Event, enabled, allOccurrences bool) error {
	if !enabled {
		if allOccurrences && ev.Recurring {
			if err := c.prefs.DisableSeries(ctx, ev.SeriesKey()); err != nil {
				return err
			}
			// Every registered occurrence of the series goes, not just the
			// one the user tapped.
			c.table.CancelSeries(ev.ID)
		} else {
			if err := c.prefs.DisableInstance(ctx, ev.InstanceKey()); err != nil {
				return err
			}
			c.table.Cancel(ev)
		}
		appLog.Info("alarm disabled by user",
			"unique_id", ev.OccurrenceID(), "series", allOccurrences && ev.Recurring)
		return nil
	}

	if allOccurrences && ev.Recurring {
		if err := c.prefs.EnableSeries(ctx, ev.SeriesKey()); err != nil {
			return err
		}
	}
	if err := c.prefs.EnableInstance(ctx, ev.InstanceKey()); err != nil {
		return err
	}

	snap, err := c.prefs.Snapshot(ctx)
	if err != nil {
		return err
	}
	d := policy.Evaluate([]model.Event{ev}, c.now(), c.window, snap.AlarmsEnabled,
		snap.DisabledInstances, snap.DisabledSeries)
	for _, e := range d.ToSchedule {
		c.table.Schedule(e)
	}

	appLog.Info("alarm enabled by user", "unique_id", ev.OccurrenceID(),
		"scheduled_now", len(d.ToSchedule) == 1)
	return nil
}

// OnGlobalToggle flips the global alarm switch. Turning it off cancels
// every pending registration (the policy engine itself never cancels);
// turning it on runs a full re-evaluation.
func (c *Coordinator) OnGlobalToggle(ctx context.Context, enabled bool) error {
	if err := c.prefs.SetAlarmsEnabled(ctx, enabled); err != nil {
		return err
	}

	if !enabled {
		c.table.CancelAll()
		appLog.Info("global alarms disabled, pending alarms cancelled")
		return nil
	}

	appLog.Info("global alarms enabled, re-evaluating")
	return c.Reload(ctx)
}

// OnPrefsReplicated applies preference state that arrived from the peer
// device. It carries user toggles, so unlike a sweep it cancels: pending
// registrations the new state suppresses are removed before the full
// re-evaluation registers anything newly eligible.
func (c *Coordinator) OnPrefsReplicated(ctx context.Context) error {
	snap, err := c.prefs.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	if !snap.AlarmsEnabled {
		c.table.CancelAll()
		appLog.Info("replicated preferences disable alarms, pending alarms cancelled")
		return nil
	}

	cancelled := c.table.CancelWhere(func(p alarm.FirePayload) bool {
		if _, ok := snap.DisabledInstances[strconv.FormatInt(int64(p.UniqueID), 10)]; ok {
			return true
		}
		if _, ok := snap.DisabledSeries[strconv.FormatInt(p.EventID, 10)]; ok {
			return true
		}
		return false
	})

	appLog.Info("replicated preferences applied", "cancelled", cancelled)
	return c.Reload(ctx)
}

// UpcomingEvents returns the annotated event list for UI consumers without
// touching the alarm table.
func (c *Coordinator) UpcomingEvents(ctx context.Context, span time.Duration) ([]model.Event, error) {
	now := c.now()
	events, err := c.src.Events(ctx, now, now.Add(span))
	if err != nil {
		return nil, err
	}
	snap, err := c.prefs.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return c.annotate(events, snap), nil
}
