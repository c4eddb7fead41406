// Package policy decides, for a set of candidate occurrences, which ones
// should have a pending exact alarm right now. It is a pure function of its
// inputs: callers re-run it in full after every sweep, reload, or preference
// change, and rely on the alarm table's idempotent schedule calls instead of
// tracking what was already registered.
package policy

import (
	"time"

	"kairos/internal/model"
)

// DefaultLookahead is the rolling window within which an occurrence is
// eligible for immediate alarm registration. Events further out are picked
// up by a later sweep as the window slides forward.
const DefaultLookahead = 75 * time.Minute

// Decision partitions the candidates of one evaluation pass.
//
// ToSkip is informational: skipped events are not actively cancelled, since
// an event merely outside the current window may carry a registration from
// an earlier, wider pass. Cancellation is driven by explicit toggles only.
type Decision struct {
	ToSchedule []model.Event
	ToSkip     []model.Event
}

// Evaluate applies the scheduling rules to candidates at the given instant.
//
//  1. If globalEnabled is false everything is skipped; the caller owns
//     cancelling whatever is already registered.
//  2. Only events with start in (now, now+window] survive. The lower bound
//     is strict so an event starting exactly "now" or in the past never
//     re-fires.
//  3. Instance suppression removes the single occurrence whose decimal
//     occurrence id is in disabledInstances; series suppression removes
//     every occurrence of a recurring event whose decimal series id is in
//     disabledSeries.
//
// Candidates are not de-duplicated: a duplicate occurrence id yields a
// redundant, idempotent schedule call downstream.
func Evaluate(candidates []model.Event, now time.Time, window time.Duration,
	globalEnabled bool, disabledInstances, disabledSeries map[string]struct{}) Decision {

	var d Decision

	if !globalEnabled {
		d.ToSkip = append(d.ToSkip, candidates...)
		return d
	}

	nowMs := now.UnixMilli()
	limitMs := now.Add(window).UnixMilli()

	for _, ev := range candidates {
		if ev.StartMillis <= nowMs || ev.StartMillis > limitMs {
			d.ToSkip = append(d.ToSkip, ev)
			continue
		}
		if !Eligible(ev, disabledInstances, disabledSeries) {
			d.ToSkip = append(d.ToSkip, ev)
			continue
		}
		d.ToSchedule = append(d.ToSchedule, ev)
	}

	return d
}

// Eligible reports whether the event passes the suppression sets alone,
// ignoring the time window. The UI uses this to show per-event alarm state
// for events that are not yet inside the lookahead window.
func Eligible(ev model.Event, disabledInstances, disabledSeries map[string]struct{}) bool {
	if _, ok := disabledInstances[ev.InstanceKey()]; ok {
		return false
	}
	if ev.Recurring {
		if _, ok := disabledSeries[ev.SeriesKey()]; ok {
			return false
		}
	}
	return true
}
