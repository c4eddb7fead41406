package calendar

import (
	"hash/fnv"
	"time"

	"github.com/teambition/rrule-go"

	appLog "kairos/internal/log"
	"kairos/internal/model"
)

// Safety cap so a pathological RRULE cannot blow up a sweep.
const maxOccurrencesPerEvent = 1000

// Expand turns parsed VEVENTs into concrete occurrences inside [from, to].
// Recurring events are expanded through their RRULE with EXDATEs removed;
// non-recurring events pass through if their start is in range.
func Expand(events []ParsedEvent, from, to time.Time, loc *time.Location) []model.Event {
	if loc == nil {
		loc = time.Local
	}

	out := make([]model.Event, 0, len(events))

	for _, ev := range events {
		id := SeriesID(ev.UID)

		if ev.RawRRule == "" {
			if ev.Start.Before(from) || ev.Start.After(to) {
				continue
			}
			out = append(out, model.Event{
				ID:          id,
				Title:       ev.Summary,
				StartMillis: ev.Start.In(loc).UnixMilli(),
			})
			continue
		}

		r, err := rrule.StrToRRule(ev.RawRRule)
		if err != nil {
			appLog.Error("rrule parse failed", err, "uid", ev.UID, "rrule", ev.RawRRule)
			continue
		}
		r.DTStart(ev.Start)

		var set rrule.Set
		set.RRule(r)
		for _, ex := range ev.ExDates {
			// Align EXDATE location with the event's start for comparison.
			set.ExDate(ex.In(ev.Start.Location()))
		}

		occTimes := set.Between(from.In(ev.Start.Location()), to.In(ev.Start.Location()), true)
		if len(occTimes) > maxOccurrencesPerEvent {
			appLog.Warn("rrule expansion truncated", "uid", ev.UID, "cap", maxOccurrencesPerEvent)
			occTimes = occTimes[:maxOccurrencesPerEvent]
		}

		for _, occ := range occTimes {
			out = append(out, model.Event{
				ID:          id,
				Title:       ev.Summary,
				StartMillis: occ.In(loc).UnixMilli(),
				Recurring:   true,
			})
		}
	}

	return out
}

// SeriesID maps an iCalendar UID onto the numeric series identity used for
// alarm addressing. FNV-1a keeps it stable across both daemons.
func SeriesID(uid string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(uid))
	return int64(h.Sum64())
}
