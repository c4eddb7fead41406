package model

import (
	"strconv"
	"time"
)

// Event represents one concrete calendar occurrence, not a series. For a
// recurring event the same ID appears once per expanded occurrence, each
// with its own StartMillis.
type Event struct {
	// ID identifies the underlying calendar row. For recurring events it is
	// shared by every occurrence of the series.
	ID int64 `json:"id"`

	// Title may be empty; upstream calendars do not guarantee a summary.
	Title string `json:"title"`

	// StartMillis is the absolute occurrence start, milliseconds since epoch.
	StartMillis int64 `json:"start"`

	// Recurring reports whether this occurrence belongs to a repeating series.
	Recurring bool `json:"recurring"`

	// AlarmEnabled is derived from preference state at read time and is
	// never persisted on the event itself.
	AlarmEnabled bool `json:"alarm_enabled"`
}

// Start returns the occurrence start as a time.Time.
func (e Event) Start() time.Time {
	return time.UnixMilli(e.StartMillis)
}

// OccurrenceID returns the stable per-occurrence identity for this event.
func (e Event) OccurrenceID() int32 {
	return OccurrenceID(e.ID, e.StartMillis)
}

// InstanceKey returns the occurrence id in the decimal form used by the
// disabled-instance preference set.
func (e Event) InstanceKey() string {
	return strconv.FormatInt(int64(e.OccurrenceID()), 10)
}

// SeriesKey returns the series id in the decimal form used by the
// disabled-series preference set.
func (e Event) SeriesKey() string {
	return strconv.FormatInt(e.ID, 10)
}

// OccurrenceID derives the 32-bit occurrence identity from a calendar row id
// and an occurrence start in epoch milliseconds.
//
// The derivation concatenates the two decimal strings and applies the
// 31-multiplier string hash. Both daemons compute it independently from the
// same two fields, so an id derived on one device addresses the same
// occurrence on the other. It is hash-based: distinct inputs are extremely
// likely, not guaranteed, to produce distinct ids.
func OccurrenceID(id, startMillis int64) int32 {
	s := strconv.FormatInt(id, 10) + strconv.FormatInt(startMillis, 10)
	var h int32
	for i := 0; i < len(s); i++ {
		h = 31*h + int32(s[i])
	}
	return h
}
