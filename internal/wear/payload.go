// Package wear implements the phone-to-watch replication pipeline: the wire
// payload, the phone-side pusher, the watch-side listener, and the durable
// snapshot cache that feeds the watch's own scheduling sweeps.
package wear

import (
	"time"

	"kairos/internal/model"
)

// Fixed path schema shared by both ends of the sync channel.
const (
	// PathEvents24h carries the full next-24h snapshot, replace semantics.
	PathEvents24h = "/kairos/events24h"
	// PathSyncRequest is the watch-to-phone pull request: no payload, the
	// phone answers with one immediate push.
	PathSyncRequest = "/kairos/sync-request"
	// PathPrefs carries the phone's alarm preference state, replace
	// semantics. Without it a suppression set on the phone would leave the
	// watch alarming for the same occurrence.
	PathPrefs = "/kairos/prefs"
)

// SnapshotHorizon is how far ahead the pushed snapshot reaches.
const SnapshotHorizon = 24 * time.Hour

// WireEvent is one event record on the wire.
type WireEvent struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Start     int64  `json:"start"`
	Recurring bool   `json:"recurring"`
}

// Snapshot is the whole push payload: an atomic replacement of the watch's
// view of the next 24 hours, plus the generation timestamp.
type Snapshot struct {
	GeneratedAt int64       `json:"generatedAt"`
	Events      []WireEvent `json:"events"`
}

// PrefsPayload replicates the phone's alarm preferences wholesale. The
// suppression sets carry the same decimal keys both daemons derive locally,
// so an id disabled on the phone suppresses the matching occurrence after
// the watch re-derives it from the synced snapshot.
type PrefsPayload struct {
	GeneratedAt       int64    `json:"generatedAt"`
	AlarmsEnabled     bool     `json:"alarmsEnabled"`
	VibrateOnly       bool     `json:"vibrateOnly"`
	DisabledInstances []string `json:"disabledInstanceIds"`
	DisabledSeries    []string `json:"disabledSeriesIds"`
}

// ToWire converts model events into wire records.
func ToWire(events []model.Event) []WireEvent {
	out := make([]WireEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, WireEvent{
			ID:        ev.ID,
			Title:     ev.Title,
			Start:     ev.StartMillis,
			Recurring: ev.Recurring,
		})
	}
	return out
}

// FromWire converts wire records back into model events. AlarmEnabled is
// left unset; the watch derives it from its own preferences.
func FromWire(events []WireEvent) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, w := range events {
		out = append(out, model.Event{
			ID:          w.ID,
			Title:       w.Title,
			StartMillis: w.Start,
			Recurring:   w.Recurring,
		})
	}
	return out
}
