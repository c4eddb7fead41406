package wear

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"kairos/internal/bus"
	appLog "kairos/internal/log"
	"kairos/internal/prefs"
)

// Dismisser ends an active alert session by occurrence id.
type Dismisser interface {
	Dismiss(uniqueID int32)
}

// Listener is the watch-side receiving end of the sync channel. On each
// snapshot receipt it overwrites the cache wholesale, announces the update
// on the bus, and kicks an immediate scheduling sweep via onUpdated. On
// each preference receipt it replaces the local preference state and runs
// onPrefs, which cancels registrations the new state suppresses.
type Listener struct {
	cache     *Cache
	store     *prefs.Store
	bus       *bus.Bus
	onUpdated func()
	onPrefs   func()
	dismisser Dismisser
	mux       *http.ServeMux
}

// NewListener constructs the Listener. store may be nil when the daemon
// keeps no local preferences; onUpdated and onPrefs may be nil; dismisser
// may be nil when the daemon runs without an alert path.
func NewListener(cache *Cache, store *prefs.Store, b *bus.Bus, onUpdated, onPrefs func(), dismisser Dismisser) *Listener {
	l := &Listener{
		cache:     cache,
		store:     store,
		bus:       b,
		onUpdated: onUpdated,
		onPrefs:   onPrefs,
		dismisser: dismisser,
		mux:       http.NewServeMux(),
	}
	l.registerRoutes()
	return l
}

// Handler returns the HTTP handler serving the sync endpoints.
func (l *Listener) Handler() http.Handler {
	return l.mux
}

func (l *Listener) registerRoutes() {
	l.mux.HandleFunc("/health", l.handleHealth)
	l.mux.HandleFunc(PathEvents24h, l.handleSnapshot)
	l.mux.HandleFunc(PathPrefs, l.handlePrefs)
	l.mux.HandleFunc("/api/alarms/dismiss", l.handleDismiss)
}

func (l *Listener) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSnapshot receives one full snapshot push from the phone. A payload
// that fails to decode leaves the cache untouched: corrupt data never
// propagates, and the next successful push self-heals the view.
func (l *Listener) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		appLog.Error("malformed snapshot payload rejected", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if err := l.cache.Replace(r.Context(), snap); err != nil {
		appLog.Error("snapshot cache replace failed", err)
		http.Error(w, "cache write failed", http.StatusInternalServerError)
		return
	}

	appLog.Info("snapshot received", "events", len(snap.Events), "generated_at", snap.GeneratedAt)

	if l.bus != nil {
		l.bus.Publish(bus.EventsUpdated{Events: FromWire(snap.Events)})
	}
	if l.onUpdated != nil {
		// The new cache immediately drives a fresh scheduling pass.
		l.onUpdated()
	}

	w.WriteHeader(http.StatusNoContent)
}

// handlePrefs receives the phone's preference state and replaces the local
// sets wholesale. Like the snapshot path, a payload that fails to decode
// leaves the store untouched.
func (l *Listener) handlePrefs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if l.store == nil {
		http.Error(w, "no preference store", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	var payload PrefsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		appLog.Error("malformed preference payload rejected", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := l.store.SetAlarmsEnabled(ctx, payload.AlarmsEnabled); err != nil {
		appLog.Error("preference apply failed", err)
		http.Error(w, "preference write failed", http.StatusInternalServerError)
		return
	}
	if err := l.store.SetVibrateOnly(ctx, payload.VibrateOnly); err != nil {
		appLog.Error("preference apply failed", err)
		http.Error(w, "preference write failed", http.StatusInternalServerError)
		return
	}
	if err := l.store.SetDisabledInstances(ctx, payload.DisabledInstances); err != nil {
		appLog.Error("preference apply failed", err)
		http.Error(w, "preference write failed", http.StatusInternalServerError)
		return
	}
	if err := l.store.SetDisabledSeries(ctx, payload.DisabledSeries); err != nil {
		appLog.Error("preference apply failed", err)
		http.Error(w, "preference write failed", http.StatusInternalServerError)
		return
	}

	appLog.Info("preferences received",
		"alarms_enabled", payload.AlarmsEnabled,
		"disabled_instances", len(payload.DisabledInstances),
		"disabled_series", len(payload.DisabledSeries))

	if l.onPrefs != nil {
		// The replicated state is a user toggle arriving over the wire, so
		// it may cancel registrations; the callback owns that.
		l.onPrefs()
	}

	w.WriteHeader(http.StatusNoContent)
}

func (l *Listener) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if l.dismisser == nil {
		http.Error(w, "no alert path", http.StatusNotFound)
		return
	}

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 32)
	if err != nil {
		http.Error(w, "missing or invalid id", http.StatusBadRequest)
		return
	}

	l.dismisser.Dismiss(int32(id))
	w.WriteHeader(http.StatusNoContent)
}
