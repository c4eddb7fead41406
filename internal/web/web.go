// Package web is the phone daemon's HTTP surface: UI state for the event
// list, the toggle endpoints that feed the preference store, the watch's
// sync pull-request endpoint, and the alert dismiss action.
package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"kairos/internal/alarm"
	appLog "kairos/internal/log"
	"kairos/internal/model"
	"kairos/internal/sched"
	"kairos/internal/wear"
)

// Server serves the phone API.
type Server struct {
	coord   *sched.Coordinator
	pusher  *wear.Pusher
	alerter *alarm.Alerter
	mux     *http.ServeMux

	// In-memory cache for /api/events responses to avoid redundant
	// read/expand/annotate work on every HTTP request.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache
}

// NewServer constructs a Server. pusher and alerter may be nil in stripped
// setups; the matching endpoints then answer 404.
func NewServer(coord *sched.Coordinator, pusher *wear.Pusher, alerter *alarm.Alerter) *Server {
	s := &Server{
		coord:   coord,
		pusher:  pusher,
		alerter: alerter,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/events/toggle", s.handleToggle)
	s.mux.HandleFunc("/api/alarms/enabled", s.handleGlobalToggle)
	s.mux.HandleFunc("/api/alarms/dismiss", s.handleDismiss)
	s.mux.HandleFunc(wear.PathSyncRequest, s.handleSyncRequest)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events     []model.Event `json:"events"`
	RangeHours int           `json:"range_hours"`
}

// eventsCache holds a cached /api/events response and its timestamp.
type eventsCache struct {
	resp      eventsResponse
	updatedAt time.Time
}

// handleEvents returns the annotated upcoming-event list.
//
// GET /api/events?hours=24
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	hours := parseIntDefault(r.URL.Query().Get("hours"), 24)
	if hours <= 0 {
		hours = 24
	}

	const eventsCacheTTL = 30 * time.Second
	now := time.Now()

	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && ec.resp.RangeHours == hours && now.Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	events, err := s.coord.UpcomingEvents(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		appLog.Error("api events failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	resp := eventsResponse{Events: events, RangeHours: hours}

	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{resp: resp, updatedAt: time.Now()}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// toggleRequest is the body for /api/events/toggle.
type toggleRequest struct {
	ID             int64 `json:"id"`
	Start          int64 `json:"start"`
	Recurring      bool  `json:"recurring"`
	Enabled        bool  `json:"enabled"`
	AllOccurrences bool  `json:"all_occurrences"`
}

// handleToggle applies a per-event alarm toggle and re-evaluates.
//
// POST /api/events/toggle
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	ev := model.Event{ID: req.ID, StartMillis: req.Start, Recurring: req.Recurring}
	if err := s.coord.OnEventAlarmToggle(r.Context(), ev, req.Enabled, req.AllOccurrences); err != nil {
		appLog.Error("event toggle failed", err, "unique_id", ev.OccurrenceID())
		writeError(w, http.StatusInternalServerError, "toggle failed")
		return
	}

	s.invalidateEventsCache()
	w.WriteHeader(http.StatusNoContent)
}

// handleGlobalToggle flips the global alarm switch.
//
// POST /api/alarms/enabled  body: {"enabled": bool}
func (s *Server) handleGlobalToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	if err := s.coord.OnGlobalToggle(r.Context(), req.Enabled); err != nil {
		appLog.Error("global toggle failed", err)
		writeError(w, http.StatusInternalServerError, "toggle failed")
		return
	}

	s.invalidateEventsCache()
	w.WriteHeader(http.StatusNoContent)
}

// handleDismiss ends the active alert session.
//
// POST /api/alarms/dismiss?id=<uniqueID>
func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.alerter == nil {
		writeError(w, http.StatusNotFound, "no alert path")
		return
	}

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid id")
		return
	}

	s.alerter.Dismiss(int32(id))
	w.WriteHeader(http.StatusNoContent)
}

// handleSyncRequest is the watch's pull request: no payload, the answer is
// one immediate snapshot push and one preference push back to the watch.
func (s *Server) handleSyncRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.pusher == nil {
		writeError(w, http.StatusNotFound, "no sync peer")
		return
	}

	if err := s.pusher.Push(r.Context()); err != nil {
		appLog.Error("requested sync push failed", err)
		writeError(w, http.StatusBadGateway, "push failed")
		return
	}
	if err := s.pusher.PushPrefs(r.Context()); err != nil {
		appLog.Error("requested preference push failed", err)
		writeError(w, http.StatusBadGateway, "push failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) invalidateEventsCache() {
	s.eventsMu.Lock()
	s.eventsCache = nil
	s.eventsMu.Unlock()
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
