package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"kairos/internal/alarm"
	"kairos/internal/model"
	"kairos/internal/prefs"
	"kairos/internal/sched"
)

var now = time.UnixMilli(1_700_000_000_000)

type memorySource []model.Event

func (m memorySource) Events(_ context.Context, from, to time.Time) ([]model.Event, error) {
	out := make([]model.Event, 0, len(m))
	for _, ev := range m {
		if ev.StartMillis < from.UnixMilli() || ev.StartMillis > to.UnixMilli() {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func setupServer(t *testing.T, events []model.Event) (*httptest.Server, *alarm.Table, *prefs.Store) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := prefs.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	table := alarm.NewTable(alarm.StaticGate(true), nil)

	coord := sched.NewCoordinator(sched.Options{
		Source: memorySource(events),
		Prefs:  store,
		Table:  table,
		Now:    func() time.Time { return now },
	})

	srv := httptest.NewServer(NewServer(coord, nil, alarm.NewAlerter(nil, nil, nil)).Handler())
	t.Cleanup(srv.Close)
	return srv, table, store
}

func TestHealth(t *testing.T) {
	srv, _, _ := setupServer(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestEventsEndpointAnnotates(t *testing.T) {
	ev := model.Event{ID: 1, Title: "Standup", StartMillis: now.Add(2 * time.Hour).UnixMilli()}
	srv, _, _ := setupServer(t, []model.Event{ev})

	resp, err := http.Get(srv.URL + "/api/events?hours=24")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Events []model.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(body.Events))
	}
	if !body.Events[0].AlarmEnabled {
		t.Error("event should be annotated alarm-enabled by default")
	}
}

func TestToggleEndpointDisablesInstance(t *testing.T) {
	ev := model.Event{ID: 1, Title: "Standup", StartMillis: now.Add(30 * time.Minute).UnixMilli()}
	srv, table, store := setupServer(t, []model.Event{ev})

	table.Schedule(ev)

	body, _ := json.Marshal(map[string]any{
		"id": ev.ID, "start": ev.StartMillis, "recurring": false,
		"enabled": false, "all_occurrences": false,
	})
	resp, err := http.Post(srv.URL+"/api/events/toggle", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if table.Pending(ev.OccurrenceID()) {
		t.Error("toggle endpoint must cancel the pending alarm")
	}
	inst, _ := store.DisabledInstances(context.Background())
	if _, ok := inst[ev.InstanceKey()]; !ok {
		t.Error("instance id not persisted in disabled set")
	}
}

func TestGlobalToggleEndpoint(t *testing.T) {
	ev := model.Event{ID: 2, StartMillis: now.Add(10 * time.Minute).UnixMilli()}
	srv, table, store := setupServer(t, []model.Event{ev})
	table.Schedule(ev)

	resp, err := http.Post(srv.URL+"/api/alarms/enabled", "application/json",
		bytes.NewReader([]byte(`{"enabled": false}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if table.PendingCount() != 0 {
		t.Error("global off must cancel pending alarms")
	}
	if enabled, _ := store.AlarmsEnabled(context.Background()); enabled {
		t.Error("global flag not persisted")
	}
}

func TestSyncRequestWithoutPeer(t *testing.T) {
	srv, _, _ := setupServer(t, nil)

	resp, err := http.Post(srv.URL+"/kairos/sync-request", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when no pusher is wired", resp.StatusCode)
	}
}

func TestToggleRejectsMalformedBody(t *testing.T) {
	srv, _, _ := setupServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/events/toggle", "application/json",
		bytes.NewReader([]byte("{nope")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
