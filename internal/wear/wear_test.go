package wear

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
	"kairos/internal/bus"
	"kairos/internal/model"
	"kairos/internal/prefs"
	"kairos/internal/sched"
)

func setupCache(t *testing.T) *Cache {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cache, err := NewCache(db)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return cache
}

func setupPrefs(t *testing.T) *prefs.Store {
	t.Helper()
	db, err := prefs.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := prefs.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestCacheEmptyIsValid(t *testing.T) {
	cache := setupCache(t)

	snap, err := cache.Load(context.Background())
	if err != nil {
		t.Fatalf("Load on empty cache: %v", err)
	}
	if len(snap.Events) != 0 || snap.GeneratedAt != 0 {
		t.Errorf("empty cache should load empty, got %+v", snap)
	}
}

func TestCacheReplaceIsWholesale(t *testing.T) {
	cache := setupCache(t)
	ctx := context.Background()

	a := Snapshot{
		GeneratedAt: 100,
		Events: []WireEvent{
			{ID: 1, Title: "Standup", Start: 1000, Recurring: true},
			{ID: 2, Title: "Lunch", Start: 2000},
		},
	}
	b := Snapshot{
		GeneratedAt: 200,
		Events: []WireEvent{
			{ID: 3, Title: "Review", Start: 3000},
		},
	}

	if err := cache.Replace(ctx, a); err != nil {
		t.Fatalf("replace A: %v", err)
	}
	if err := cache.Replace(ctx, b); err != nil {
		t.Fatalf("replace B: %v", err)
	}

	got, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.GeneratedAt != 200 {
		t.Errorf("GeneratedAt = %d, want 200", got.GeneratedAt)
	}
	if len(got.Events) != 1 || got.Events[0].ID != 3 {
		t.Errorf("cache should contain exactly B's contents, got %+v", got.Events)
	}
}

func TestCacheEventsRangeFilter(t *testing.T) {
	cache := setupCache(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	snap := Snapshot{
		GeneratedAt: base.UnixMilli(),
		Events: []WireEvent{
			{ID: 1, Start: base.Add(-time.Hour).UnixMilli()},
			{ID: 2, Start: base.Add(time.Hour).UnixMilli()},
			{ID: 3, Start: base.Add(48 * time.Hour).UnixMilli()},
		},
	}
	if err := cache.Replace(ctx, snap); err != nil {
		t.Fatal(err)
	}

	events, err := cache.Events(ctx, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].ID != 2 {
		t.Errorf("range filter wrong, got %+v", events)
	}
}

func TestWireRoundTripPreservesIdentity(t *testing.T) {
	ev := model.Event{ID: 5, Title: "Gym", StartMillis: 123456, Recurring: true}

	back := FromWire(ToWire([]model.Event{ev}))
	if len(back) != 1 {
		t.Fatal("round trip lost the event")
	}
	// The watch re-derives the occurrence id from the synced fields; it must
	// match what the phone computed.
	if back[0].OccurrenceID() != ev.OccurrenceID() {
		t.Error("occurrence id differs after wire round trip")
	}
}

// fixedSource serves a static event list regardless of range.
type fixedSource []model.Event

func (f fixedSource) Events(_ context.Context, _, _ time.Time) ([]model.Event, error) {
	return f, nil
}

func TestPushReplacesListenerCache(t *testing.T) {
	cache := setupCache(t)
	b := bus.New()

	updated := make(chan struct{}, 1)
	listener := NewListener(cache, nil, b, func() { updated <- struct{}{} }, nil, nil)

	srv := httptest.NewServer(listener.Handler())
	defer srv.Close()

	events := []model.Event{
		{ID: 1, Title: "Standup", StartMillis: 5000, Recurring: true},
		{ID: 2, Title: "Lunch", StartMillis: 9000},
	}
	pusher := NewPusher(fixedSource(events), nil, srv.URL)

	if err := pusher.Push(context.Background()); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case <-updated:
	case <-time.After(time.Second):
		t.Fatal("listener did not trigger the post-sync sweep")
	}

	snap, err := cache.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Events) != 2 {
		t.Fatalf("cache has %d events, want 2", len(snap.Events))
	}
	if snap.GeneratedAt == 0 {
		t.Error("generation timestamp missing")
	}
	if snap.Events[0].Title != "Standup" || !snap.Events[0].Recurring {
		t.Errorf("event fields lost in transit: %+v", snap.Events[0])
	}
}

func TestListenerRejectsMalformedPayload(t *testing.T) {
	cache := setupCache(t)
	ctx := context.Background()

	// Seed the cache so we can verify it survives the bad push.
	seed := Snapshot{GeneratedAt: 1, Events: []WireEvent{{ID: 9, Start: 100}}}
	if err := cache.Replace(ctx, seed); err != nil {
		t.Fatal(err)
	}

	listener := NewListener(cache, nil, nil, nil, nil, nil)
	srv := httptest.NewServer(listener.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+PathEvents24h, "application/json", bytes.NewReader([]byte("{broken")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	snap, _ := cache.Load(ctx)
	if len(snap.Events) != 1 || snap.Events[0].ID != 9 {
		t.Errorf("malformed payload must leave the cache untouched, got %+v", snap.Events)
	}
}

func TestPushReportsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	pusher := NewPusher(fixedSource(nil), nil, srv.URL)
	if err := pusher.Push(context.Background()); err == nil {
		t.Error("non-2xx push must surface an error for the host's retry policy")
	}
}

func TestPrefsPushReachesWatchStore(t *testing.T) {
	ctx := context.Background()

	// Watch side: its own store behind the listener.
	watchStore := setupPrefs(t)
	applied := make(chan struct{}, 8)
	listener := NewListener(setupCache(t), watchStore, nil, nil, func() { applied <- struct{}{} }, nil)
	srv := httptest.NewServer(listener.Handler())
	defer srv.Close()

	// Phone side: a store with one instance and one series suppressed, and
	// vibrate-only set.
	phoneStore := setupPrefs(t)
	if err := phoneStore.DisableInstance(ctx, "12345"); err != nil {
		t.Fatal(err)
	}
	if err := phoneStore.DisableSeries(ctx, "7"); err != nil {
		t.Fatal(err)
	}
	if err := phoneStore.SetVibrateOnly(ctx, true); err != nil {
		t.Fatal(err)
	}

	pusher := NewPusher(fixedSource(nil), phoneStore, srv.URL)
	if err := pusher.PushPrefs(ctx); err != nil {
		t.Fatalf("PushPrefs: %v", err)
	}

	select {
	case <-applied:
	case <-time.After(time.Second):
		t.Fatal("listener did not run the post-apply callback")
	}

	snap, err := watchStore.Snapshot(ctx)
	if err != nil {
		t.Fatalf("watch snapshot: %v", err)
	}
	if _, ok := snap.DisabledInstances["12345"]; !ok {
		t.Error("phone-disabled instance missing from watch store")
	}
	if _, ok := snap.DisabledSeries["7"]; !ok {
		t.Error("phone-disabled series missing from watch store")
	}
	if !snap.VibrateOnly {
		t.Error("vibrate-only flag not replicated")
	}
}

func TestListenerRejectsMalformedPrefs(t *testing.T) {
	ctx := context.Background()
	watchStore := setupPrefs(t)
	if err := watchStore.DisableInstance(ctx, "keep"); err != nil {
		t.Fatal(err)
	}

	listener := NewListener(setupCache(t), watchStore, nil, nil, nil, nil)
	srv := httptest.NewServer(listener.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+PathPrefs, "application/json", bytes.NewReader([]byte("{broken")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	inst, _ := watchStore.DisabledInstances(ctx)
	if _, ok := inst["keep"]; !ok {
		t.Error("malformed payload must leave the store untouched")
	}
}

func TestPhoneDisableSuppressesWatchAlarm(t *testing.T) {
	ctx := context.Background()
	base := time.Now()

	// Full watch side: cache-fed coordinator behind the listener.
	watchStore := setupPrefs(t)
	cache := setupCache(t)
	table := alarm.NewTable(alarm.StaticGate(true), nil)
	coord := sched.NewCoordinator(sched.Options{
		Source:  cache,
		Prefs:   watchStore,
		Table:   table,
		Horizon: SnapshotHorizon,
		Now:     func() time.Time { return base },
	})
	listener := NewListener(cache, watchStore, nil,
		func() { coord.Sweep(ctx) },
		func() {
			if err := coord.OnPrefsReplicated(ctx); err != nil {
				t.Errorf("apply replicated prefs: %v", err)
			}
		},
		nil)
	srv := httptest.NewServer(listener.Handler())
	defer srv.Close()

	ev := model.Event{ID: 1, Title: "Standup", StartMillis: base.Add(30 * time.Minute).UnixMilli()}
	phoneStore := setupPrefs(t)
	pusher := NewPusher(fixedSource([]model.Event{ev}), phoneStore, srv.URL)

	if err := pusher.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !table.Pending(ev.OccurrenceID()) {
		t.Fatal("watch should register the synced occurrence inside the window")
	}

	// The user disables the occurrence on the phone; the preference push
	// must take the watch's registration down with it.
	if err := phoneStore.DisableInstance(ctx, ev.InstanceKey()); err != nil {
		t.Fatal(err)
	}
	if err := pusher.PushPrefs(ctx); err != nil {
		t.Fatalf("PushPrefs: %v", err)
	}

	if table.Pending(ev.OccurrenceID()) {
		t.Error("watch alarm still pending after the phone disabled the occurrence")
	}

	// And a later watch sweep must not resurrect it.
	coord.Sweep(ctx)
	if table.Pending(ev.OccurrenceID()) {
		t.Error("watch sweep re-scheduled a phone-suppressed occurrence")
	}
}

func TestSnapshotJSONShape(t *testing.T) {
	snap := Snapshot{GeneratedAt: 42, Events: []WireEvent{{ID: 1, Title: "X", Start: 7, Recurring: true}}}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"generatedAt":42`, `"id":1`, `"title":"X"`, `"start":7`, `"recurring":true`} {
		if !bytes.Contains(data, []byte(field)) {
			t.Errorf("payload missing %s: %s", field, data)
		}
	}
}
