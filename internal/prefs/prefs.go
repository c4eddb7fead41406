// Package prefs is the durable, observable preference store: the global
// alarm switch, the two suppression sets, and the small one-time flags the
// UI keeps. Every setting has a typed accessor; the underlying storage is a
// single SQLite key/value table.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS prefs (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	keyAlarmsEnabled      = "alarms_enabled"
	keyDisabledInstances  = "disabled_instance_ids"
	keyDisabledSeries     = "disabled_series_ids"
	keyVibrateOnly        = "vibrate_only"
	keyAutostartDismissed = "autostart_dismissed"
)

// Snapshot is a consistent read of every setting. Sweeps take one snapshot
// at the start of a pass instead of issuing per-key reads mid-flight.
type Snapshot struct {
	AlarmsEnabled      bool
	DisabledInstances  map[string]struct{}
	DisabledSeries     map[string]struct{}
	VibrateOnly        bool
	AutostartDismissed bool
}

// Store provides typed, durable access to all settings. Writes notify every
// subscriber with a fresh Snapshot after the row is committed.
type Store struct {
	db *sql.DB

	// setMu serializes the read-modify-write on the suppression-set rows so
	// concurrent toggles never overwrite each other's entries.
	setMu sync.Mutex

	mu   sync.Mutex
	subs map[int]chan Snapshot
	next int
}

// NewStore ensures the schema exists and returns a Store over db.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(context.Background(), schemaDDL); err != nil {
		return nil, fmt.Errorf("apply prefs schema: %w", err)
	}
	return &Store{db: db, subs: make(map[int]chan Snapshot)}, nil
}

// Subscribe registers for change notifications. Each successful write pushes
// one Snapshot; a subscriber that is not draining loses updates rather than
// blocking writers.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 4)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) notify(ctx context.Context) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Snapshot reads every setting at once.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.AlarmsEnabled, err = s.AlarmsEnabled(ctx); err != nil {
		return snap, err
	}
	if snap.DisabledInstances, err = s.DisabledInstances(ctx); err != nil {
		return snap, err
	}
	if snap.DisabledSeries, err = s.DisabledSeries(ctx); err != nil {
		return snap, err
	}
	if snap.VibrateOnly, err = s.VibrateOnly(ctx); err != nil {
		return snap, err
	}
	if snap.AutostartDismissed, err = s.AutostartDismissed(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

// AlarmsEnabled reports the global alarm switch. Default true.
func (s *Store) AlarmsEnabled(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyAlarmsEnabled, true)
}

func (s *Store) SetAlarmsEnabled(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, keyAlarmsEnabled, enabled)
}

// VibrateOnly reports whether alerts should skip the alarm tone. Default false.
func (s *Store) VibrateOnly(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyVibrateOnly, false)
}

func (s *Store) SetVibrateOnly(ctx context.Context, v bool) error {
	return s.setBool(ctx, keyVibrateOnly, v)
}

// AutostartDismissed reports whether the one-time autostart suggestion was
// dismissed. Default false.
func (s *Store) AutostartDismissed(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyAutostartDismissed, false)
}

func (s *Store) SetAutostartDismissed(ctx context.Context, v bool) error {
	return s.setBool(ctx, keyAutostartDismissed, v)
}

// DisabledInstances returns the set of suppressed occurrence ids, as the
// decimal strings produced by model.Event.InstanceKey.
func (s *Store) DisabledInstances(ctx context.Context) (map[string]struct{}, error) {
	return s.getSet(ctx, keyDisabledInstances)
}

func (s *Store) DisableInstance(ctx context.Context, key string) error {
	return s.addToSet(ctx, keyDisabledInstances, key)
}

func (s *Store) EnableInstance(ctx context.Context, key string) error {
	return s.removeFromSet(ctx, keyDisabledInstances, key)
}

// DisabledSeries returns the set of suppressed series ids, as the decimal
// strings produced by model.Event.SeriesKey.
func (s *Store) DisabledSeries(ctx context.Context) (map[string]struct{}, error) {
	return s.getSet(ctx, keyDisabledSeries)
}

func (s *Store) DisableSeries(ctx context.Context, key string) error {
	return s.addToSet(ctx, keyDisabledSeries, key)
}

func (s *Store) EnableSeries(ctx context.Context, key string) error {
	return s.removeFromSet(ctx, keyDisabledSeries, key)
}

// SetDisabledInstances replaces the disabled-instance set wholesale. Used
// when preference state arrives from the peer device.
func (s *Store) SetDisabledInstances(ctx context.Context, keys []string) error {
	return s.putSet(ctx, keyDisabledInstances, sliceToSet(keys))
}

// SetDisabledSeries replaces the disabled-series set wholesale.
func (s *Store) SetDisabledSeries(ctx context.Context, keys []string) error {
	return s.putSet(ctx, keyDisabledSeries, sliceToSet(keys))
}

func sliceToSet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func (s *Store) getRaw(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM prefs WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read pref %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) setRaw(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO prefs(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("write pref %s: %w", key, err)
	}
	s.notify(ctx)
	return nil
}

func (s *Store) getBool(ctx context.Context, key string, def bool) (bool, error) {
	raw, ok, err := s.getRaw(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	return raw == "true", nil
}

func (s *Store) setBool(ctx context.Context, key string, v bool) error {
	if v {
		return s.setRaw(ctx, key, "true")
	}
	return s.setRaw(ctx, key, "false")
}

// Sets are stored as JSON string arrays. A row that fails to decode is
// treated as empty; the next write rewrites it wholesale.
func (s *Store) getSet(ctx context.Context, key string) (map[string]struct{}, error) {
	out := make(map[string]struct{})

	raw, ok, err := s.getRaw(ctx, key)
	if err != nil || !ok {
		return out, err
	}

	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return out, nil
	}
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out, nil
}

func (s *Store) putSet(ctx context.Context, key string, set map[string]struct{}) error {
	data, err := encodeSet(set)
	if err != nil {
		return fmt.Errorf("encode pref set %s: %w", key, err)
	}

	s.setMu.Lock()
	defer s.setMu.Unlock()
	return s.setRaw(ctx, key, data)
}

// updateSet runs one read-modify-write on a set row inside a single
// transaction, under setMu. mutate reports whether it changed the set; an
// unchanged set skips the write and the notification.
func (s *Store) updateSet(ctx context.Context, key string, mutate func(map[string]struct{}) bool) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pref update %s: %w", key, err)
	}
	defer tx.Rollback()

	set := make(map[string]struct{})
	var raw string
	err = tx.QueryRowContext(ctx, "SELECT value FROM prefs WHERE key = ?", key).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read pref %s: %w", key, err)
	}
	if err == nil {
		var items []string
		if json.Unmarshal([]byte(raw), &items) == nil {
			for _, it := range items {
				set[it] = struct{}{}
			}
		}
	}

	if !mutate(set) {
		return nil
	}

	data, err := encodeSet(set)
	if err != nil {
		return fmt.Errorf("encode pref set %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO prefs(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, data); err != nil {
		return fmt.Errorf("write pref %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pref update %s: %w", key, err)
	}

	s.notify(ctx)
	return nil
}

func encodeSet(set map[string]struct{}) (string, error) {
	items := make([]string, 0, len(set))
	for it := range set {
		items = append(items, it)
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) addToSet(ctx context.Context, key, item string) error {
	return s.updateSet(ctx, key, func(set map[string]struct{}) bool {
		if _, ok := set[item]; ok {
			return false
		}
		set[item] = struct{}{}
		return true
	})
}

func (s *Store) removeFromSet(ctx context.Context, key, item string) error {
	return s.updateSet(ctx, key, func(set map[string]struct{}) bool {
		if _, ok := set[item]; !ok {
			return false
		}
		delete(set, item)
		return true
	})
}
