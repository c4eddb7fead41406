package wear

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kairos/internal/model"
)

const cacheSchemaDDL = `
CREATE TABLE IF NOT EXISTS snapshot_events (
	position  INTEGER PRIMARY KEY,
	event_id  INTEGER NOT NULL,
	title     TEXT NOT NULL,
	start_ms  INTEGER NOT NULL,
	recurring INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

const metaGeneratedAt = "generated_at"

// Cache is the watch-side durable copy of the last received snapshot. Each
// successful receipt overwrites it wholesale; there is no incremental merge.
// An empty cache is a valid state: no watch alarms until the first sync.
type Cache struct {
	db *sql.DB
}

// NewCache ensures the schema exists and returns a Cache over db.
func NewCache(db *sql.DB) (*Cache, error) {
	if _, err := db.ExecContext(context.Background(), cacheSchemaDDL); err != nil {
		return nil, fmt.Errorf("apply snapshot cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Replace overwrites the cache with snap's contents in one transaction.
func (c *Cache) Replace(ctx context.Context, snap Snapshot) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshot_events"); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	for i, ev := range snap.Events {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO snapshot_events(position, event_id, title, start_ms, recurring) VALUES(?, ?, ?, ?, ?)",
			i, ev.ID, ev.Title, ev.Start, boolToInt(ev.Recurring))
		if err != nil {
			return fmt.Errorf("insert snapshot event: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO snapshot_meta(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		metaGeneratedAt, snap.GeneratedAt)
	if err != nil {
		return fmt.Errorf("update snapshot meta: %w", err)
	}

	return tx.Commit()
}

// Load returns the cached snapshot. An empty cache yields a Snapshot with
// no events and zero GeneratedAt, not an error.
func (c *Cache) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	rows, err := c.db.QueryContext(ctx,
		"SELECT event_id, title, start_ms, recurring FROM snapshot_events ORDER BY position")
	if err != nil {
		return snap, fmt.Errorf("read snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev WireEvent
		var recurring int
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Start, &recurring); err != nil {
			return snap, fmt.Errorf("scan snapshot event: %w", err)
		}
		ev.Recurring = recurring != 0
		snap.Events = append(snap.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate snapshot: %w", err)
	}

	err = c.db.QueryRowContext(ctx,
		"SELECT value FROM snapshot_meta WHERE key = ?", metaGeneratedAt).Scan(&snap.GeneratedAt)
	if err != nil && err != sql.ErrNoRows {
		return snap, fmt.Errorf("read snapshot meta: %w", err)
	}

	return snap, nil
}

// Events makes the cache usable as a candidate source for the watch's
// scheduling sweeps: it returns cached events with start in [from, to].
func (c *Cache) Events(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	snap, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}

	fromMs := from.UnixMilli()
	toMs := to.UnixMilli()

	out := make([]model.Event, 0, len(snap.Events))
	for _, ev := range FromWire(snap.Events) {
		if ev.StartMillis < fromMs || ev.StartMillis > toMs {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
