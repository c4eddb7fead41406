// Package calendar reads raw occurrences from the configured calendar
// sources: ICS files or directories of ICS files. It is a pure read path.
// A source that cannot be read (missing, permission denied) contributes an
// empty list rather than an error, so a daemon without calendar access
// degrades to "no candidates" instead of failing its sweeps.
package calendar

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kairos/internal/config"
	appLog "kairos/internal/log"
	"kairos/internal/model"
)

// Adapter reads events from a fixed set of sources into a time range.
type Adapter struct {
	sources []config.SourceConfig
	loc     *time.Location
}

// NewAdapter constructs an Adapter. If loc is nil, time.Local is used for
// recurrence expansion.
func NewAdapter(sources []config.SourceConfig, loc *time.Location) *Adapter {
	if loc == nil {
		loc = time.Local
	}
	return &Adapter{sources: sources, loc: loc}
}

// Events returns all occurrences across every readable source whose start
// falls in [from, to], sorted by start time. Individual unreadable sources
// or unparsable files are logged and skipped; the remaining sources still
// contribute.
func (a *Adapter) Events(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := make([]model.Event, 0)

	for _, src := range a.sources {
		parsed, ok := a.readSource(src)
		if !ok {
			continue
		}
		all = append(all, Expand(parsed, from, to, a.loc)...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].StartMillis != all[j].StartMillis {
			return all[i].StartMillis < all[j].StartMillis
		}
		return all[i].ID < all[j].ID
	})

	return all, nil
}

// readSource loads and parses every ICS file behind one source. The second
// return value is false when the source path is not readable at all.
func (a *Adapter) readSource(src config.SourceConfig) ([]ParsedEvent, bool) {
	info, err := os.Stat(src.Path)
	if err != nil {
		// Missing path and permission errors both mean "no calendar access";
		// that is a degraded state, not a failure.
		appLog.Warn("calendar source unreadable, skipping", "id", src.ID, "path", src.Path, "reason", err)
		return nil, false
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(src.Path)
		if err != nil {
			appLog.Warn("calendar source dir unreadable, skipping", "id", src.ID, "path", src.Path, "reason", err)
			return nil, false
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".ics") {
				continue
			}
			files = append(files, filepath.Join(src.Path, e.Name()))
		}
	} else {
		files = []string{src.Path}
	}

	parsed := make([]ParsedEvent, 0)
	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			appLog.Error("calendar file read failed", err, "id", src.ID, "file", f)
			continue
		}
		events, err := ParseICS(src.ID, body)
		if err != nil {
			appLog.Error("calendar file parse failed", err, "id", src.ID, "file", f)
			continue
		}
		parsed = append(parsed, events...)
	}

	return parsed, true
}
