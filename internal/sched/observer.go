package sched

import (
	"context"
	"errors"

	"github.com/fsnotify/fsnotify"

	appLog "kairos/internal/log"
)

// WatchSources observes the calendar source paths for changes and feeds
// every file event into deb. It is the content-observer analog: a burst of
// writes to the ICS files becomes one debounced reload+sync.
//
// Watching is best effort: if the watcher cannot be created or no path can
// be added, the daemon falls back to periodic sweeps only and this returns
// a non-nil error for the caller to log.
func WatchSources(ctx context.Context, paths []string, deb *Debouncer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	added := 0
	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			appLog.Warn("cannot watch calendar source", "path", p, "reason", err)
			continue
		}
		added++
	}
	if added == 0 {
		_ = watcher.Close()
		return errors.New("no watchable calendar source paths")
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				appLog.Debug("calendar change observed", "op", ev.Op.String(), "path", ev.Name)
				deb.Trigger()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				appLog.Error("calendar watcher error", err)
			}
		}
	}()

	return nil
}
