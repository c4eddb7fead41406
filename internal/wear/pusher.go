package wear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	appLog "kairos/internal/log"
	"kairos/internal/model"
	"kairos/internal/prefs"
)

// Source supplies candidate events for a time range. The phone's calendar
// adapter satisfies this.
type Source interface {
	Events(ctx context.Context, from, to time.Time) ([]model.Event, error)
}

// PrefsSource supplies the preference state to replicate. The phone's
// preference store satisfies this; nil means preferences are not pushed.
type PrefsSource interface {
	Snapshot(ctx context.Context) (prefs.Snapshot, error)
}

// Pusher computes the next-24h snapshot and the preference state on the
// phone and replicates both to the watch. Push errors are returned to the
// caller: the hosting cron sweep owns the retry cadence, and a failed push
// just leaves the watch stale until the next attempt.
type Pusher struct {
	src     Source
	prefs   PrefsSource
	peerURL string
	client  *http.Client
	now     func() time.Time
}

// NewPusher constructs a Pusher targeting the watch listener at peerURL
// (base URL, no path).
func NewPusher(src Source, store PrefsSource, peerURL string) *Pusher {
	return &Pusher{
		src:     src,
		prefs:   store,
		peerURL: peerURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
	}
}

// Push sends one whole snapshot. The payload replaces the watch's view
// atomically; there is no incremental protocol.
func (p *Pusher) Push(ctx context.Context) error {
	if p.peerURL == "" {
		appLog.Debug("no peer configured, push skipped")
		return nil
	}

	now := p.now()
	events, err := p.src.Events(ctx, now, now.Add(SnapshotHorizon))
	if err != nil {
		return fmt.Errorf("collect snapshot events: %w", err)
	}

	snap := Snapshot{
		GeneratedAt: now.UnixMilli(),
		Events:      ToWire(events),
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := p.post(ctx, PathEvents24h, body); err != nil {
		return fmt.Errorf("push snapshot: %w", err)
	}

	appLog.Info("snapshot pushed", "events", len(snap.Events), "generated_at", snap.GeneratedAt)
	return nil
}

// PushPrefs sends the current preference state, replace semantics. A
// suppression toggled on the phone reaches the watch through this path.
func (p *Pusher) PushPrefs(ctx context.Context) error {
	if p.peerURL == "" || p.prefs == nil {
		appLog.Debug("no peer or preference source, prefs push skipped")
		return nil
	}

	snap, err := p.prefs.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("collect preference state: %w", err)
	}

	payload := PrefsPayload{
		GeneratedAt:       p.now().UnixMilli(),
		AlarmsEnabled:     snap.AlarmsEnabled,
		VibrateOnly:       snap.VibrateOnly,
		DisabledInstances: setToSlice(snap.DisabledInstances),
		DisabledSeries:    setToSlice(snap.DisabledSeries),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode preference state: %w", err)
	}

	if err := p.post(ctx, PathPrefs, body); err != nil {
		return fmt.Errorf("push preferences: %w", err)
	}

	appLog.Info("preferences pushed",
		"disabled_instances", len(payload.DisabledInstances),
		"disabled_series", len(payload.DisabledSeries))
	return nil
}

func (p *Pusher) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.peerURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("peer returned %s", resp.Status)
	}
	return nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
