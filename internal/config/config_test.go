package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LookaheadMinutes != 75 {
		t.Errorf("LookaheadMinutes = %d, want 75", cfg.LookaheadMinutes)
	}
	if cfg.SweepCron != "@every 1h" {
		t.Errorf("SweepCron = %q", cfg.SweepCron)
	}
	if !cfg.ExactAlarmsEnabled() {
		t.Error("exact alarms should default to enabled")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perms = %o, want 600", perm)
	}
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	partial := `
listen: "0.0.0.0:9000"
sources:
  - path: /tmp/cal.ics
    id: work
    name: Work
exact_alarms: false
`
	if err := os.WriteFile(path, []byte(partial), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.WatchSweepCron != "@every 15m" {
		t.Errorf("WatchSweepCron not defaulted: %q", cfg.WatchSweepCron)
	}
	if cfg.DebounceMillis != 3000 {
		t.Errorf("DebounceMillis not defaulted: %d", cfg.DebounceMillis)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].ID != "work" {
		t.Errorf("Sources = %+v", cfg.Sources)
	}
	if cfg.ExactAlarmsEnabled() {
		t.Error("exact_alarms: false should stick through Normalize")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.PeerURL = "http://10.0.0.2:8391"
	cfg.HorizonDays = 14

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.PeerURL != cfg.PeerURL {
		t.Errorf("PeerURL = %q, want %q", loaded.PeerURL, cfg.PeerURL)
	}
	if loaded.HorizonDays != 14 {
		t.Errorf("HorizonDays = %d, want 14", loaded.HorizonDays)
	}
}
