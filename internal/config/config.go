package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes a single calendar source: an ICS file or a
// directory of ICS files readable by the daemon.
type SourceConfig struct {
	// Path is the ICS file or directory.
	Path string `yaml:"path" json:"path"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
}

// Config is the top-level configuration shared by both daemons. Each binary
// reads the fields relevant to its role and ignores the rest.
type Config struct {
	// Listen is the HTTP listen address for this daemon's API.
	Listen string `yaml:"listen" json:"listen"`

	// PeerURL is the base URL of the other device. On the phone it points at
	// the watch listener (snapshot push target); on the watch it points at
	// the phone API (sync pull requests).
	PeerURL string `yaml:"peer_url" json:"peer_url"`

	// Timezone is the IANA timezone used when expanding recurring events.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DBPath is the SQLite database holding preferences (and, on the watch,
	// the synced snapshot cache).
	DBPath string `yaml:"db_path" json:"db_path"`

	// Sources is the list of calendar sources read by the phone daemon.
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// LookaheadMinutes is the rolling alarm-registration window: only events
	// starting within this many minutes of "now" get an exact alarm on a
	// given evaluation pass.
	LookaheadMinutes int `yaml:"lookahead_minutes" json:"lookahead_minutes"`

	// HorizonDays bounds how far ahead the phone sweep reads candidates.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// SweepCron is the phone-side periodic scheduling sweep cadence.
	SweepCron string `yaml:"sweep" json:"sweep"`

	// WatchSweepCron is the watch-side sweep cadence over the synced cache.
	WatchSweepCron string `yaml:"watch_sweep" json:"watch_sweep"`

	// PushCron is the cadence of phone-to-watch snapshot pushes.
	PushCron string `yaml:"push" json:"push"`

	// DebounceMillis is how long calendar-change notifications are coalesced
	// before one reload+push is triggered.
	DebounceMillis int `yaml:"debounce_ms" json:"debounce_ms"`

	// ExactAlarms reports whether the exact-alarm capability is granted.
	// When false, schedule calls are silent no-ops.
	ExactAlarms *bool `yaml:"exact_alarms,omitempty" json:"exact_alarms,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	enabled := true
	return &Config{
		Listen:           "127.0.0.1:8390",
		PeerURL:          "",
		Timezone:         "UTC",
		DBPath:           "./var/kairos.db",
		Sources:          []SourceConfig{},
		LookaheadMinutes: 75,
		HorizonDays:      31,
		SweepCron:        "@every 1h",
		WatchSweepCron:   "@every 15m",
		PushCron:         "@every 15m",
		DebounceMillis:   3000,
		ExactAlarms:      &enabled,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8390"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.DBPath == "" {
		c.DBPath = "./var/kairos.db"
	}
	if c.LookaheadMinutes <= 0 {
		c.LookaheadMinutes = 75
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 31
	}
	if c.SweepCron == "" {
		c.SweepCron = "@every 1h"
	}
	if c.WatchSweepCron == "" {
		c.WatchSweepCron = "@every 15m"
	}
	if c.PushCron == "" {
		c.PushCron = "@every 15m"
	}
	if c.DebounceMillis <= 0 {
		c.DebounceMillis = 3000
	}
	if c.ExactAlarms == nil {
		enabled := true
		c.ExactAlarms = &enabled
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
}

// ExactAlarmsEnabled reports the normalized exact-alarm capability flag.
func (c *Config) ExactAlarmsEnabled() bool {
	return c.ExactAlarms == nil || *c.ExactAlarms
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory if needed, write a
//     default config with 0600 perms, and return the default config.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path, atomically via
// a temp file + rename, with final permissions 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".kairos-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
