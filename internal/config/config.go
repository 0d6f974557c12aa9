package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OdooConfig describes the clinic-management backend the calendar talks to.
type OdooConfig struct {
	// BaseURL is prepended to every /agial/calendar/* path. Empty means the
	// backend is served from the same origin, which only makes sense in tests.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// SessionID, if set, seeds the cookie jar with Odoo's session_id cookie.
	SessionID string `yaml:"session_id,omitempty" json:"session_id,omitempty"`
	// Timeout bounds each HTTP call, e.g. "15s".
	Timeout string `yaml:"timeout" json:"timeout"`
}

// GridConfig is the base resolution of the time grid.
type GridConfig struct {
	StartHour   int `yaml:"start_hour" json:"start_hour"`
	EndHour     int `yaml:"end_hour" json:"end_hour"`
	SlotMinutes int `yaml:"slot_minutes" json:"slot_minutes"`
	SlotHeight  int `yaml:"slot_height" json:"slot_height"`

	// DefaultStep is the bookable step in minutes for cycles without a rule.
	DefaultStep int `yaml:"default_step" json:"default_step"`
	// CycleSteps maps a cycle-type name (case-insensitive) to its step in minutes.
	CycleSteps map[string]int `yaml:"cycle_steps" json:"cycle_steps"`
}

// AvailabilityConfig controls the slot availability cache.
type AvailabilityConfig struct {
	// FailOpen treats an unknown or empty availability set as "all slots
	// open". Turning it off blocks drops until the backend answers.
	FailOpen bool `yaml:"fail_open" json:"fail_open"`
	// TTL is how long fetched sets are reused for the same date+cycle.
	TTL string `yaml:"ttl" json:"ttl"`
	// RedisAddr enables a shared Redis backend when non-empty.
	RedisAddr     string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisPassword string `yaml:"redis_password,omitempty" json:"redis_password,omitempty"`
}

// CaptureConfig controls headless screenshots of the day sheet.
type CaptureConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	OutputPath string `yaml:"output_path" json:"output_path"`
	Width      int    `yaml:"width" json:"width"`
	Height     int    `yaml:"height" json:"height"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// WeekStart controls which weekday is treated as the first day of the week
	// in the week view. Supported values:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string (e.g. "*/5 * * * *")
	// used to reload the event store in the background.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// DemoFallback replaces an empty or failed load with the demo dataset.
	DemoFallback bool `yaml:"demo_fallback" json:"demo_fallback"`

	Odoo         OdooConfig         `yaml:"odoo" json:"odoo"`
	Grid         GridConfig         `yaml:"grid" json:"grid"`
	Availability AvailabilityConfig `yaml:"availability" json:"availability"`
	Capture      CaptureConfig      `yaml:"capture" json:"capture"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		LogLevel:     "info",
		WeekStart:    "sunday",
		RefreshCron:  "*/5 * * * *",
		DemoFallback: true,
		Odoo: OdooConfig{
			BaseURL: "http://localhost:8069",
			Timeout: "15s",
		},
		Grid: GridConfig{
			StartHour:   8,
			EndHour:     15,
			SlotMinutes: 5,
			SlotHeight:  24,
			DefaultStep: 15,
			CycleSteps:  map[string]int{"IUI": 20},
		},
		Availability: AvailabilityConfig{
			FailOpen: true,
			TTL:      "30s",
		},
		Capture: CaptureConfig{
			OutputPath: "/var/lib/agialcal/preview.png",
			Width:      1304,
			Height:     984,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	switch c.WeekStart {
	case "monday", "sunday":
		// ok
	default:
		c.WeekStart = def.WeekStart
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}

	c.Odoo.BaseURL = strings.TrimRight(c.Odoo.BaseURL, "/")
	if _, err := time.ParseDuration(c.Odoo.Timeout); err != nil {
		c.Odoo.Timeout = def.Odoo.Timeout
	}

	g := &c.Grid
	if g.StartHour < 0 || g.StartHour > 23 {
		g.StartHour = def.Grid.StartHour
	}
	if g.EndHour <= g.StartHour || g.EndHour > 24 {
		g.StartHour, g.EndHour = def.Grid.StartHour, def.Grid.EndHour
	}
	if g.SlotMinutes <= 0 || 60%g.SlotMinutes != 0 {
		g.SlotMinutes = def.Grid.SlotMinutes
	}
	if g.SlotHeight <= 0 {
		g.SlotHeight = def.Grid.SlotHeight
	}
	if g.DefaultStep <= 0 {
		g.DefaultStep = def.Grid.DefaultStep
	}
	if g.CycleSteps == nil {
		g.CycleSteps = def.Grid.CycleSteps
	}

	if _, err := time.ParseDuration(c.Availability.TTL); err != nil {
		c.Availability.TTL = def.Availability.TTL
	}

	if c.Capture.OutputPath == "" {
		c.Capture.OutputPath = def.Capture.OutputPath
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = def.Capture.Width
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = def.Capture.Height
	}
}

// ApplyEnv overrides file values with environment variables:
// ODOO_URL, ODOO_SESSION_ID, AGIAL_LISTEN, LOG_LEVEL.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ODOO_URL"); v != "" {
		c.Odoo.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("ODOO_SESSION_ID"); v != "" {
		c.Odoo.SessionID = v
	}
	if v := os.Getenv("AGIAL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// OdooTimeout returns the parsed per-request timeout.
func (c *Config) OdooTimeout() time.Duration {
	d, err := time.ParseDuration(c.Odoo.Timeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// AvailabilityTTL returns the parsed availability cache TTL.
func (c *Config) AvailabilityTTL() time.Duration {
	d, err := time.ParseDuration(c.Availability.TTL)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Load reads the YAML config at path. A missing file is created from
// DefaultConfig (0600) and those defaults are returned; an existing file is
// decoded over the defaults and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	// Start from defaults so booleans absent from the file keep their
	// default values (fail_open, demo_fallback).
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save normalizes cfg and writes it atomically (temp file + rename) with
// 0600 permissions, creating the parent directory as 0700.
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

	tmp, err := os.CreateTemp(dir, ".agialcal-config-*.tmp")
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

