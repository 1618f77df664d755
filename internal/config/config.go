package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// APIConfig points at the school's REST backend.
type APIConfig struct {
	// BaseURL is the REST root, e.g. "https://school.example/api".
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Token is sent as a bearer token when non-empty.
	Token string `yaml:"token" json:"token"`
	// TimeoutSec bounds each REST call.
	TimeoutSec int `yaml:"timeout_sec" json:"timeout_sec"`
}

// RealtimeConfig configures the collaboration WebSocket.
type RealtimeConfig struct {
	URL string `yaml:"url" json:"url"`
	// UserID identifies this client on the channel.
	UserID string `yaml:"user_id" json:"user_id"`
	// ReconnectSec is the initial reconnect delay; it doubles up to 30s.
	ReconnectSec int `yaml:"reconnect_sec" json:"reconnect_sec"`
	// DraftTTLSec is how long a draft slot lives without a refresh.
	DraftTTLSec int `yaml:"draft_ttl_sec" json:"draft_ttl_sec"`
}

// VirtualizationConfig tunes the visible/sticky/hydrated day sets.
type VirtualizationConfig struct {
	Overscan       int `yaml:"overscan" json:"overscan"`
	PanOverscanMax int `yaml:"pan_overscan_max" json:"pan_overscan_max"`
	StickyCapacity int `yaml:"sticky_capacity" json:"sticky_capacity"`
	SyncHydrate    int `yaml:"sync_hydrate" json:"sync_hydrate"`
	HydrateBatch   int `yaml:"hydrate_batch" json:"hydrate_batch"`
	// PanRecomputeMs is the minimum interval between recomputes while panning.
	PanRecomputeMs int `yaml:"pan_recompute_ms" json:"pan_recompute_ms"`
	// DayHeight is the row height of one day at 100% zoom.
	DayHeight float64 `yaml:"day_height" json:"day_height"`
	// ColumnWidth is the width of one instructor column at 100% zoom.
	ColumnWidth float64 `yaml:"column_width" json:"column_width"`
}

// ModalityConfig holds per input modality gesture tuning.
type ModalityConfig struct {
	Slop      float64 `yaml:"slop" json:"slop"`
	Blend     float64 `yaml:"blend" json:"blend"`
	StopSpeed float64 `yaml:"stop_speed" json:"stop_speed"`
}

// AxisConfig holds per axis inertia tuning.
type AxisConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Boost       float64 `yaml:"boost" json:"boost"`
	Friction    float64 `yaml:"friction" json:"friction"`
	StopSpeed   float64 `yaml:"stop_speed" json:"stop_speed"`
	MaxVelocity float64 `yaml:"max_velocity" json:"max_velocity"`
}

// PanConfig configures the inertial pan controller.
type PanConfig struct {
	Mouse ModalityConfig `yaml:"mouse" json:"mouse"`
	Touch ModalityConfig `yaml:"touch" json:"touch"`
	Pen   ModalityConfig `yaml:"pen" json:"pen"`
	X     AxisConfig     `yaml:"x" json:"x"`
	Y     AxisConfig     `yaml:"y" json:"y"`
}

// CoalescerConfig configures remote change batching.
type CoalescerConfig struct {
	HoldWindowMs int `yaml:"hold_window_ms" json:"hold_window_ms"`
	SmallBatch   int `yaml:"small_batch" json:"small_batch"`
}

// BlackoutConfig configures instructor unavailability prefetching.
type BlackoutConfig struct {
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// CacheDir stores ICS feed bodies and HTTP cache metadata.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// SlotMinutes is the grid granularity used when expanding ICS events.
	SlotMinutes int `yaml:"slot_minutes" json:"slot_minutes"`
}

// PersistenceConfig configures scroll/zoom persistence.
type PersistenceConfig struct {
	MaxMonths  int `yaml:"max_months" json:"max_months"`
	DebounceMs int `yaml:"debounce_ms" json:"debounce_ms"`
}

// InstructorFeed attaches an ICS unavailability feed to an instructor.
type InstructorFeed struct {
	InstructorID string `yaml:"instructor_id" json:"instructor_id"`
	URL          string `yaml:"url" json:"url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CaptureConfig controls PNG export of the rendered grid.
type CaptureConfig struct {
	Width      int    `yaml:"width" json:"width"`
	Height     int    `yaml:"height" json:"height"`
	OutputPath string `yaml:"output_path" json:"output_path"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the UI API.
	Listen string `yaml:"listen" json:"listen"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Timezone is the IANA zone whose wall clock ICS feed times are mapped
	// onto (e.g. "Europe/Madrid"). Reservation times are already floating.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron schedule for the safety-net full refresh, in
	// case real-time notifications were lost.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// StatePath is the JSON file holding last month, zoom and scroll offsets.
	StatePath string `yaml:"state_path" json:"state_path"`

	// FrameMs is the display-refresh interval driving frame work.
	FrameMs int `yaml:"frame_ms" json:"frame_ms"`

	// NavigatorRetries bounds auto-scroll attempts per navigation.
	NavigatorRetries int `yaml:"navigator_retries" json:"navigator_retries"`

	API            APIConfig            `yaml:"api" json:"api"`
	Realtime       RealtimeConfig       `yaml:"realtime" json:"realtime"`
	Virtualization VirtualizationConfig `yaml:"virtualization" json:"virtualization"`
	Pan            PanConfig            `yaml:"pan" json:"pan"`
	Coalescer      CoalescerConfig      `yaml:"coalescer" json:"coalescer"`
	Blackout       BlackoutConfig       `yaml:"blackout" json:"blackout"`
	Persistence    PersistenceConfig    `yaml:"persistence" json:"persistence"`
	Capture        CaptureConfig        `yaml:"capture" json:"capture"`

	// Feeds lists ICS unavailability feeds per instructor. Instructors
	// without a feed use the REST blackout endpoint.
	Feeds []InstructorFeed `yaml:"feeds" json:"feeds"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

func defaultPan() PanConfig {
	axis := AxisConfig{Enabled: true, Boost: 1.2, Friction: 0.92, StopSpeed: 0.35, MaxVelocity: 80}
	return PanConfig{
		Touch: ModalityConfig{Slop: 10, Blend: 0.35, StopSpeed: 0.6},
		Mouse: ModalityConfig{Slop: 5, Blend: 0.5, StopSpeed: 0.9},
		Pen:   ModalityConfig{Slop: 3, Blend: 0.45, StopSpeed: 0.8},
		X:     axis,
		Y:     axis,
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:           "127.0.0.1:8080",
		LogLevel:         "info",
		Timezone:         "Local",
		RefreshCron:      "*/10 * * * *",
		StatePath:        "./var/state.json",
		FrameMs:          16,
		NavigatorRetries: 8,
		API:              APIConfig{BaseURL: "http://127.0.0.1:3000/api", TimeoutSec: 15},
		Realtime:         RealtimeConfig{ReconnectSec: 1, DraftTTLSec: 45},
		Virtualization: VirtualizationConfig{
			Overscan:       2,
			PanOverscanMax: 8,
			StickyCapacity: 24,
			SyncHydrate:    3,
			HydrateBatch:   2,
			PanRecomputeMs: 48,
			DayHeight:      160,
			ColumnWidth:    180,
		},
		Pan:         defaultPan(),
		Coalescer:   CoalescerConfig{HoldWindowMs: 1500, SmallBatch: 3},
		Blackout:    BlackoutConfig{Concurrency: 4, CacheDir: "./var/ics-cache", SlotMinutes: 30},
		Persistence: PersistenceConfig{MaxMonths: 12, DebounceMs: 250},
		Capture:     CaptureConfig{Width: 1600, Height: 1200, OutputPath: "./var/month.png"},
		Feeds:       []InstructorFeed{},
	}
}

func normalizeModality(m *ModalityConfig, def ModalityConfig) {
	if m.Slop <= 0 {
		m.Slop = def.Slop
	}
	if m.Blend <= 0 || m.Blend > 1 {
		m.Blend = def.Blend
	}
	if m.StopSpeed <= 0 {
		m.StopSpeed = def.StopSpeed
	}
}

func normalizeAxis(a *AxisConfig, def AxisConfig) {
	if a.Boost <= 0 {
		a.Boost = def.Boost
	}
	// Friction must stay in (0,1) or inertia never decays.
	if a.Friction <= 0 || a.Friction >= 1 {
		a.Friction = def.Friction
	}
	if a.StopSpeed <= 0 {
		a.StopSpeed = def.StopSpeed
	}
	if a.MaxVelocity <= 0 {
		a.MaxVelocity = def.MaxVelocity
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.StatePath == "" {
		c.StatePath = def.StatePath
	}
	if c.FrameMs <= 0 {
		c.FrameMs = def.FrameMs
	}
	if c.NavigatorRetries <= 0 {
		c.NavigatorRetries = def.NavigatorRetries
	}
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = def.API.TimeoutSec
	}
	if c.Realtime.ReconnectSec <= 0 {
		c.Realtime.ReconnectSec = def.Realtime.ReconnectSec
	}
	if c.Realtime.DraftTTLSec <= 0 {
		c.Realtime.DraftTTLSec = def.Realtime.DraftTTLSec
	}

	v, dv := &c.Virtualization, def.Virtualization
	if v.Overscan <= 0 {
		v.Overscan = dv.Overscan
	}
	if v.PanOverscanMax < v.Overscan {
		v.PanOverscanMax = dv.PanOverscanMax
	}
	if v.StickyCapacity <= 0 {
		v.StickyCapacity = dv.StickyCapacity
	}
	if v.SyncHydrate <= 0 {
		v.SyncHydrate = dv.SyncHydrate
	}
	if v.HydrateBatch <= 0 {
		v.HydrateBatch = dv.HydrateBatch
	}
	if v.PanRecomputeMs <= 0 {
		v.PanRecomputeMs = dv.PanRecomputeMs
	}
	if v.DayHeight <= 0 {
		v.DayHeight = dv.DayHeight
	}
	if v.ColumnWidth <= 0 {
		v.ColumnWidth = dv.ColumnWidth
	}

	dp := def.Pan
	normalizeModality(&c.Pan.Touch, dp.Touch)
	normalizeModality(&c.Pan.Mouse, dp.Mouse)
	normalizeModality(&c.Pan.Pen, dp.Pen)
	normalizeAxis(&c.Pan.X, dp.X)
	normalizeAxis(&c.Pan.Y, dp.Y)

	if c.Coalescer.HoldWindowMs <= 0 {
		c.Coalescer.HoldWindowMs = def.Coalescer.HoldWindowMs
	}
	if c.Coalescer.SmallBatch <= 0 {
		c.Coalescer.SmallBatch = def.Coalescer.SmallBatch
	}
	if c.Blackout.Concurrency <= 0 {
		c.Blackout.Concurrency = def.Blackout.Concurrency
	}
	if c.Blackout.CacheDir == "" {
		c.Blackout.CacheDir = def.Blackout.CacheDir
	}
	if c.Blackout.SlotMinutes <= 0 {
		c.Blackout.SlotMinutes = def.Blackout.SlotMinutes
	}
	if c.Persistence.MaxMonths <= 0 {
		c.Persistence.MaxMonths = def.Persistence.MaxMonths
	}
	if c.Persistence.DebounceMs <= 0 {
		c.Persistence.DebounceMs = def.Persistence.DebounceMs
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = def.Capture.Width
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = def.Capture.Height
	}
	if c.Capture.OutputPath == "" {
		c.Capture.OutputPath = def.Capture.OutputPath
	}
	if c.Feeds == nil {
		c.Feeds = []InstructorFeed{}
	}
}

// Frame returns the display-refresh interval.
func (c *Config) Frame() time.Duration {
	return time.Duration(c.FrameMs) * time.Millisecond
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// HoldWindow returns the local-echo hold window.
func (c *Config) HoldWindow() time.Duration {
	return time.Duration(c.Coalescer.HoldWindowMs) * time.Millisecond
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
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

// Save writes cfg as YAML to path atomically (temp file + rename, 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".drivecal-config-*.tmp")
}

// WriteFileAtomic writes data next to path and renames it into place.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
