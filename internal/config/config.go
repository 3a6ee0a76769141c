package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values read from the YAML file.
const (
	EnvBackendURL = "INTRACAL_BACKEND_URL"
	EnvListen     = "INTRACAL_LISTEN"
	EnvTimezone   = "INTRACAL_TIMEZONE"
)

// BackendConfig describes the intranet REST backend intracal renders for.
type BackendConfig struct {
	// BaseURL is the backend origin, e.g. "http://intranet.local:8000".
	BaseURL string `yaml:"base_url" json:"base_url"`
	// TimeoutSeconds bounds every backend request.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// CSRFCookie / CSRFHeader name the token cookie read before mutating
	// requests and the header it is sent in.
	CSRFCookie string `yaml:"csrf_cookie" json:"csrf_cookie"`
	CSRFHeader string `yaml:"csrf_header" json:"csrf_header"`
}

// Timeout returns the request timeout as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// OverlayConfig describes a read-only ICS subscription (for example a
// public holiday feed) merged into the month grid.
type OverlayConfig struct {
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Color paints the overlay's events; defaults to the general colour.
	Color string `yaml:"color" json:"color"`
}

// SnapshotConfig controls periodic PNG captures of the month page.
type SnapshotConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Cron       string `yaml:"cron" json:"cron"`
	OutputPath string `yaml:"output_path" json:"output_path"`
	Width      int    `yaml:"width" json:"width"`
	Height     int    `yaml:"height" json:"height"`

	// Cookies are set on the captured page before it loads, typically a
	// service account's sessionid so the backend returns its events.
	Cookies map[string]string `yaml:"cookies,omitempty" json:"cookies,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used to decide what "today" is.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Locale selects month and weekday names ("es-CL", "en-US").
	Locale string `yaml:"locale" json:"locale"`

	Backend BackendConfig `yaml:"backend" json:"backend"`

	// CacheSeconds is how long a fetched month is reused. 0 disables caching.
	CacheSeconds int `yaml:"cache_seconds" json:"cache_seconds"`

	Overlays []OverlayConfig `yaml:"overlays" json:"overlays"`

	// OverlayRefresh is a cron-style schedule for re-fetching overlays.
	OverlayRefresh string `yaml:"overlay_refresh" json:"overlay_refresh"`

	// OverlayCacheDir keeps ETag/Last-Modified metadata and bodies.
	OverlayCacheDir string `yaml:"overlay_cache_dir" json:"overlay_cache_dir"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "America/Santiago",
		Locale:   "es-CL",
		Backend: BackendConfig{
			BaseURL:        "http://127.0.0.1:8000",
			TimeoutSeconds: 10,
			CSRFCookie:     "csrftoken",
			CSRFHeader:     "X-CSRFToken",
		},
		CacheSeconds:    30,
		Overlays:        []OverlayConfig{},
		OverlayRefresh:  "0 */6 * * *",
		OverlayCacheDir: "./cache/overlays",
		Snapshot: SnapshotConfig{
			Enabled:    false,
			Cron:       "*/30 * * * *",
			OutputPath: "./cache/preview.png",
			Width:      1280,
			Height:     960,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.Locale == "" {
		c.Locale = def.Locale
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = def.Backend.BaseURL
	}
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = def.Backend.TimeoutSeconds
	}
	if c.Backend.CSRFCookie == "" {
		c.Backend.CSRFCookie = def.Backend.CSRFCookie
	}
	if c.Backend.CSRFHeader == "" {
		c.Backend.CSRFHeader = def.Backend.CSRFHeader
	}
	if c.CacheSeconds < 0 {
		c.CacheSeconds = 0
	}
	if c.Overlays == nil {
		c.Overlays = []OverlayConfig{}
	}
	for i := range c.Overlays {
		o := &c.Overlays[i]
		if o.ID == "" {
			if o.Name != "" {
				o.ID = o.Name
			} else {
				o.ID = o.URL
			}
		}
	}
	if c.OverlayRefresh == "" {
		c.OverlayRefresh = def.OverlayRefresh
	}
	if c.OverlayCacheDir == "" {
		c.OverlayCacheDir = def.OverlayCacheDir
	}
	if c.Snapshot.Cron == "" {
		c.Snapshot.Cron = def.Snapshot.Cron
	}
	if c.Snapshot.OutputPath == "" {
		c.Snapshot.OutputPath = def.Snapshot.OutputPath
	}
	if c.Snapshot.Width <= 0 {
		c.Snapshot.Width = def.Snapshot.Width
	}
	if c.Snapshot.Height <= 0 {
		c.Snapshot.Height = def.Snapshot.Height
	}
}

// applyEnvOverrides lets deployment environments point intracal at a
// different backend or address without editing the file.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		c.Backend.BaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv(EnvListen)); v != "" {
		c.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTimezone)); v != "" {
		c.Timezone = v
	}
}

// Validate reports configuration errors that would break every request.
func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	seen := make(map[string]bool, len(c.Overlays))
	for _, o := range c.Overlays {
		if o.URL == "" {
			errs = append(errs, fmt.Errorf("overlay %q has no url", o.ID))
		}
		if seen[o.ID] {
			errs = append(errs, fmt.Errorf("duplicate overlay id %q", o.ID))
		}
		seen[o.ID] = true
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied last in both cases and are never
// written back to disk.
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
				cfg.applyEnvOverrides()
				return cfg, err
			}
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Parse decodes and normalizes a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	tmp, err := os.CreateTemp(dir, ".intracal-config-*.tmp")
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
