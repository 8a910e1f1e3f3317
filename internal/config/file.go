// Package config handles couponclip configuration from YAML files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/couponclip/guard"
	"github.com/hazyhaar/couponclip/internal/browser"
	"github.com/hazyhaar/couponclip/wait"
)

// SecretEnv overrides sessions.secret when set.
const SecretEnv = "COUPONCLIP_SESSION_SECRET"

// Config is the top-level couponclip configuration.
type Config struct {
	Browser    BrowserConfig  `yaml:"browser"`
	Timing     TimingConfig   `yaml:"timing"`
	Sessions   SessionsConfig `yaml:"sessions"`
	Registry   RegistryConfig `yaml:"registry"`
	HTTP       HTTPConfig     `yaml:"http"`
	RunTimeout time.Duration  `yaml:"run_timeout"`
}

// BrowserConfig controls Chrome lifecycle and the launch profile.
type BrowserConfig struct {
	Remote            string          `yaml:"remote"`
	Bin               string          `yaml:"bin"`
	Stealth           string          `yaml:"stealth"` // headless | headful
	XvfbDisplay       string          `yaml:"xvfb_display"`
	RecycleInterval   time.Duration   `yaml:"recycle_interval"`
	ResourceBlocking  []string        `yaml:"resource_blocking"`
	NavigationTimeout time.Duration   `yaml:"navigation_timeout"`
	ActionTimeout     time.Duration   `yaml:"action_timeout"`
	IdleTimeout       time.Duration   `yaml:"idle_timeout"`
	Profile           browser.Profile `yaml:"profile"`

	// AllowPrivateTargets lets discovery visit loopback and private hosts.
	AllowPrivateTargets bool `yaml:"allow_private_targets"`
}

// TimingConfig holds the wait schedules of the two engines. Zero fields
// fall back to the engine defaults.
type TimingConfig struct {
	Clip      wait.Timing `yaml:"clip"`
	Discovery wait.Timing `yaml:"discovery"`
}

// SessionsConfig controls the on-disk session cache and its janitor.
type SessionsConfig struct {
	Dir             string        `yaml:"dir"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	CleanupBackoff  time.Duration `yaml:"cleanup_backoff"`
	MaxAgeDays      int           `yaml:"max_age_days"`
	Secret          string        `yaml:"secret"`
}

// RegistryConfig points at the SQLite database holding stores and run events.
type RegistryConfig struct {
	Path               string `yaml:"path"`
	EventRetentionDays int    `yaml:"event_retention_days"`
}

// HTTPConfig controls the operator HTTP surface.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	// RatePerMinute caps browser-launching requests per user.
	RatePerMinute int `yaml:"rate_per_minute"`
	Burst         int `yaml:"burst"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file. An empty path yields Default().
func LoadFile(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.checkSecret()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.checkSecret(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// checkSecret runs after the environment override is applied.
func (c *Config) checkSecret() error {
	if c.Sessions.Secret == "" {
		return nil
	}
	if err := guard.ValidateSecret(c.Sessions.Secret); err != nil {
		return fmt.Errorf("config: sessions.secret: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Browser.Stealth {
	case "", "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth %q: want headless or headful", c.Browser.Stealth)
	}
	if c.HTTP.RatePerMinute < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("config: http rate limits must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	c.Timing.Clip = c.Timing.Clip.WithDefaults(wait.ClipTiming())
	c.Timing.Discovery = c.Timing.Discovery.WithDefaults(wait.DiscoveryTiming())
	if c.Sessions.Dir == "" {
		c.Sessions.Dir = filepath.Join("data", "sessions")
	}
	if c.Sessions.TTL <= 0 {
		c.Sessions.TTL = 7 * 24 * time.Hour
	}
	if c.Sessions.CleanupInterval <= 0 {
		c.Sessions.CleanupInterval = 24 * time.Hour
	}
	if c.Sessions.CleanupBackoff <= 0 {
		c.Sessions.CleanupBackoff = time.Hour
	}
	if c.Sessions.MaxAgeDays <= 0 {
		c.Sessions.MaxAgeDays = 7
	}
	if s := os.Getenv(SecretEnv); s != "" {
		c.Sessions.Secret = s
	}
	if c.Registry.Path == "" {
		c.Registry.Path = filepath.Join("data", "couponclip.db")
	}
	if c.Registry.EventRetentionDays <= 0 {
		c.Registry.EventRetentionDays = 30
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.HTTP.RatePerMinute == 0 {
		c.HTTP.RatePerMinute = 6
	}
	if c.HTTP.Burst == 0 {
		c.HTTP.Burst = 2
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 10 * time.Minute
	}
}

// BrowserManager converts the browser section into a manager config.
func (c *Config) BrowserManager(logger *slog.Logger) browser.Config {
	mode := browser.ModeHeadless
	if c.Browser.Stealth == "headful" {
		mode = browser.ModeHeadful
	}
	return browser.Config{
		RemoteURL:         c.Browser.Remote,
		Bin:               c.Browser.Bin,
		Mode:              mode,
		XvfbDisplay:       c.Browser.XvfbDisplay,
		Profile:           c.Browser.Profile,
		ResourceBlocking:  c.Browser.ResourceBlocking,
		NavigationTimeout: c.Browser.NavigationTimeout,
		ActionTimeout:     c.Browser.ActionTimeout,
		IdleTimeout:       c.Browser.IdleTimeout,
		RecycleInterval:   c.Browser.RecycleInterval,
		Logger:            logger,
	}
}
