// Package browser runs Chrome through go-rod and hands out isolated
// sessions (one incognito browser context and page each) implementing
// pagequery.Session.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"github.com/hazyhaar/couponclip/pagequery"
)

// Mode selects how Chrome is run.
type Mode int

const (
	ModeHeadless Mode = iota // headless + stealth
	ModeHeadful              // headful on Xvfb, the harder to fingerprint
)

// Config configures the Manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty launches
	// a local one.
	RemoteURL string
	// Bin overrides the Chrome binary. Empty lets rod find or fetch one.
	Bin string
	// Mode defaults to ModeHeadless.
	Mode Mode
	// XvfbDisplay for ModeHeadful. Default: ":99".
	XvfbDisplay string
	Profile     Profile
	// ResourceBlocking lists resource types to block (images, fonts,
	// media, stylesheets).
	ResourceBlocking []string
	// NavigationTimeout bounds one navigation. Default: 30s.
	NavigationTimeout time.Duration
	// ActionTimeout bounds locating and acting on one element. Default: 10s.
	ActionTimeout time.Duration
	// IdleTimeout bounds WaitIdle. Default: 10s.
	IdleTimeout time.Duration
	// RecycleInterval is the maximum lifetime of a Chrome process; it is
	// only recycled while no session is open. Default: 4h.
	RecycleInterval time.Duration
	Logger          *slog.Logger
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	c.Profile = c.Profile.withDefaults()
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Second
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process, started on first use, and implements
// pagequery.Launcher.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	active  int
	closed  bool
}

var _ pagequery.Launcher = (*Manager)(nil)

// NewManager creates a Manager. Chrome starts on the first Launch.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Launch opens an isolated session: a fresh incognito context with one
// stealth page configured from the profile.
func (m *Manager) Launch(ctx context.Context) (pagequery.Session, error) {
	b, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	s, err := newSession(ctx, m, b)
	if err != nil {
		m.release()
		return nil, err
	}
	return s, nil
}

// acquire returns the running browser, starting or recycling it as needed,
// and counts one more open session.
func (m *Manager) acquire(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil && m.active == 0 && time.Since(m.startAt) > m.cfg.RecycleInterval {
		m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startAt))
		m.cleanup()
	}
	if m.browser == nil {
		b, err := m.launch(ctx)
		if err != nil {
			m.cleanup()
			return nil, err
		}
		m.browser = b
		m.startAt = time.Now()
	}
	m.active++
	return m.browser, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active > 0 {
		m.active--
	}
}

// Close shuts down Chrome and Xvfb. Open sessions become unusable.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Mode == ModeHeadful {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := m.launcher()
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "mode", m.cfg.Mode)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

// launcher builds the local Chrome launcher from the profile.
func (m *Manager) launcher() *launcher.Launcher {
	l := launcher.New().Leakless(true)
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	if m.cfg.Mode == ModeHeadful {
		l = l.Headless(false).Env("DISPLAY=" + m.cfg.XvfbDisplay)
	} else {
		l = l.Headless(true)
	}
	p := m.cfg.Profile
	l = l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", p.Viewport.Width, p.Viewport.Height))
	for name, value := range p.Flags {
		if value == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), value)
		}
	}
	return l
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}
