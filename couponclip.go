// Package couponclip automates retailer websites for one user at a time:
// it discovers a store from its URL, signs in and keeps the session on
// disk, and clips every available digital coupon.
//
// Engine is the entry point. Its operations never panic and are each bound
// by a run deadline; structural failures come back as values (a false
// verification, a ClipResult with Error set) rather than as crashes.
package couponclip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/couponclip/clipper"
	"github.com/hazyhaar/couponclip/discovery"
	"github.com/hazyhaar/couponclip/guard"
	"github.com/hazyhaar/couponclip/internal/metrics"
	"github.com/hazyhaar/couponclip/kit"
	"github.com/hazyhaar/couponclip/login"
	"github.com/hazyhaar/couponclip/model"
	"github.com/hazyhaar/couponclip/observability"
	"github.com/hazyhaar/couponclip/pagequery"
	"github.com/hazyhaar/couponclip/registry"
	"github.com/hazyhaar/couponclip/sessioncache"
	"github.com/hazyhaar/couponclip/wait"
)

// Operation names used in events and metrics.
const (
	OpDiscover = "discover"
	OpVerify   = "verify"
	OpClip     = "clip"
	OpCleanup  = "cleanup"
)

var errPanic = errors.New("internal error")

// Config configures an Engine. Launcher and Cache are required.
type Config struct {
	Launcher pagequery.Launcher
	Cache    *sessioncache.Cache
	// Registry enables the store-management operations (AddStore,
	// RegisterStore, ClipStore, ListStores, RemoveStore).
	Registry *registry.Registry
	// Events, when set, receives one RunEvent per operation.
	Events  *observability.RunLog
	Metrics metrics.Recorder
	// Guard, when set, vets every operator-supplied URL before a browser
	// is pointed at it.
	Guard *guard.Guard

	ClipTiming      wait.Timing
	DiscoveryTiming wait.Timing
	Janitor         sessioncache.JanitorConfig
	// RunTimeout bounds every operation. Default: 10 minutes.
	RunTimeout     time.Duration
	DisableJitter  bool
	LoginOverrides map[string]string
	Logger         *slog.Logger
}

func (c *Config) defaults() {
	if c.Metrics == nil {
		c.Metrics = metrics.Nop{}
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 10 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.ClipTiming = c.ClipTiming.WithDefaults(wait.ClipTiming())
	c.DiscoveryTiming = c.DiscoveryTiming.WithDefaults(wait.DiscoveryTiming())
}

// Engine wires discovery, clipping, the session cache and the registry.
// It is safe for concurrent use; each operation owns its browser session.
type Engine struct {
	config    Config
	discovery *discovery.Engine
	clipper   *clipper.Engine
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("couponclip: launcher is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("couponclip: session cache is required")
	}
	cfg.defaults()

	e := &Engine{config: cfg}
	e.discovery = discovery.New(discovery.Config{
		Launcher:       cfg.Launcher,
		Cache:          cfg.Cache,
		Flow:           &login.Flow{Timing: cfg.DiscoveryTiming, Logger: cfg.Logger},
		Timing:         cfg.DiscoveryTiming,
		DisableJitter:  cfg.DisableJitter,
		LoginOverrides: cfg.LoginOverrides,
		Logger:         cfg.Logger,
	})
	e.clipper = clipper.New(clipper.Config{
		Launcher: cfg.Launcher,
		Cache:    cfg.Cache,
		Flow:     &login.Flow{Timing: cfg.ClipTiming, Logger: cfg.Logger},
		Timing:   cfg.ClipTiming,
		OnOutcome: func(_ string, o model.ClipOutcome) {
			cfg.Metrics.RecordOffer(o.Clipped)
		},
		OnSession: func(_ string, reused bool) {
			cfg.Metrics.RecordSessionReuse(reused)
		},
		Logger: cfg.Logger,
	})
	return e, nil
}

// Discover visits rawURL and infers its store configuration.
func (e *Engine) Discover(ctx context.Context, rawURL string, creds model.Credentials) (cfg *model.StoreConfig, err error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.config.RunTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			e.config.Logger.Error("couponclip: discover panic", "panic", r, "url", rawURL)
			cfg, err = nil, errPanic
		}
		ev := observability.RunEvent{Op: OpDiscover, Store: rawURL, Status: observability.StatusSuccess, Transport: kit.Transport(ctx)}
		if err != nil {
			ev.Status, ev.Error = statusOf(err), err.Error()
		} else {
			ev.Store = cfg.Name
		}
		e.record(ev, start)
	}()
	if err := e.checkTarget(ctx, rawURL); err != nil {
		return nil, err
	}
	return e.discovery.Discover(ctx, rawURL, creds)
}

func (e *Engine) checkTarget(ctx context.Context, rawURL string) error {
	if e.config.Guard == nil {
		return nil
	}
	if err := e.config.Guard.CheckURL(ctx, rawURL); err != nil {
		e.config.Logger.WarnContext(ctx, "couponclip: target rejected", "url", rawURL, "error", err)
		return err
	}
	return nil
}

// VerifyLogin signs in to cfg with its credentials and caches the session
// for userID. It reports success.
func (e *Engine) VerifyLogin(ctx context.Context, cfg model.StoreConfig, userID int64) (ok bool) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.config.RunTimeout)
	defer cancel()
	defer func() {
		ev := observability.RunEvent{Op: OpVerify, UserID: userID, Store: cfg.Name, Status: observability.StatusSuccess, Transport: kit.Transport(ctx)}
		if r := recover(); r != nil {
			e.config.Logger.Error("couponclip: verify panic", "panic", r, "store", cfg.Name)
			ok = false
			ev.Status, ev.Error = observability.StatusError, errPanic.Error()
		} else if !ok {
			ev.Status, ev.Error = observability.StatusFailed, "login verification failed"
		}
		e.record(ev, start)
	}()
	return e.discovery.VerifyLogin(ctx, cfg, userID)
}

// Clip clips every available coupon of cfg for userID.
func (e *Engine) Clip(ctx context.Context, cfg model.StoreConfig, userID int64) (res model.ClipResult) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.config.RunTimeout)
	defer cancel()
	defer func() {
		ev := observability.RunEvent{Op: OpClip, UserID: userID, Store: cfg.Name, Status: observability.StatusSuccess, Transport: kit.Transport(ctx)}
		if r := recover(); r != nil {
			e.config.Logger.Error("couponclip: clip panic", "panic", r, "store", cfg.Name)
			res = model.ClipResult{StoreName: cfg.Name, Clipped: []model.CouponOffer{}, Error: errPanic.Error()}
			ev.Status = observability.StatusError
		} else if res.Error != "" {
			ev.Status = observability.StatusFailed
		}
		ev.Error, ev.Clipped = res.Error, len(res.Clipped)
		e.record(ev, start)
	}()

	return e.clipper.Clip(ctx, cfg, userID)
}

// CleanupExpiredSessions removes session files older than maxAgeDays
// (zero uses the cache TTL) and returns how many were removed.
func (e *Engine) CleanupExpiredSessions(maxAgeDays int) (removed int, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.config.Logger.Error("couponclip: cleanup panic", "panic", r)
			removed, err = 0, errPanic
		}
		e.recordCleanup(removed, err, start, "")
	}()
	return e.config.Cache.CleanupExpired(maxAgeDays)
}

// StartJanitor runs session cleanup in the background: once now, then on
// the configured interval. The returned function stops it and waits for
// the loop to exit.
func (e *Engine) StartJanitor(ctx context.Context) (stop func()) {
	jc := e.config.Janitor
	jc.OnCycle = func(removed int, err error) {
		e.recordCleanup(removed, err, time.Now(), "janitor")
	}
	j := sessioncache.NewJanitor(e.config.Cache, jc, e.config.Logger)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (e *Engine) recordCleanup(removed int, err error, start time.Time, transport string) {
	e.config.Metrics.RecordCleanup(removed)
	ev := observability.RunEvent{Op: OpCleanup, Status: observability.StatusSuccess, Transport: transport}
	if err != nil {
		ev.Status, ev.Error = observability.StatusError, err.Error()
	}
	e.record(ev, start)
}

func (e *Engine) record(ev observability.RunEvent, start time.Time) {
	ev.Duration = time.Since(start)
	e.config.Metrics.RecordRun(ev.Op, ev.Status, ev.Duration)
	if e.config.Events != nil {
		e.config.Events.Record(ev)
	}
}

func statusOf(err error) string {
	if errors.Is(err, errPanic) {
		return observability.StatusError
	}
	return observability.StatusFailed
}
