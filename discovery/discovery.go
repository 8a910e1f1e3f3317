// Package discovery infers the identity and sign-in endpoint of an unknown
// store from its URL, and checks that supplied credentials work there.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/couponclip/login"
	"github.com/hazyhaar/couponclip/model"
	"github.com/hazyhaar/couponclip/pagequery"
	"github.com/hazyhaar/couponclip/sessioncache"
	"github.com/hazyhaar/couponclip/wait"
)

// ErrHeaderNotFound is the only inference failure: without a header there
// is nothing to learn from the page.
var ErrHeaderNotFound = errors.New("discovery: store header not found")

var errNoHost = errors.New("missing host")

// StoreInfoQuery reads the store title and sign-in link.
var StoreInfoQuery = pagequery.Schema{Name: "store_info", Fields: []pagequery.Field{
	pagequery.F("header", "the site header banner at the top of the page",
		pagequery.F("title", "the page title in the document head"),
		pagequery.F("sign_in_btn", `the sign in button or link with text "Sign in" or "Sign in / Register" or "Log in"`),
	),
}}

// Config configures an Engine.
type Config struct {
	Launcher pagequery.Launcher
	Cache    *sessioncache.Cache
	// Flow runs sign-in for VerifyLogin. Default: login.NewFlow.
	Flow   *login.Flow
	Timing wait.Timing
	// JitterMin and JitterSpread bound the pause before the first
	// navigation: JitterMin + hash(url) % JitterSpread. Defaults: 1s, 1s.
	JitterMin     time.Duration
	JitterSpread  time.Duration
	DisableJitter bool
	// LoginOverrides replaces DefaultLoginOverrides when non-nil.
	LoginOverrides map[string]string
	Logger         *slog.Logger
}

func (c *Config) defaults() {
	c.Timing = c.Timing.WithDefaults(wait.DiscoveryTiming())
	if c.JitterMin <= 0 {
		c.JitterMin = time.Second
	}
	if c.JitterSpread <= 0 {
		c.JitterSpread = time.Second
	}
	if c.LoginOverrides == nil {
		c.LoginOverrides = DefaultLoginOverrides
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Flow == nil {
		c.Flow = login.NewFlow(c.Logger)
	}
}

// Engine runs discovery and login verification. Each call owns one browser
// session for its full duration.
type Engine struct {
	config Config
}

// New creates an Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{config: cfg}
}

// Discover visits rawURL and infers a StoreConfig. It is best effort: a
// missing title or sign-in href falls back to derived values. It fails only
// when the page cannot be reached or shows no header at all.
func (e *Engine) Discover(ctx context.Context, rawURL string, creds model.Credentials) (*model.StoreConfig, error) {
	origin, err := Origin(rawURL)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	target := strings.TrimSpace(rawURL)
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	log := e.config.Logger.With("origin", origin)

	sess, err := e.config.Launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery: launch: %w", err)
	}
	defer closeSession(sess, log)

	if !e.config.DisableJitter {
		wait.Sleep(ctx, e.jitter(target))
	}
	if err := sess.Navigate(ctx, target); err != nil {
		return nil, fmt.Errorf("discovery: navigate: %w", err)
	}
	wait.AwaitReady(ctx, sess, e.config.Timing.Settle, e.config.Logger)

	info := wait.AwaitElements(ctx, sess, StoreInfoQuery, e.config.Timing.Elements(e.config.Logger))
	header := info.Field("header")
	if !header.Present() {
		log.WarnContext(ctx, "discovery: header not found")
		return nil, ErrHeaderNotFound
	}

	title := header.Field("title").TextOr(ctx, "")
	href, _, _ := header.Field("sign_in_btn").Attribute(ctx, "href")

	cfg := &model.StoreConfig{
		Name:     StoreName(title, origin),
		BaseURL:  origin,
		LoginURL: LoginURL(href, origin, e.config.LoginOverrides),
	}
	if creds.Valid() {
		cfg.Credentials = &creds
	}
	log.InfoContext(ctx, "discovery: store discovered", "name", cfg.Name, "login_url", cfg.LoginURL)
	return cfg, nil
}

// VerifyLogin signs in to cfg with its credentials and caches the resulting
// session for (userID, store). It reports success and never returns an
// error: callers gate the store association on it.
func (e *Engine) VerifyLogin(ctx context.Context, cfg model.StoreConfig, userID int64) bool {
	log := e.config.Logger.With("store", cfg.Name, "user_id", userID)
	if cfg.Credentials == nil || !cfg.Credentials.Valid() {
		log.WarnContext(ctx, "discovery: verify without credentials")
		return false
	}

	sess, err := e.config.Launcher.Launch(ctx)
	if err != nil {
		log.ErrorContext(ctx, "discovery: launch", "error", err)
		return false
	}
	defer closeSession(sess, log)

	if err := sess.Navigate(ctx, cfg.BaseURL); err != nil {
		log.WarnContext(ctx, "discovery: navigate", "error", err)
		return false
	}
	wait.AwaitReady(ctx, sess, e.config.Timing.Settle, e.config.Logger)

	if err := e.config.Flow.Run(ctx, sess, *cfg.Credentials); err != nil {
		log.WarnContext(ctx, "discovery: login failed", "error", err)
		return false
	}

	state, err := sess.StorageState(ctx)
	if err != nil {
		log.WarnContext(ctx, "discovery: capture session", "error", err)
		return false
	}
	if err := e.config.Cache.Save(userID, model.StoreKey(cfg), state); err != nil {
		log.WarnContext(ctx, "discovery: save session", "error", err)
		return false
	}
	log.InfoContext(ctx, "discovery: login verified")
	return true
}

// jitter spreads first navigations so bursts of discoveries do not hit a
// site in lockstep. It is stable per URL.
func (e *Engine) jitter(url string) time.Duration {
	h := fnv.New32a()
	h.Write([]byte(url))
	spread := uint32(e.config.JitterSpread / time.Millisecond)
	if spread == 0 {
		return e.config.JitterMin
	}
	return e.config.JitterMin + time.Duration(h.Sum32()%spread)*time.Millisecond
}

func closeSession(s pagequery.Session, log *slog.Logger) {
	if err := s.Close(); err != nil {
		log.Warn("discovery: close session", "error", err)
	}
}
