// Command couponclip discovers retailer stores and clips their digital
// coupons.
//
// Usage:
//
//	couponclip -discover https://www.store.example      # print the inferred store config
//	couponclip -add https://www.store.example -user 1   # discover, verify and register
//	couponclip -clip 3 -user 1                          # clip a registered store
//	couponclip -cleanup                                 # remove expired sessions
//	couponclip -serve                                   # HTTP API + session janitor
//	couponclip -mcp                                     # MCP tools over stdio
//
// Store credentials are read from COUPONCLIP_IDENTIFIER and
// COUPONCLIP_PASSWORD; they are never written anywhere.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hazyhaar/couponclip"
	"github.com/hazyhaar/couponclip/api"
	"github.com/hazyhaar/couponclip/dbopen"
	"github.com/hazyhaar/couponclip/guard"
	"github.com/hazyhaar/couponclip/internal/browser"
	"github.com/hazyhaar/couponclip/internal/config"
	"github.com/hazyhaar/couponclip/internal/metrics"
	"github.com/hazyhaar/couponclip/kit"
	"github.com/hazyhaar/couponclip/model"
	"github.com/hazyhaar/couponclip/observability"
	"github.com/hazyhaar/couponclip/registry"
	"github.com/hazyhaar/couponclip/sessioncache"
)

const version = "0.1.0"

type options struct {
	configPath string
	discover   string
	add        string
	clip       int64
	userID     int64
	cleanup    bool
	maxAgeDays int
	serve      bool
	mcp        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to couponclip.yaml")
	flag.StringVar(&opts.discover, "discover", "", "discover the store at URL and print its config")
	flag.StringVar(&opts.add, "add", "", "discover, verify and register the store at URL for -user")
	flag.Int64Var(&opts.clip, "clip", 0, "clip the registered store with this ID for -user")
	flag.Int64Var(&opts.userID, "user", 0, "user ID owning the stores and sessions")
	flag.BoolVar(&opts.cleanup, "cleanup", false, "remove expired session files and exit")
	flag.IntVar(&opts.maxAgeDays, "max-age-days", 0, "session age limit for -cleanup (default: sessions.max_age_days)")
	flag.BoolVar(&opts.serve, "serve", false, "serve the HTTP API")
	flag.BoolVar(&opts.mcp, "mcp", false, "serve MCP tools over stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts); err != nil {
		logger.Error("couponclip: fatal", "error", err)
		os.Exit(1)
	}
}

// app holds everything a mode may need; close releases it in reverse order.
type app struct {
	cfg     *config.Config
	engine  *couponclip.Engine
	events  *observability.RunLog
	metrics *prometheus.Registry
	closers []func() error
}

func (a *app) close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("couponclip: close", "error", err)
		}
	}
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	if opts.discover == "" && opts.add == "" && opts.clip == 0 && !opts.cleanup && !opts.serve && !opts.mcp {
		fmt.Fprintln(os.Stderr, "usage: couponclip [-config file] -discover <url> | -add <url> -user <id> | -clip <store id> -user <id> | -cleanup | -serve | -mcp")
		os.Exit(2)
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return err
	}
	a, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	ctx = kit.WithTransport(ctx, "cli")
	switch {
	case opts.discover != "":
		store, err := a.engine.Discover(ctx, opts.discover, credentialsFromEnv())
		if err != nil {
			return fmt.Errorf("discover: %w", err)
		}
		return printJSON(store)

	case opts.add != "":
		if opts.userID <= 0 {
			return errors.New("-add requires -user")
		}
		creds := credentialsFromEnv()
		if !creds.Valid() {
			return errors.New("-add requires COUPONCLIP_IDENTIFIER and COUPONCLIP_PASSWORD")
		}
		store, err := a.engine.AddStore(ctx, opts.userID, opts.add, creds)
		if err != nil {
			return fmt.Errorf("add: %w", err)
		}
		return printJSON(store)

	case opts.clip != 0:
		if opts.userID <= 0 {
			return errors.New("-clip requires -user")
		}
		var creds *model.Credentials
		if c := credentialsFromEnv(); c.Valid() {
			creds = &c
		}
		res, err := a.engine.ClipStore(ctx, opts.userID, opts.clip, creds)
		if err != nil {
			return fmt.Errorf("clip: %w", err)
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("clip: %s", res.Error)
		}
		return nil

	case opts.cleanup:
		days := opts.maxAgeDays
		if days <= 0 {
			days = cfg.Sessions.MaxAgeDays
		}
		removed, err := a.engine.CleanupExpiredSessions(days)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		if n, err := a.events.Cleanup(ctx, cfg.Registry.EventRetentionDays); err != nil {
			logger.Warn("couponclip: event retention", "error", err)
		} else if n > 0 {
			logger.Info("couponclip: events pruned", "removed", n)
		}
		return printJSON(map[string]int{"removed": removed})

	case opts.mcp:
		srv := mcp.NewServer(&mcp.Implementation{Name: "couponclip", Version: version}, nil)
		a.engine.RegisterMCP(srv)
		logger.Info("couponclip: mcp serving on stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil

	default:
		return serve(ctx, logger, a)
	}
}

func build(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, metrics: prometheus.NewRegistry()}
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cache, err := sessioncache.New(sessioncache.Config{
		Dir:    cfg.Sessions.Dir,
		TTL:    cfg.Sessions.TTL,
		Secret: cfg.Sessions.Secret,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	db, err := dbopen.Open(cfg.Registry.Path,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(registry.Schema),
		dbopen.WithSchema(observability.Schema),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	a.events = observability.NewRunLog(db, 256, logger)
	a.closers = append(a.closers, a.events.Close)

	mgr := browser.NewManager(cfg.BrowserManager(logger))
	a.closers = append(a.closers, mgr.Close)

	var g *guard.Guard
	if !cfg.Browser.AllowPrivateTargets {
		g = guard.New(nil)
	}

	a.engine, err = couponclip.New(couponclip.Config{
		Launcher:        mgr,
		Cache:           cache,
		Registry:        registry.New(db),
		Events:          a.events,
		Metrics:         metrics.NewCollector(a.metrics),
		Guard:           g,
		ClipTiming:      cfg.Timing.Clip,
		DiscoveryTiming: cfg.Timing.Discovery,
		Janitor: sessioncache.JanitorConfig{
			Interval:   cfg.Sessions.CleanupInterval,
			Backoff:    cfg.Sessions.CleanupBackoff,
			MaxAgeDays: cfg.Sessions.MaxAgeDays,
		},
		RunTimeout: cfg.RunTimeout,
		Logger:     logger,
	})
	if err != nil {
		a.close(logger)
		return nil, err
	}
	return a, nil
}

func serve(ctx context.Context, logger *slog.Logger, a *app) error {
	stopJanitor := a.engine.StartJanitor(ctx)
	defer stopJanitor()

	limiter := api.NewRateLimiter(api.RateLimiterConfig{
		PerMinute: float64(a.cfg.HTTP.RatePerMinute),
		Burst:     a.cfg.HTTP.Burst,
	}, logger)
	defer limiter.Stop()

	srv := &http.Server{
		Addr: a.cfg.HTTP.Listen,
		Handler: api.NewRouter(api.Config{
			Engine:  a.engine,
			Limiter: limiter,
			Metrics: metrics.Handler(a.metrics),
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.cfg.RunTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("couponclip: http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("couponclip: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("couponclip: shutdown", "error", err)
	}
	return nil
}

func credentialsFromEnv() model.Credentials {
	return model.Credentials{
		Identifier: os.Getenv("COUPONCLIP_IDENTIFIER"),
		Password:   os.Getenv("COUPONCLIP_PASSWORD"),
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
