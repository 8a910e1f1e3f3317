package sessioncache

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// JanitorConfig configures the background cleanup loop.
type JanitorConfig struct {
	// Interval between successful cycles. Default: 24 hours.
	Interval time.Duration
	// Backoff after a failed or panicking cycle. Default: 1 hour.
	Backoff time.Duration
	// MaxAgeDays is passed to CleanupExpired. Zero uses the cache TTL.
	MaxAgeDays int
	// OnCycle, when set, observes every cycle.
	OnCycle func(removed int, err error)
}

func (c *JanitorConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Hour
	}
}

// Janitor runs CleanupExpired on a fixed schedule. One janitor per process.
type Janitor struct {
	cleanup func(maxAgeDays int) (int, error)
	config  JanitorConfig
	logger  *slog.Logger
}

// NewJanitor creates a janitor for cache.
func NewJanitor(cache *Cache, cfg JanitorConfig, logger *slog.Logger) *Janitor {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{cleanup: cache.CleanupExpired, config: cfg, logger: logger}
}

// Run cleans up once immediately, then every Interval. A cycle that fails
// or panics is retried after Backoff instead. Run blocks until ctx is
// cancelled and never panics.
func (j *Janitor) Run(ctx context.Context) {
	for {
		next := j.config.Interval
		if _, err := j.cycle(); err != nil {
			j.logger.Error("sessioncache: janitor cycle failed", "error", err, "retry_in", j.config.Backoff)
			next = j.config.Backoff
		}

		t := time.NewTimer(next)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (j *Janitor) cycle() (removed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if j.config.OnCycle != nil {
			j.config.OnCycle(removed, err)
		}
	}()
	return j.cleanup(j.config.MaxAgeDays)
}
