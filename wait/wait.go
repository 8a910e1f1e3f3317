// Package wait holds the bounded settle, retry and click primitives shared
// by the login, discovery and clipping engines. Every primitive has a fixed
// attempt budget and honours context cancellation, so no engine can hang on
// an unresponsive page.
package wait

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/couponclip/pagequery"
)

// Timing groups the delays and attempt budgets of one engine.
type Timing struct {
	// Settle is the fixed pause after the page reports idle.
	Settle time.Duration `yaml:"settle"`
	// ClickDelay precedes every click.
	ClickDelay time.Duration `yaml:"click_delay"`
	// Attempts and Interval bound AwaitElements.
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
	// VerifyAttempts and VerifyInterval bound post-action verification.
	VerifyAttempts int           `yaml:"verify_attempts"`
	VerifyInterval time.Duration `yaml:"verify_interval"`
}

// ClipTiming is the default timing of clipping runs.
func ClipTiming() Timing {
	return Timing{
		Settle:         2 * time.Second,
		ClickDelay:     500 * time.Millisecond,
		Attempts:       3,
		Interval:       time.Second,
		VerifyAttempts: 5,
		VerifyInterval: time.Second,
	}
}

// DiscoveryTiming is the default timing of discovery runs.
func DiscoveryTiming() Timing {
	t := ClipTiming()
	t.Settle = 500 * time.Millisecond
	return t
}

// WithDefaults fills the zero fields of t from def.
func (t Timing) WithDefaults(def Timing) Timing {
	if t.Settle == 0 {
		t.Settle = def.Settle
	}
	if t.ClickDelay == 0 {
		t.ClickDelay = def.ClickDelay
	}
	if t.Attempts <= 0 {
		t.Attempts = def.Attempts
	}
	if t.Interval == 0 {
		t.Interval = def.Interval
	}
	if t.VerifyAttempts <= 0 {
		t.VerifyAttempts = def.VerifyAttempts
	}
	if t.VerifyInterval == 0 {
		t.VerifyInterval = def.VerifyInterval
	}
	return t
}

// Elements returns the AwaitElements options of t.
func (t Timing) Elements(logger *slog.Logger) Options {
	return Options{MaxAttempts: t.Attempts, Interval: t.Interval, Logger: logger}
}

// Options bounds AwaitElements.
type Options struct {
	MaxAttempts int
	Interval    time.Duration
	Logger      *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Interval < 0 {
		o.Interval = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Sleep pauses for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// AwaitReady waits for the page to report idle, then for settle. It never
// fails: an idle timeout is logged and the settle delay still applies.
func AwaitReady(ctx context.Context, page pagequery.Page, settle time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := page.WaitIdle(ctx); err != nil {
		logger.DebugContext(ctx, "wait: page not idle, settling anyway", "url", page.URL(), "error", err)
	}
	Sleep(ctx, settle)
}

// AwaitElements queries until a non-empty result is obtained or attempts are
// exhausted. It returns the last result, which may be nil. Query errors count
// as empty attempts.
func AwaitElements(ctx context.Context, page pagequery.Page, s pagequery.Schema, opts Options) *pagequery.Node {
	opts.defaults()
	var last *pagequery.Node
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		n, err := page.Query(ctx, s)
		if err != nil {
			opts.Logger.DebugContext(ctx, "wait: query failed",
				"query", s.Name, "attempt", attempt, "error", err)
		} else {
			last = n
			if n.Present() {
				return n
			}
		}
		if attempt < opts.MaxAttempts && !Sleep(ctx, opts.Interval) {
			break
		}
	}
	opts.Logger.DebugContext(ctx, "wait: elements not found",
		"query", s.Name, "attempts", opts.MaxAttempts)
	return last
}

// ClickWithDelay pauses for delay then clicks n. Failures, including an
// absent node, are logged and reported as false.
func ClickWithDelay(ctx context.Context, n *pagequery.Node, delay time.Duration, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	if !Sleep(ctx, delay) {
		return false
	}
	if err := n.Click(ctx); err != nil {
		logger.WarnContext(ctx, "wait: click failed", "error", err)
		return false
	}
	return true
}
