package api

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/couponclip/kit"
)

// RateLimiterConfig bounds how often one user may start browser runs.
type RateLimiterConfig struct {
	PerMinute       float64
	Burst           int
	CleanupInterval time.Duration
}

func (c *RateLimiterConfig) defaults() {
	if c.PerMinute <= 0 {
		c.PerMinute = 6
	}
	if c.Burst <= 0 {
		c.Burst = 2
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per user.
type RateLimiter struct {
	config RateLimiterConfig
	limit  rate.Limit
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[int64]*userLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter starts a limiter and its idle-entry sweeper. Call Stop to
// end the sweeper.
func NewRateLimiter(cfg RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		config:   cfg,
		limit:    rate.Limit(cfg.PerMinute / 60),
		logger:   logger,
		limiters: make(map[int64]*userLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the sweeper. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware rejects requests over the caller's budget with 429. It must
// run after the principal middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := kit.UserID(r.Context())
		if !rl.allow(userID) {
			rl.logger.Warn("api: rate limit exceeded", "user_id", userID, "path", r.URL.Path)
			retry := int(math.Ceil(1 / float64(rl.limit)))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many runs, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len returns how many users currently hold a bucket.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) allow(userID int64) bool {
	rl.mu.Lock()
	ul, ok := rl.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rl.limit, rl.config.Burst)}
		rl.limiters[userID] = ul
	}
	ul.lastAccess = time.Now()
	rl.mu.Unlock()
	return ul.limiter.Allow()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// sweep drops buckets idle for two cleanup intervals.
func (rl *RateLimiter) sweep(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, ul := range rl.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(rl.limiters, id)
		}
	}
}
