// Package metrics exposes couponclip run counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the engine reports into. Collector implements it;
// Nop discards everything.
type Recorder interface {
	RecordRun(op, status string, d time.Duration)
	RecordOffer(clipped bool)
	RecordSessionReuse(reused bool)
	RecordCleanup(removed int)
}

// Collector records couponclip metrics.
type Collector struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	offers       *prometheus.CounterVec
	sessions     *prometheus.CounterVec
	cleanedFiles prometheus.Counter
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "couponclip_runs_total",
			Help: "Engine operations by kind and status.",
		}, []string{"op", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "couponclip_run_duration_seconds",
			Help:    "Engine operation latency in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"op"}),
		offers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "couponclip_offers_total",
			Help: "Coupon clip attempts by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "couponclip_sessions_total",
			Help: "Clip runs by session source.",
		}, []string{"source"}),
		cleanedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "couponclip_sessions_cleaned_total",
			Help: "Expired session files removed.",
		}),
	}
	reg.MustRegister(c.runs, c.runDuration, c.offers, c.sessions, c.cleanedFiles)
	return c
}

// RecordRun records one engine operation.
func (c *Collector) RecordRun(op, status string, d time.Duration) {
	c.runs.WithLabelValues(op, status).Inc()
	c.runDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordOffer records one clip attempt.
func (c *Collector) RecordOffer(clipped bool) {
	outcome := "failed"
	if clipped {
		outcome = "clipped"
	}
	c.offers.WithLabelValues(outcome).Inc()
}

// RecordSessionReuse records whether a run reused a cached session or
// logged in.
func (c *Collector) RecordSessionReuse(reused bool) {
	source := "login"
	if reused {
		source = "cache"
	}
	c.sessions.WithLabelValues(source).Inc()
}

// RecordCleanup records removed session files.
func (c *Collector) RecordCleanup(removed int) {
	c.cleanedFiles.Add(float64(removed))
}

// Nop is a Recorder that records nothing.
type Nop struct{}

func (Nop) RecordRun(string, string, time.Duration) {}
func (Nop) RecordOffer(bool)                        {}
func (Nop) RecordSessionReuse(bool)                 {}
func (Nop) RecordCleanup(int)                       {}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
