package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if matches(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}

func TestCollector_RecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRun("clip", "success", 3*time.Second)
	c.RecordRun("clip", "success", time.Second)
	c.RecordRun("clip", "error", time.Second)

	if got := counterValue(t, reg, "couponclip_runs_total", map[string]string{"op": "clip", "status": "success"}); got != 2 {
		t.Errorf("clip success: got %v, want 2", got)
	}
	if got := counterValue(t, reg, "couponclip_runs_total", map[string]string{"op": "clip", "status": "error"}); got != 1 {
		t.Errorf("clip error: got %v, want 1", got)
	}
}

func TestCollector_OffersSessionsCleanup(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordOffer(true)
	c.RecordOffer(true)
	c.RecordOffer(false)
	c.RecordSessionReuse(true)
	c.RecordCleanup(4)
	c.RecordCleanup(1)

	if got := counterValue(t, reg, "couponclip_offers_total", map[string]string{"outcome": "clipped"}); got != 2 {
		t.Errorf("clipped: got %v, want 2", got)
	}
	if got := counterValue(t, reg, "couponclip_offers_total", map[string]string{"outcome": "failed"}); got != 1 {
		t.Errorf("failed: got %v, want 1", got)
	}
	if got := counterValue(t, reg, "couponclip_sessions_total", map[string]string{"source": "cache"}); got != 1 {
		t.Errorf("cache sessions: got %v, want 1", got)
	}
	if got := counterValue(t, reg, "couponclip_sessions_cleaned_total", nil); got != 5 {
		t.Errorf("cleaned: got %v, want 5", got)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRun("discover", "success", time.Second)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "couponclip_runs_total") {
		t.Error("response should contain couponclip_runs_total")
	}
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.RecordRun("clip", "success", time.Second)
	r.RecordOffer(true)
	r.RecordSessionReuse(false)
	r.RecordCleanup(3)
}
