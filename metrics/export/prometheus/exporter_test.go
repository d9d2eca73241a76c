package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	stayAuth "github.com/MrEthical07/stayAuth"
)

type fakeSource struct {
	snapshot stayAuth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() stayAuth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: stayAuth.MetricsSnapshot{
			Counters:   map[stayAuth.MetricID]uint64{},
			Histograms: map[stayAuth.MetricID][]uint64{},
		},
	})
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: stayAuth.MetricsSnapshot{
			Counters: map[stayAuth.MetricID]uint64{
				stayAuth.MetricLoginSuccess:         7,
				stayAuth.MetricRefreshReuseDetected: 1,
			},
			Histograms: map[stayAuth.MetricID][]uint64{
				stayAuth.MetricAuthenticateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"stayauth_login_success_total 7",
		"stayauth_refresh_reuse_detected_total 1",
		"stayauth_breaker_opened_total 0",
		"stayauth_authenticate_latency_seconds_bucket{le=\"0.005\"} 1",
		"stayauth_authenticate_latency_seconds_bucket{le=\"+Inf\"} 36",
		"stayauth_authenticate_latency_seconds_count 36",
		"stayauth_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderSkipsDisabledHistogram(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: stayAuth.MetricsSnapshot{
			Counters:   map[stayAuth.MetricID]uint64{stayAuth.MetricLogout: 1},
			Histograms: map[stayAuth.MetricID][]uint64{},
		},
	})
	if out := exp.Render(); strings.Contains(out, "latency") {
		t.Fatalf("histogram rendered without data:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: stayAuth.MetricsSnapshot{
			Counters: map[stayAuth.MetricID]uint64{stayAuth.MetricLoginSuccess: 1},
		},
	})

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporter(fakeSource{
		snapshot: stayAuth.MetricsSnapshot{
			Counters: map[stayAuth.MetricID]uint64{
				stayAuth.MetricLoginSuccess:        1000,
				stayAuth.MetricLoginFailure:        40,
				stayAuth.MetricRefreshSuccess:      800,
				stayAuth.MetricAuthenticateSuccess: 90000,
			},
			Histograms: map[stayAuth.MetricID][]uint64{
				stayAuth.MetricAuthenticateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
