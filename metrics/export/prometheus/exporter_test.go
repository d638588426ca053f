package prometheus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/tokengate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type fakeSource struct {
	snapshot tokengate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tokengate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tokengate.MetricsSnapshot{
			Counters:   map[tokengate.MetricID]uint64{},
			Histograms: map[tokengate.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterHistogramAndGauge(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tokengate.MetricsSnapshot{
			Counters: map[tokengate.MetricID]uint64{
				tokengate.MetricLoginSuccess:          7,
				tokengate.MetricRefreshReplayDetected: 1,
			},
			Histograms: map[tokengate.MetricID][]uint64{
				tokengate.MetricAuthenticateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
			ActiveSessions: 5,
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"tokengate_login_success_total 7",
		"tokengate_refresh_replay_detected_total 1",
		"tokengate_auth_store_unavailable_total 0",
		"tokengate_authenticate_latency_seconds_bucket{le=\"0.005\"} 1",
		"tokengate_authenticate_latency_seconds_bucket{le=\"+Inf\"} 36",
		"tokengate_authenticate_latency_seconds_count 36",
		"# TYPE tokengate_active_sessions gauge",
		"tokengate_active_sessions 5",
		"tokengate_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "tokengate_login_latency_seconds") {
		t.Fatal("histograms absent from the snapshot must not be rendered")
	}
	if out != exp.Render() {
		t.Fatal("render must be deterministic")
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tokengate.MetricsSnapshot{
			Counters:   map[tokengate.MetricID]uint64{tokengate.MetricLoginSuccess: 1},
			Histograms: map[tokengate.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestExporterReadsEngine(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	defer rdb.Close()

	cfg := tokengate.DefaultConfig()
	cfg.JWT.Secret = []byte("prometheus-exporter-secret-0123456789")
	log := logrus.New()
	log.SetOutput(io.Discard)
	engine, err := tokengate.New().WithConfig(cfg).WithRedis(rdb).WithLogger(log).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := engine.Login(context.Background(), tokengate.User{ID: "u1", UUID: "x", Channel: "WEB"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	out := NewPrometheusExporter(engine).Render()
	if !strings.Contains(out, "tokengate_login_success_total 1") || !strings.Contains(out, "tokengate_active_sessions 1") {
		t.Fatalf("engine metrics not rendered:\n%s", out)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tokengate.MetricsSnapshot{
			Counters: map[tokengate.MetricID]uint64{
				tokengate.MetricLoginSuccess:   1000,
				tokengate.MetricLoginFailure:   40,
				tokengate.MetricRefreshSuccess: 800,
				tokengate.MetricRefreshFailure: 10,
				tokengate.MetricAuthAccepted:   90000,
				tokengate.MetricAuthRejected:   120,
			},
			Histograms: map[tokengate.MetricID][]uint64{
				tokengate.MetricAuthenticateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
			ActiveSessions: 780,
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
