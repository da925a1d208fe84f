package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mnemoforge/authcore"
)

type stubSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (s stubSource) MetricsSnapshot() authcore.MetricsSnapshot { return s.snapshot }
func (s stubSource) AuditDropped() uint64                      { return s.dropped }

func TestRenderNothingWhenDisabled(t *testing.T) {
	x := New(stubSource{})
	if out := x.Render(); len(out) != 0 {
		t.Fatalf("disabled metrics rendered:\n%s", out)
	}
}

func TestRenderCountersAndCumulativeHistogram(t *testing.T) {
	x := New(stubSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:            7,
				authcore.MetricPasswordResetSuppressed: 2,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricLoginLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 3,
	})

	out := string(x.Render())
	for _, want := range []string{
		"# TYPE authcore_login_success_total counter\n",
		"authcore_login_success_total 7\n",
		"authcore_password_reset_suppressed_total 2\n",
		"authcore_2fa_failure_total 0\n",
		`authcore_login_latency_seconds_bucket{le="0.025"} 1` + "\n",
		`authcore_login_latency_seconds_bucket{le="0.1"} 6` + "\n",
		`authcore_login_latency_seconds_bucket{le="+Inf"} 36` + "\n",
		"authcore_login_latency_seconds_count 36\n",
		"authcore_audit_dropped_total 3\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderShortHistogramIsZeroFilled(t *testing.T) {
	x := New(stubSource{
		snapshot: authcore.MetricsSnapshot{
			Histograms: map[authcore.MetricID][]uint64{authcore.MetricLoginLatency: {4}},
		},
	})
	out := string(x.Render())
	if !strings.Contains(out, `authcore_login_latency_seconds_bucket{le="+Inf"} 4`) {
		t.Fatalf("unexpected histogram:\n%s", out)
	}
}

func TestEscapeHelp(t *testing.T) {
	if got := escapeHelp("a\\b\nc"); got != `a\\b\nc` {
		t.Fatalf("escapeHelp = %q", got)
	}
}

func TestHandlerContentType(t *testing.T) {
	x := New(stubSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
		},
	})

	rec := httptest.NewRecorder()
	x.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != contentType {
		t.Fatalf("content type = %q", got)
	}
}
