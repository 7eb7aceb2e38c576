package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
	failOpen uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }
func (f fakeSource) RateLimiterFailOpen() uint64               { return f.failOpen }

func TestCollectorDisabledMetricsOnlyRuntimeCounters(t *testing.T) {
	c := NewCollector(fakeSource{snapshot: authcore.MetricsSnapshot{
		Counters:   map[authcore.MetricID]uint64{},
		Histograms: map[authcore.MetricID][]uint64{},
	}})
	require.Equal(t, 2, testutil.CollectAndCount(c))
}

func TestCollectorExportsCountersAndHistogram(t *testing.T) {
	src := fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:         7,
				authcore.MetricRefreshReuseDetected: 1,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped:  2,
		failOpen: 3,
	}

	expected := `
# HELP authcore_login_success_total Successful logins.
# TYPE authcore_login_success_total counter
authcore_login_success_total 7
# HELP authcore_refresh_reuse_detected_total Refresh tokens presented after rotation or revocation.
# TYPE authcore_refresh_reuse_detected_total counter
authcore_refresh_reuse_detected_total 1
# HELP authcore_audit_dropped_total Audit events dropped because the background runner was full.
# TYPE authcore_audit_dropped_total counter
authcore_audit_dropped_total 2
# HELP authcore_ratelimit_fail_open_total Rate limit checks allowed because Redis was unavailable.
# TYPE authcore_ratelimit_fail_open_total counter
authcore_ratelimit_fail_open_total 3
`
	err := testutil.CollectAndCompare(NewCollector(src), strings.NewReader(expected),
		"authcore_login_success_total",
		"authcore_refresh_reuse_detected_total",
		"authcore_audit_dropped_total",
		"authcore_ratelimit_fail_open_total",
	)
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(src)))
	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "authcore_validate_latency_seconds" {
			continue
		}
		found = true
		h := mf.GetMetric()[0].GetHistogram()
		require.Equal(t, uint64(36), h.GetSampleCount())
		require.Len(t, h.GetBucket(), 7)
		require.Equal(t, uint64(1), h.GetBucket()[0].GetCumulativeCount())
		require.Equal(t, uint64(28), h.GetBucket()[6].GetCumulativeCount())
	}
	require.True(t, found, "histogram not exported")
}

func TestHandlerServesTextFormat(t *testing.T) {
	h, err := Handler(fakeSource{snapshot: authcore.MetricsSnapshot{
		Counters: map[authcore.MetricID]uint64{authcore.MetricLogout: 4},
	}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "authcore_logout_total 4")
}
