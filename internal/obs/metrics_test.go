package obs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/miladsoleymani/ackmux/core"
	"github.com/miladsoleymani/ackmux/core/middleware"
)

var (
	_ middleware.MetricsCollector = (*Metrics)(nil)
	_ core.Observer               = (*Metrics)(nil)
)

func TestMetrics_DeliveryHandled(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), map[string]string{"team": "payments"})

	m.DeliveryHandled("orders", 3, 20*time.Millisecond, nil)
	m.DeliveryHandled("orders", 1, time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("orders", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("orders", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RecordsHandled.WithLabelValues("orders")))
}

func TestMetrics_Observer(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), nil)

	m.Committed(2, false)
	m.Committed(3, true)
	m.Committed(1, true)
	m.RolledBack(errors.New("boom"))
	m.Fenced(core.FencingStop)
	m.SecondaryCommitFailed(errors.New("db down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commits.WithLabelValues("false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commits.WithLabelValues("true")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CommittedOffsets.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rollbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FencingFaults.WithLabelValues(core.FencingStop.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SecondaryCommitFailures))
}

func TestNewHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, nil)
	m.Committed(1, false)

	srv := httptest.NewServer(NewHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "ackmux_commits_total"))
}

func TestStartMetricsServer_InvalidPort(t *testing.T) {
	err := StartMetricsServer(context.Background(), "http", prometheus.NewRegistry(), zap.NewNop())
	assert.Error(t, err)
}
