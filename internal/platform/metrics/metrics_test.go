package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCheck(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ObserveCheck("api", "ok", 20*time.Millisecond)
	m.ObserveCheck("api", "exhausted", time.Second)
	m.ObserveCheck("db", "ok", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("api", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("api", "exhausted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LastResult.WithLabelValues("api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LastResult.WithLabelValues("db")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Duration))
}

func TestJobFinished(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.JobFinished("prune", time.Second, nil)
	m.JobFinished("prune", time.Second, errors.New("boom"))
	m.JobFinished("prune", time.Second, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("prune", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("prune", "error")))
}

func TestHandler(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.Attempts.WithLabelValues("api").Add(3)
	m.Rounds.Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `probed_check_attempts_total{target="api"} 3`)
	assert.Contains(t, string(body), "probed_rounds_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNew_Independent(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	a.Rounds.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Rounds))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Rounds))
}
