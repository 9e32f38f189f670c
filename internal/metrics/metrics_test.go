package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Compiled(OutcomeOK, 10*time.Millisecond)
	m.Compiled(OutcomeOK, 20*time.Millisecond)
	m.Compiled(OutcomeFault, time.Millisecond)
	m.Discarded("stale")
	m.Scheduled("validation", true)
	m.UserMessage("warning")
	m.SetRoots(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.compiles.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compiles.WithLabelValues(OutcomeFault)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discarded.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scheduled.WithLabelValues("validation", "leading")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.roots))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Compiled(OutcomeOK, time.Second)
	m.Discarded("stale")
	m.Scheduled("codelens", false)
	m.UserMessage("error")
	m.SetRoots(1)
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.UserMessage("error")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `bamlls_user_messages_total{severity="error"} 1`))
}
