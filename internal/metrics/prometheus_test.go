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

func TestObserveCall(t *testing.T) {
	r := NewIsolated()

	r.ObserveCall("dp_add", OutcomeOK, 10*time.Millisecond)
	r.ObserveCall("dp_add", OutcomeOK, 20*time.Millisecond)
	r.ObserveCall("dp_add", OutcomeTimeout, 5*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.CallsTotal.WithLabelValues("dp_add", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CallsTotal.WithLabelValues("dp_add", OutcomeTimeout)))
	assert.Equal(t, 1, testutil.CollectAndCount(r.CallDuration))
}

func TestIsolatedRegistriesDoNotShareState(t *testing.T) {
	a, b := NewIsolated(), NewIsolated()
	a.StaleReplies.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.StaleReplies))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StaleReplies))
}

func TestHandler(t *testing.T) {
	r := NewIsolated()
	r.StaleReplies.Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "brcompat_stale_replies_total 1"))
}

func TestGetIsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}
