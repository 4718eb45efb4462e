package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	assert.NotNil(t, su.done, "expected done channel to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")

	// a second updater reuses the process-wide map
	assert.NotPanics(t, func() { NewStatsUpdater(http.NewServeMux()) })
}

func TestStatsUpdater_Counters(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric(ActiveConnections)
	su.RegisterMetric(MessagesSent)
	su.Run()
	defer su.Stop()

	su.Incr(ActiveConnections)
	su.Incr(ActiveConnections)
	su.Decr(ActiveConnections)
	su.Add(MessagesSent, 3)

	assert.Eventually(t, func() bool {
		active := su.vars.Get(ActiveConnections).(*expvar.Int).Value()
		sent := su.vars.Get(MessagesSent).(*expvar.Int).Value()
		return active == 1 && sent == 3
	}, time.Second, 10*time.Millisecond)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body[ActiveConnections])
	assert.Equal(t, float64(3), body[MessagesSent])
	assert.Contains(t, body, "Uptime")
}

func TestStatsUpdater_AddAfterStop(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.RegisterMetric(StatusTransitions)
	su.Run()

	su.Stop()
	assert.NotPanics(t, su.Stop, "expected stopping twice to be safe")

	// fill well past the buffer; none of these may block or panic
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 2048 {
			su.Incr(StatusTransitions)
			su.Decr(StatusTransitions)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("updates after Stop blocked")
	}
}
