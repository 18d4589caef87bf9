package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFetch(t *testing.T) {
	before := testutil.ToFloat64(fetchesTotal.WithLabelValues("test-fetch", ResultSuccess))
	ObserveFetch("test-fetch", ResultSuccess, 120*time.Millisecond)
	ObserveFetch("test-fetch", ResultTransport, time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(fetchesTotal.WithLabelValues("test-fetch", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(fetchesTotal.WithLabelValues("test-fetch", ResultTransport)))
}

func TestSetState(t *testing.T) {
	all := []string{"IDLE", "SCANNING", "FAULT"}
	SetState("SCANNING", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(stateGauge.WithLabelValues("IDLE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(stateGauge.WithLabelValues("SCANNING")))

	SetState("FAULT", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(stateGauge.WithLabelValues("SCANNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(stateGauge.WithLabelValues("FAULT")))
}

func TestGaugesAndCounters(t *testing.T) {
	SetTargets(12)
	assert.Equal(t, 12.0, testutil.ToFloat64(targetsGauge))

	SetSession(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(sessionGauge))

	before := testutil.ToFloat64(unreachableTotal)
	RecordUnreachable()
	assert.Equal(t, before+1, testutil.ToFloat64(unreachableTotal))

	RecordFailover("a", "b")
	assert.Equal(t, 1.0, testutil.ToFloat64(failoversTotal.WithLabelValues("a", "b")))

	RecordDropped("test-sink")
	RecordDropped("test-sink")
	assert.Equal(t, 2.0, testutil.ToFloat64(droppedTotal.WithLabelValues("test-sink")))

	start := testutil.ToFloat64(streamClients)
	StreamClientConnected()
	StreamClientConnected()
	StreamClientDisconnected()
	assert.Equal(t, start+1, testutil.ToFloat64(streamClients))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	for _, id := range []string{"1", "2", "3"} {
		resp, err := http.Get(srv.URL + "/things/" + id)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/things/{id}", "GET", "418")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	SetTargets(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "adsb_scanner_targets 3"))
}

func TestHijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	assert.Error(t, err)
}
