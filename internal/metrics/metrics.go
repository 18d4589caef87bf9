// Package metrics holds the Prometheus collectors for the scanner and its API.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch results used as the "result" label.
const (
	ResultSuccess      = "success"
	ResultTransport    = "transport"
	ResultMalformed    = "malformed"
	ResultMixedContent = "mixed_content"
)

var (
	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsb_scanner_fetches_total",
			Help: "Provider fetches by outcome. Cancelled fetches are not counted.",
		},
		[]string{"provider", "result"},
	)

	fetchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adsb_scanner_fetch_duration_seconds",
			Help:    "Provider fetch latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"provider"},
	)

	failoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsb_scanner_failovers_total",
			Help: "Provider rotations after consecutive failures.",
		},
		[]string{"from", "to"},
	)

	unreachableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adsb_scanner_unreachable_total",
			Help: "Scheduling iterations skipped because the network was unreachable.",
		},
	)

	targetsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adsb_scanner_targets",
			Help: "Number of targets in the most recent snapshot.",
		},
	)

	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adsb_scanner_state",
			Help: "Current controller state (1 for the active state, 0 otherwise).",
		},
		[]string{"state"},
	)

	sessionGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adsb_scanner_session",
			Help: "Current session token.",
		},
	)

	droppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsb_scanner_sink_dropped_total",
			Help: "Items discarded by a full output sink.",
		},
		[]string{"sink"},
	)

	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adsb_scanner_stream_clients",
			Help: "Connected websocket stream clients.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsb_scanner_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adsb_scanner_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		fetchesTotal,
		fetchDurationSeconds,
		failoversTotal,
		unreachableTotal,
		targetsGauge,
		stateGauge,
		sessionGauge,
		droppedTotal,
		streamClients,
		httpRequestsTotal,
		httpDurationSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one completed provider fetch.
func ObserveFetch(provider, result string, latency time.Duration) {
	fetchesTotal.WithLabelValues(provider, result).Inc()
	fetchDurationSeconds.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordFailover counts a provider rotation.
func RecordFailover(from, to string) {
	failoversTotal.WithLabelValues(from, to).Inc()
}

// RecordUnreachable counts an iteration skipped for lack of a network path.
func RecordUnreachable() {
	unreachableTotal.Inc()
}

// SetTargets sets the size of the latest snapshot.
func SetTargets(n int) {
	targetsGauge.Set(float64(n))
}

// SetState marks current as the active state among all.
func SetState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		stateGauge.WithLabelValues(s).Set(v)
	}
}

// SetSession publishes the current session token.
func SetSession(token uint64) {
	sessionGauge.Set(float64(token))
}

// RecordDropped counts an item discarded by the named sink.
func RecordDropped(sink string) {
	droppedTotal.WithLabelValues(sink).Inc()
}

// StreamClientConnected and StreamClientDisconnected track websocket clients.
func StreamClientConnected() { streamClients.Inc() }

func StreamClientDisconnected() { streamClients.Dec() }

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware records request count and duration for each request.
// Paths are labelled by chi route pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
