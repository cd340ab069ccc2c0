// Package metrics exposes the process's Prometheus collectors, following
// the instrumentation idiom of cmd/vault-secret-collection-manager (an
// httprouter wrapper observing method/path/status) and cmd/pod-scaler (a
// package-level *prometheus.HistogramVec registered once in init).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "iib_http_request_duration_seconds",
		Help: "Duration of IIB API HTTP requests by method, path and status.",
	}, []string{"method", "path", "status"})

	// BuildPhaseDuration records how long each build-driver phase (spec
	// section 4.8) takes, labelled by request type and phase name.
	BuildPhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "iib_build_phase_duration_seconds",
		Help: "Duration of a single build-driver phase.",
	}, []string{"request_type", "phase"})

	// BuildOutcomes counts terminal build-driver outcomes, labelled by
	// request type and the terminal state reached.
	BuildOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iib_build_outcomes_total",
		Help: "Count of requests reaching a terminal state, by request type and state.",
	}, []string{"request_type", "state"})

	// QueueDepth gauges the number of tasks waiting in a named dispatcher
	// queue. It is registered below, but no code in this module sets it,
	// so it exports no samples.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iib_queue_depth",
		Help: "Number of tasks currently queued, by queue name.",
	}, []string{"queue"})
)

func init() {
	// Registered in init() so repeated test runs within one process never
	// hit prometheus's duplicate-registration panic.
	prometheus.MustRegister(httpRequestDuration, BuildPhaseDuration, BuildOutcomes, QueueDepth)
}

// Handler serves the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusCapturingWriter struct {
	http.ResponseWriter
	wroteHeader bool
	statusCode  int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.statusCode = http.StatusOK
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(p)
}

// InstrumentHandler wraps an http.Handler so every request's duration is
// observed in httpRequestDuration, keyed by method, URL path, and final
// status code.
func InstrumentHandler(upstream http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturing := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		upstream.ServeHTTP(capturing, r)
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(capturing.statusCode)).Observe(time.Since(start).Seconds())
	})
}
