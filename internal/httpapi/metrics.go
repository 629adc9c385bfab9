package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelcore",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelcore",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency; streaming routes include the whole stream.",
		Buckets:   []float64{.005, .025, .1, .5, 1, 2.5, 5, 15, 30, 60, 120},
	}, []string{"route", "method", "status"})

	httpInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelcore",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Requests currently being served.",
	})

	streamedOutputs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "modelcore",
		Subsystem: "http",
		Name:      "streamed_outputs_total",
		Help:      "NDJSON ModelOutput lines written by /generate_stream.",
	})

	backpressureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelcore",
		Subsystem: "http",
		Name:      "backpressure_total",
		Help:      "Requests rejected with 429.",
	}, []string{"reason"})
)

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps NDJSON streaming working through the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// MetricsMiddleware instruments requests for Prometheus. The route label is
// read after the handler ran, once chi has matched the pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInflight.Inc()
		defer httpInflight.Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		labels := prometheus.Labels{"route": routePattern(r), "method": r.Method, "status": strconv.Itoa(sr.status)}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

// routePattern returns the matched chi pattern. Unmatched requests share one
// label so arbitrary paths cannot blow up cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// IncrementBackpressure is called when returning 429 to the client
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}
