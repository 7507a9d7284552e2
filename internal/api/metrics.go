package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbridge_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	webhookDepositsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentbridge_webhook_deposits_total",
			Help: "Callback results deposited by the workflow engine.",
		},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentbridge_rate_limited_total",
			Help: "Callback requests denied by the rate limiter.",
		},
	)

	pendingResults = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentbridge_pending_results",
			Help: "Results deposited and not yet withdrawn.",
		},
	)

	storedFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentbridge_stored_files",
			Help: "Uploaded files currently held in the temporary store.",
		},
	)

	storeEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbridge_store_evictions_total",
			Help: "Entries removed by TTL expiry, per store.",
		},
		[]string{"store"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(webhookDepositsTotal)
	prometheus.MustRegister(rateLimitedTotal)
	prometheus.MustRegister(pendingResults)
	prometheus.MustRegister(storedFiles)
	prometheus.MustRegister(storeEvictionsTotal)
}

// RecordEviction counts a TTL eviction for the named store. Wired into the
// expiring stores' eviction hooks at startup.
func RecordEviction(store string) {
	storeEvictionsTotal.WithLabelValues(store).Inc()
}

// metricsMiddleware records request count and duration for every HTTP request.
// Uses the chi route pattern (not the raw path) to avoid unbounded cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start).Seconds()
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// metricsHandler returns the Prometheus metrics handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
