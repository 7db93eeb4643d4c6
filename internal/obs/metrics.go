package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by all handlers.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service passes its readiness probe, 0 otherwise.",
	})
)

// Impersonation domain metrics.
var (
	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "impersonation_sessions_started_total",
		Help: "Impersonation sessions created.",
	})

	SessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impersonation_sessions_ended_total",
			Help: "Impersonation sessions transitioned to a terminal status.",
		},
		[]string{"status"},
	)

	GuardedActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impersonation_guarded_actions_total",
			Help: "Guarded actions evaluated under impersonation sessions.",
		},
		[]string{"outcome"},
	)

	AuditWriteRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "impersonation_audit_write_retries_total",
		Help: "Transient audit append failures that were retried.",
	})

	AuditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "impersonation_audit_write_failures_total",
		Help: "Audit appends that exhausted retries and were escalated.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
		SessionsStarted, SessionsEnded, GuardedActions,
		AuditWriteRetries, AuditWriteFailures,
	)
}

// SetReady records the latest readiness probe outcome.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with request count/latency/in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "impersonation" && parts[2] == "sessions" {
		switch len(parts) {
		case 3:
			return "/v1/impersonation/sessions"
		case 4:
			return "/v1/impersonation/sessions/:id"
		case 5:
			return "/v1/impersonation/sessions/:id/" + parts[4]
		}
	}
	return path
}

// statusWriter records the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
