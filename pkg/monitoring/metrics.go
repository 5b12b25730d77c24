package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Access decision metrics
	accessDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Total number of access guard decisions",
		},
		[]string{"outcome", "reason"},
	)

	// Emergency override metrics
	overrideActivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emergency_override_activations_total",
			Help: "Total number of emergency override activations",
		},
	)

	overrideBackedGrantsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emergency_override_grants_total",
			Help: "Total number of access grants backed by an active emergency override",
		},
	)

	// Audit trail metrics
	auditWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of failed audit log writes",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		accessDecisionsTotal,
		overrideActivationsTotal,
		overrideBackedGrantsTotal,
		auditWriteFailuresTotal,
	)
}

// RecordAccessDecision records the outcome of a guard decision. reason is
// empty for grants.
func RecordAccessDecision(allowed bool, reason string) {
	outcome := "granted"
	if !allowed {
		outcome = "denied"
	}
	accessDecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordOverrideActivation records an emergency override activation
func RecordOverrideActivation() {
	overrideActivationsTotal.Inc()
}

// RecordOverrideBackedGrant records an access grant that relied on an
// active emergency override.
func RecordOverrideBackedGrant() {
	overrideBackedGrantsTotal.Inc()
}

// RecordAuditWriteFailure records a failed audit log write
func RecordAuditWriteFailure() {
	auditWriteFailuresTotal.Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter captures the status code for metrics
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request count and duration per endpoint
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}
