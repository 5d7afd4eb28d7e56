package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medrex/consent-ledger/pkg/types"
)

// Decision outcomes
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// MetricsCollector handles Prometheus metrics collection for the ledger
type MetricsCollector struct {
	serviceName string
	gatherer    prometheus.Gatherer

	decisionsTotal    *prometheus.CounterVec
	auditEntriesTotal *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	httpRequestsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a collector registered on a fresh registry
func NewMetricsCollector(serviceName string) *MetricsCollector {
	return NewMetricsCollectorWith(serviceName, prometheus.NewRegistry())
}

// NewMetricsCollectorWith creates a collector registered on reg
func NewMetricsCollectorWith(serviceName string, reg *prometheus.Registry) *MetricsCollector {
	m := &MetricsCollector{
		serviceName: serviceName,
		gatherer:    reg,
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consent_ledger_decisions_total",
				Help: "Total number of access-control decisions",
			},
			[]string{"operation", "outcome", "service"},
		),
		auditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consent_ledger_audit_entries_total",
				Help: "Total number of audit entries appended",
			},
			[]string{"action", "service"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consent_ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation", "service"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status_code", "service"},
		),
	}

	reg.MustRegister(
		m.decisionsTotal,
		m.auditEntriesTotal,
		m.operationDuration,
		m.httpRequestsTotal,
	)

	return m
}

// RecordDecision records the outcome of one ledger operation
func (m *MetricsCollector) RecordDecision(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(operation, Outcome(err), m.serviceName).Inc()
	m.operationDuration.WithLabelValues(operation, m.serviceName).Observe(duration.Seconds())
}

// Outcome classifies an operation result. Typed ledger errors other than
// AuditFailed are denials; anything else is an error.
func Outcome(err error) string {
	if err == nil {
		return OutcomeAllowed
	}
	code, ok := types.CodeOf(err)
	if !ok || code == types.CodeAuditFailed {
		return OutcomeError
	}
	return OutcomeDenied
}

// RecordError records an infrastructure failure of an operation
func (m *MetricsCollector) RecordError(operation string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(operation, OutcomeError, m.serviceName).Inc()
}

// RecordAuditEntry records an appended audit entry
func (m *MetricsCollector) RecordAuditEntry(action string) {
	if m == nil {
		return
	}
	m.auditEntriesTotal.WithLabelValues(action, m.serviceName).Inc()
}

// Decisions exposes the decision counter, mainly for tests
func (m *MetricsCollector) Decisions() *prometheus.CounterVec {
	return m.decisionsTotal
}

// AuditEntries exposes the audit entry counter, mainly for tests
func (m *MetricsCollector) AuditEntries() *prometheus.CounterVec {
	return m.auditEntriesTotal
}

// ServiceName returns the service label value
func (m *MetricsCollector) ServiceName() string {
	return m.serviceName
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// HTTPMiddleware creates middleware for HTTP request metrics
func (m *MetricsCollector) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		m.httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(wrapper.statusCode), m.serviceName).Inc()
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
