package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	upstreamDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60}
	bodySizeBuckets         = []float64{100, 1024, 10240, 102400, 1048576, 10485760}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Work order workflow metrics
	WorkOrdersCreatedTotal  *prometheus.CounterVec
	SessionsStartedTotal    *prometheus.CounterVec
	StepsCompletedTotal     *prometheus.CounterVec
	ReportsSubmittedTotal   *prometheus.CounterVec
	ApprovalsDecidedTotal   *prometheus.CounterVec
	PhaseAdvancesTotal      *prometheus.CounterVec
	ProceduresSyncedTotal   *prometheus.CounterVec
	ProcedureTemplatesTotal prometheus.Gauge

	// AI metrics
	AIRequestsTotal         *prometheus.CounterVec
	AIUpstreamRequestsTotal *prometheus.CounterVec
	AIUpstreamDuration      prometheus.Histogram
	AIUpstreamRetriesTotal  prometheus.Counter
	AICircuitBreakerState   prometheus.Gauge

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_http_requests_total",
			Help: "Total HTTP requests by method, route, and status.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldops_http_request_duration_seconds",
			Help:    "HTTP request duration by method and route.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldops_http_request_size_bytes",
			Help:    "HTTP request body size.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldops_http_response_size_bytes",
			Help:    "HTTP response body size.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		WorkOrdersCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_work_orders_created_total",
			Help: "Work orders created by work type.",
		}, []string{"work_type"}),
		SessionsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_sessions_started_total",
			Help: "Phase sessions started by phase.",
		}, []string{"phase"}),
		StepsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_steps_completed_total",
			Help: "Procedure steps recorded by result.",
		}, []string{"result"}),
		ReportsSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_reports_submitted_total",
			Help: "Phase reports submitted by phase.",
		}, []string{"phase"}),
		ApprovalsDecidedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_approvals_decided_total",
			Help: "Approval decisions by phase and decision.",
		}, []string{"phase", "decision"}),
		PhaseAdvancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_phase_advances_total",
			Help: "Work order phase transitions.",
		}, []string{"from", "to"}),
		ProceduresSyncedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_procedure_sync_total",
			Help: "Procedure catalog sync attempts by status.",
		}, []string{"status"}),
		ProcedureTemplatesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldops_procedure_templates_loaded",
			Help: "Procedure templates loaded from the catalog.",
		}),

		AIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_ai_requests_total",
			Help: "AI endpoint requests by function and outcome.",
		}, []string{"function", "outcome"}),
		AIUpstreamRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_ai_upstream_requests_total",
			Help: "Chat-completion upstream calls by outcome.",
		}, []string{"outcome"}),
		AIUpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldops_ai_upstream_duration_seconds",
			Help:    "Chat-completion upstream call latency.",
			Buckets: upstreamDurationBuckets,
		}),
		AIUpstreamRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_ai_upstream_retries_total",
			Help: "Chat-completion upstream retries.",
		}),
		AICircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldops_ai_circuit_breaker_state",
			Help: "AI upstream circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),

		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_capability_cache_hits_total",
			Help: "Capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_capability_cache_misses_total",
			Help: "Capability cache misses.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Workflow
		m.WorkOrdersCreatedTotal,
		m.SessionsStartedTotal,
		m.StepsCompletedTotal,
		m.ReportsSubmittedTotal,
		m.ApprovalsDecidedTotal,
		m.PhaseAdvancesTotal,
		m.ProceduresSyncedTotal,
		m.ProcedureTemplatesTotal,
		// AI
		m.AIRequestsTotal,
		m.AIUpstreamRequestsTotal,
		m.AIUpstreamDuration,
		m.AIUpstreamRetriesTotal,
		m.AICircuitBreakerState,
		// Cache
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordWorkOrderCreated counts a new work order.
func (m *Metrics) RecordWorkOrderCreated(workType string) {
	m.WorkOrdersCreatedTotal.WithLabelValues(workType).Inc()
}

// RecordSessionStarted counts a started phase session.
func (m *Metrics) RecordSessionStarted(phase string) {
	m.SessionsStartedTotal.WithLabelValues(phase).Inc()
}

// RecordStepCompleted counts a recorded step result.
func (m *Metrics) RecordStepCompleted(result string) {
	m.StepsCompletedTotal.WithLabelValues(result).Inc()
}

// RecordReportSubmitted counts a submitted phase report.
func (m *Metrics) RecordReportSubmitted(phase string) {
	m.ReportsSubmittedTotal.WithLabelValues(phase).Inc()
}

// RecordApprovalDecision counts an approval decision.
func (m *Metrics) RecordApprovalDecision(phase, decision string) {
	m.ApprovalsDecidedTotal.WithLabelValues(phase, decision).Inc()
}

// RecordPhaseAdvance counts a phase transition.
func (m *Metrics) RecordPhaseAdvance(from, to string) {
	m.PhaseAdvancesTotal.WithLabelValues(from, to).Inc()
}

// RecordProcedureSync records a catalog sync and the number of templates
// it loaded.
func (m *Metrics) RecordProcedureSync(status string, templates int) {
	m.ProceduresSyncedTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.ProcedureTemplatesTotal.Set(float64(templates))
	}
}

// RecordAIRequest counts an AI endpoint request.
func (m *Metrics) RecordAIRequest(function, outcome string) {
	m.AIRequestsTotal.WithLabelValues(function, outcome).Inc()
}

// RecordUpstreamCall records one chat-completion call.
func (m *Metrics) RecordUpstreamCall(outcome string, duration time.Duration) {
	m.AIUpstreamRequestsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.AIUpstreamDuration.Observe(duration.Seconds())
	}
}

// RecordUpstreamRetry counts a chat-completion retry.
func (m *Metrics) RecordUpstreamRetry() {
	m.AIUpstreamRetriesTotal.Inc()
}

// SetCircuitBreakerState records the AI upstream breaker state.
func (m *Metrics) SetCircuitBreakerState(state string) {
	switch state {
	case "open":
		m.AICircuitBreakerState.Set(1)
	case "half-open":
		m.AICircuitBreakerState.Set(2)
	default:
		m.AICircuitBreakerState.Set(0)
	}
}

// RecordCapabilityCacheHit counts a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss counts a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	m.CapabilityCacheMissesTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// HandlerFor returns a /metrics handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// responseRecorder captures the status and body size written by a handler.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *responseRecorder) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
