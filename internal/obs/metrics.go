package obs

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	accessDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Entitlement decisions by reason.",
		},
		[]string{"reason"},
	)

	riskEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_evaluations_total",
			Help: "Risk evaluations by resulting level.",
		},
		[]string{"level"},
	)

	breakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half_open, 2=open).",
	})

	delayedAdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delayed_admissions_total",
			Help: "Admissions flagged as delayed by the circuit breaker.",
		},
		[]string{"tier"},
	)

	inFlight atomic.Int64
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		accessDecisionsTotal, riskEvaluationsTotal,
		breakerState, delayedAdmissionsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountDecision records an entitlement decision outcome.
func CountDecision(reason string) {
	accessDecisionsTotal.WithLabelValues(reason).Inc()
}

// CountRiskEvaluation records a risk evaluation outcome.
func CountRiskEvaluation(level string) {
	riskEvaluationsTotal.WithLabelValues(level).Inc()
}

// SetBreakerState mirrors the breaker state into a gauge.
func SetBreakerState(v float64) {
	breakerState.Set(v)
}

// CountDelayedAdmission records a delayed admission for a tier.
func CountDelayedAdmission(tier string) {
	delayedAdmissionsTotal.WithLabelValues(tier).Inc()
}

// InFlight reports the number of HTTP requests currently being served.
// The breaker sampler uses it as the queue-depth signal.
func InFlight() int {
	return int(inFlight.Load())
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		inFlight.Add(1)
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
		inFlight.Add(-1)
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
