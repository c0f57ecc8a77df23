package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PrometheusRecorder implements Recorder using Prometheus counters and a
// histogram, trimmed from the teacher's PrometheusMetrics down to the
// events the decision engine actually emits (no embedding/vector metrics —
// that subsystem is out of scope).
type PrometheusRecorder struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	evaluationErrors prometheus.Counter
	derivedRoleCache *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusRecorder builds a PrometheusRecorder with its own registry,
// following NewPrometheusMetrics's namespace-and-register pattern.
func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions by policy outcome",
		},
		[]string{"policy"},
	)

	decisionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_microseconds",
			Help:      "Per-action check evaluation latency in microseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)

	evaluationErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_errors_total",
			Help:      "Total number of fail-closed denies caused by an evaluator error",
		},
	)

	derivedRoleCache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "derived_role_cache",
			Name:      "operations_total",
			Help:      "Total derived-role resolver memo cache hits/misses",
		},
		[]string{"result"},
	)

	registry.MustRegister(decisionsTotal, decisionDuration, evaluationErrors, derivedRoleCache)

	return &PrometheusRecorder{
		decisionsTotal:   decisionsTotal,
		decisionDuration: decisionDuration,
		evaluationErrors: evaluationErrors,
		derivedRoleCache: derivedRoleCache,
		registry:         registry,
	}
}

// RecordDecision implements Recorder.
func (p *PrometheusRecorder) RecordDecision(policy string, duration time.Duration) {
	p.decisionsTotal.WithLabelValues(policy).Inc()
	p.decisionDuration.Observe(float64(duration.Microseconds()))
}

// RecordEvaluationError implements Recorder.
func (p *PrometheusRecorder) RecordEvaluationError() {
	p.evaluationErrors.Inc()
}

// RecordDerivedRoleCache implements Recorder.
func (p *PrometheusRecorder) RecordDerivedRoleCache(hit bool) {
	if hit {
		p.derivedRoleCache.WithLabelValues("hit").Inc()
		return
	}
	p.derivedRoleCache.WithLabelValues("miss").Inc()
}

// Registry exposes the Prometheus registry so a host process can mount
// promhttp.HandlerFor(recorder.Registry(), ...) itself — this package stays
// transport-free, matching spec.md's "no transport" Non-goal.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}
