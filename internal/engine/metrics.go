package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// Metrics 汇总引擎的 prometheus 指标。
type Metrics struct {
	decisions    *prometheus.CounterVec
	errors       *prometheus.CounterVec
	duration     prometheus.Histogram
	breakerState prometheus.Gauge
	transitions  *prometheus.CounterVec
}

// NewMetrics 创建指标；reg 为 nil 时不注册。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policy",
			Name:      "decisions_total",
			Help:      "Completed policy evaluations by decision status.",
		}, []string{"status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policy",
			Name:      "evaluation_errors_total",
			Help:      "Policy evaluations that produced no decision, by error kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "policy",
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of policy evaluations including the resilience wrapper.",
			Buckets:   prometheus.DefBuckets,
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "policy",
			Name:      "circuit_breaker_state",
			Help:      "Evaluation circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policy",
			Name:      "circuit_breaker_transitions_total",
			Help:      "Evaluation circuit breaker state transitions.",
		}, []string{"from", "to"}),
	}

	if reg != nil {
		reg.MustRegister(m.decisions, m.errors, m.duration, m.breakerState, m.transitions)
	}
	return m
}

func (m *Metrics) observeDecision(status Status, seconds float64) {
	m.decisions.WithLabelValues(string(status)).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) observeError(kind string, seconds float64) {
	m.errors.WithLabelValues(kind).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) observeTransition(from, to gobreaker.State) {
	m.transitions.WithLabelValues(breakerStateName(from), breakerStateName(to)).Inc()
	switch to {
	case gobreaker.StateClosed:
		m.breakerState.Set(0)
	case gobreaker.StateHalfOpen:
		m.breakerState.Set(1)
	case gobreaker.StateOpen:
		m.breakerState.Set(2)
	}
}

func breakerStateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "CLOSED"
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	case gobreaker.StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}
