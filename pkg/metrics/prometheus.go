// Package metrics provides Prometheus-based metrics recording for mission
// orchestration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder records mission transitions, gate check outcomes and
// cost spend. It satisfies the Recorder interfaces of the gate engine and
// the orchestrator.
type PrometheusRecorder struct {
	transitionsTotal   *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	gateChecksTotal    *prometheus.CounterVec
	gateCheckDuration  *prometheus.HistogramVec
	costTotal          prometheus.Counter
}

// NewPrometheusRecorder creates a Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		transitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mission_transitions_total",
				Help: "Total number of mission transition attempts by transition and outcome",
			},
			[]string{"transition", "status"},
		),
		transitionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mission_transition_duration_seconds",
				Help:    "Duration of mission transitions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transition"},
		),
		gateChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mission_gate_checks_total",
				Help: "Total number of quality gate checks by check name and status",
			},
			[]string{"check", "status"},
		),
		gateCheckDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mission_gate_check_duration_seconds",
				Help:    "Duration of quality gate checks in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"check"},
		),
		costTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mission_cost_usd_total",
				Help: "Total cost in USD recorded across all missions",
			},
		),
	}
}

// ObserveTransition records a completed transition attempt.
func (p *PrometheusRecorder) ObserveTransition(transitionName, status string, duration time.Duration) {
	p.transitionsTotal.WithLabelValues(transitionName, status).Inc()
	p.transitionDuration.WithLabelValues(transitionName).Observe(duration.Seconds())
}

// ObserveGateCheck records the outcome of one quality gate check.
func (p *PrometheusRecorder) ObserveGateCheck(checkName, status string, duration time.Duration) {
	p.gateChecksTotal.WithLabelValues(checkName, status).Inc()
	p.gateCheckDuration.WithLabelValues(checkName).Observe(duration.Seconds())
}

// AddCost records cost spend in USD.
func (p *PrometheusRecorder) AddCost(costUSD float64) {
	p.costTotal.Add(costUSD)
}
