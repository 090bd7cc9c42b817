// Package metrics exposes prometheus collectors for step processing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Machine labels.
const (
	MachineDraft      = "draft"
	MachineThought    = "thought"
	MachineIntegrator = "integrator"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the collectors registered on one registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	StepsTotal     *prometheus.CounterVec
	StepConfidence *prometheus.HistogramVec
	StepDuration   *prometheus.HistogramVec
	Failures       *prometheus.CounterVec
	ActiveChains   prometheus.Gauge
}

// New creates a registry and registers every collector on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		StepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refinery_steps_total",
				Help: "Total number of submitted steps",
			},
			[]string{"machine", "outcome"},
		),
		StepConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refinery_step_confidence",
				Help:    "Confidence of accepted steps",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"machine"},
		),
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "refinery_step_duration_seconds",
				Help: "Step processing duration in seconds",
			},
			[]string{"machine"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refinery_step_failures_total",
				Help: "Total number of failed steps by phase",
			},
			[]string{"machine", "phase"},
		),
		ActiveChains: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "refinery_active_thought_chains",
				Help: "Number of thought chains held in memory",
			},
		),
	}
}

// ObserveStep records an accepted step.
func (m *Metrics) ObserveStep(machine string, confidence float64, d time.Duration) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(machine, OutcomeSuccess).Inc()
	m.StepConfidence.WithLabelValues(machine).Observe(confidence)
	m.StepDuration.WithLabelValues(machine).Observe(d.Seconds())
}

// RecordFailure records a rejected or failed step.
func (m *Metrics) RecordFailure(machine, phase string) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(machine, OutcomeFailure).Inc()
	m.Failures.WithLabelValues(machine, phase).Inc()
}

// SetActiveChains sets the number of in-memory thought chains.
func (m *Metrics) SetActiveChains(n int) {
	if m == nil {
		return
	}
	m.ActiveChains.Set(float64(n))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
