// Package metrics exposes the control plane's Prometheus surface (SPEC_FULL
// §7): instance gauges and admission-rejection counters, served at /metrics
// per the teacher pack's client_golang convention.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the control plane's metrics so callers only need one
// value to pass around.
type Registry struct {
	CurrentInstances prometheus.Gauge
	Admissions       *prometheus.CounterVec
	Executions       *prometheus.CounterVec
	ExecutionMs      prometheus.Histogram
}

// New registers and returns the control plane's metrics on a fresh registry.
func New() (*Registry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	r := &Registry{
		CurrentInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "faas_engine",
			Name:      "current_instances",
			Help:      "Number of sandbox instances currently running on this machine.",
		}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faas_engine",
			Name:      "admissions_total",
			Help:      "Admission decisions by outcome.",
		}, []string{"outcome"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faas_engine",
			Name:      "executions_total",
			Help:      "Completed executions by status.",
		}, []string{"status"}),
		ExecutionMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "faas_engine",
			Name:      "execution_duration_ms",
			Help:      "Execution wall-clock duration in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}),
	}

	reg.MustRegister(r.CurrentInstances, r.Admissions, r.Executions, r.ExecutionMs)
	return r, reg
}

// Handler returns the /metrics HTTP handler for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveAdmission records one admission decision. outcome is "accepted" or
// a rejection reason such as "machine_at_capacity".
func (r *Registry) ObserveAdmission(outcome string) {
	r.Admissions.WithLabelValues(outcome).Inc()
}

// SetCurrentInstances reports the Engine API's current_instance_count
// (spec.md §6.1) as a gauge.
func (r *Registry) SetCurrentInstances(n int64) {
	r.CurrentInstances.Set(float64(n))
}

// ObserveExecution records one completed execution.
func (r *Registry) ObserveExecution(status string, elapsedMs int64) {
	r.Executions.WithLabelValues(status).Inc()
	r.ExecutionMs.Observe(float64(elapsedMs))
}
