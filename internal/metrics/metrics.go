// Package metrics exposes conveyor's Prometheus instrumentation: job
// submission counts, pool occupancy, and execution outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conveyor/internal/pool"
)

// Metrics bundles the collectors the scheduler and engine report into.
type Metrics struct {
	registry *prometheus.Registry

	SubmissionsTotal  *prometheus.CounterVec
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	PoolInFlight      *prometheus.GaugeVec
	PoolWaiting       *prometheus.GaugeVec
	PoolCapacity      *prometheus.GaugeVec
}

// New creates a metrics bundle on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "conveyor",
				Name:      "job_submissions_total",
				Help:      "Job submission attempts by stage and terminal state",
			},
			[]string{"stage", "state"},
		),
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "conveyor",
				Name:      "executions_total",
				Help:      "Executions by terminal status",
			},
			[]string{"status"},
		),
		ExecutionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "conveyor",
				Name:      "execution_duration_seconds",
				Help:      "Wall time from trigger to terminal status",
				Buckets:   []float64{10, 60, 300, 900, 3600, 14400, 43200, 86400},
			},
		),
		PoolInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "conveyor",
				Name:      "pool_in_flight_units",
				Help:      "Capacity units currently allocated per resource class",
			},
			[]string{"class"},
		),
		PoolWaiting: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "conveyor",
				Name:      "pool_waiting_requests",
				Help:      "Acquire requests parked per resource class",
			},
			[]string{"class"},
		),
		PoolCapacity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "conveyor",
				Name:      "pool_capacity_units",
				Help:      "Configured capacity bound per resource class",
			},
			[]string{"class"},
		),
	}
}

// ObservePools samples current pool occupancy into the gauges.
func (m *Metrics) ObservePools(pools []*pool.Pool) {
	if m == nil {
		return
	}
	for _, p := range pools {
		class := string(p.Class())
		m.PoolInFlight.WithLabelValues(class).Set(float64(p.InFlight()))
		m.PoolWaiting.WithLabelValues(class).Set(float64(p.Waiting()))
		m.PoolCapacity.WithLabelValues(class).Set(float64(p.Capacity()))
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
