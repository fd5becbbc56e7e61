// Package metrics provides Prometheus instrumentation for the engine.
//
// It exposes operational metrics about the control loop's performance:
// the duration of each pipeline stage (collect, predict), cycle outcomes,
// and error tracking. All metrics live on an explicit registry owned by
// the process and served at the /metrics HTTP endpoint; nothing registers
// globally.
//
// Metrics exposed:
//   - scalecast_collect_seconds: Histogram of metric collection duration
//   - scalecast_predict_seconds: Histogram of per-instance prediction duration
//   - scalecast_cycle_seconds: Histogram of full cycle duration
//   - scalecast_tracked_instances: Gauge of instances with at least one sample
//   - scalecast_last_cycle_timestamp_seconds: Gauge of the last completed cycle
//   - scalecast_errors_total: Counter of errors by component and reason
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all operational Prometheus metrics for the engine.
type Metrics struct {
	registry *prometheus.Registry

	CollectSeconds   prometheus.Histogram
	PredictSeconds   prometheus.Histogram
	CycleSeconds     prometheus.Histogram
	TrackedInstances prometheus.Gauge
	LastCycleSeconds prometheus.Gauge
	ErrorsTotal      *prometheus.CounterVec
}

// New creates all engine metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		CollectSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalecast_collect_seconds",
			Help:    "Time spent collecting metrics from the source",
			Buckets: prometheus.DefBuckets,
		}),

		PredictSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalecast_predict_seconds",
			Help:    "Time spent obtaining a forecast for one instance",
			Buckets: prometheus.DefBuckets,
		}),

		CycleSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalecast_cycle_seconds",
			Help:    "Time spent on a full collect-window-forecast-publish cycle",
			Buckets: prometheus.DefBuckets,
		}),

		TrackedInstances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scalecast_tracked_instances",
			Help: "Number of instances that have produced at least one sample",
		}),

		LastCycleSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scalecast_last_cycle_timestamp_seconds",
			Help: "Unix timestamp of the last completed cycle",
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scalecast_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// Registry returns the registry holding the engine's operational metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCollect records the time spent collecting metrics.
func (m *Metrics) RecordCollect(seconds float64) {
	m.CollectSeconds.Observe(seconds)
}

// RecordPredict records the time spent on one prediction.
func (m *Metrics) RecordPredict(seconds float64) {
	m.PredictSeconds.Observe(seconds)
}

// RecordCycle records the duration of a full cycle and stamps its
// completion time.
func (m *Metrics) RecordCycle(seconds float64, completedAtUnix float64) {
	m.CycleSeconds.Observe(seconds)
	m.LastCycleSeconds.Set(completedAtUnix)
}

// SetTrackedInstances sets the number of known instances.
func (m *Metrics) SetTrackedInstances(n int) {
	m.TrackedInstances.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
