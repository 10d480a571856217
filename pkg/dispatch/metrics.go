package dispatch

import "github.com/prometheus/client_golang/prometheus"

// DispatchMetrics wires the Manager's pool/dispatch counters into
// Prometheus, the concern MetricsConfig describes in config.go.
type DispatchMetrics struct {
	ActiveWorkers          prometheus.Gauge
	WorkersSpawned         prometheus.Counter
	WorkersRetired         prometheus.Counter
	DispatchesSucceeded    prometheus.Counter
	DispatchesFailed       prometheus.Counter
	DispatchLatencySeconds prometheus.Histogram
}

// NewDispatchMetrics builds and registers the dispatcher's metric family
// against registry.
func NewDispatchMetrics(registry prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "manager",
			Name:      "active_workers",
			Help:      "Number of workers currently registered in the pool.",
		}),
		WorkersSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "manager",
			Name:      "workers_spawned_total",
			Help:      "Total number of worker processes successfully spawned.",
		}),
		WorkersRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "manager",
			Name:      "workers_retired_total",
			Help:      "Total number of worker processes retired (kill_worker or spot_workers).",
		}),
		DispatchesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "dispatch",
			Name:      "succeeded_total",
			Help:      "Total number of ComputeInference dispatches that completed successfully.",
		}),
		DispatchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "dispatch",
			Name:      "failed_total",
			Help:      "Total number of ComputeInference dispatches that failed (RpcFailure or InferenceFailure).",
		}),
		DispatchLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "dispatch",
			Name:      "latency_seconds",
			Help:      "Observed wall-clock duration of successful ComputeInference dispatches.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.ActiveWorkers,
		m.WorkersSpawned,
		m.WorkersRetired,
		m.DispatchesSucceeded,
		m.DispatchesFailed,
		m.DispatchLatencySeconds,
	)
	return m
}
