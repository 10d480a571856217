package dispatch

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewDispatchMetrics_RegistersAndCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewDispatchMetrics(registry)

	metrics.WorkersSpawned.Inc()
	metrics.WorkersSpawned.Inc()
	metrics.DispatchesSucceeded.Inc()
	metrics.ActiveWorkers.Set(2)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	values := make(map[string]float64)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[fam.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[fam.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	if got := values["inferd_manager_workers_spawned_total"]; got != 2 {
		t.Errorf("workers_spawned_total = %v, want 2", got)
	}
	if got := values["inferd_dispatch_succeeded_total"]; got != 1 {
		t.Errorf("dispatch_succeeded_total = %v, want 1", got)
	}
	if got := values["inferd_manager_active_workers"]; got != 2 {
		t.Errorf("active_workers = %v, want 2", got)
	}
}
