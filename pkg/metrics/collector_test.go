package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestCollectorPublishesSnapshot(t *testing.T) {
	source := func() (Snapshot, error) {
		return Snapshot{
			WorkspacesByStatus: map[string]int{"running": 3, "failed": 1},
			ServicesRunning:    2,
			ServiceReferences:  map[string]int{"postgresql": 3, "redis": 1},
		}, nil
	}

	c := NewCollector(source, time.Minute)
	c.collect()

	if got := gaugeValue(t, WorkspacesTotal); got != 4 {
		t.Errorf("WorkspacesTotal = %v, want 4", got)
	}
	if got := gaugeValue(t, WorkspacesByStatus.WithLabelValues("running")); got != 3 {
		t.Errorf("running workspaces = %v, want 3", got)
	}
	if got := gaugeValue(t, ServicesRunning); got != 2 {
		t.Errorf("ServicesRunning = %v, want 2", got)
	}
	if got := gaugeValue(t, ServiceReferences.WithLabelValues("postgresql")); got != 3 {
		t.Errorf("postgresql references = %v, want 3", got)
	}
}

func TestCollectorIgnoresSourceError(t *testing.T) {
	WorkspacesTotal.Set(7)

	c := NewCollector(func() (Snapshot, error) {
		return Snapshot{}, errors.New("store closed")
	}, time.Minute)
	c.collect()

	if got := gaugeValue(t, WorkspacesTotal); got != 7 {
		t.Errorf("gauge changed on source error: %v", got)
	}
}

func TestNewCollectorDefaultInterval(t *testing.T) {
	c := NewCollector(func() (Snapshot, error) { return Snapshot{}, nil }, 0)
	if c.interval != 15*time.Second {
		t.Errorf("default interval = %v, want 15s", c.interval)
	}
}
