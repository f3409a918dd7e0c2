package metrics

import (
	"time"
)

// Snapshot is one observation of orchestrator state, produced by the
// collector's source on every tick.
type Snapshot struct {
	// WorkspacesByStatus counts workspaces per lifecycle status (lowercase
	// keys as stored).
	WorkspacesByStatus map[string]int
	// ServicesRunning counts shared services currently up.
	ServicesRunning int
	// ServiceReferences maps shared service name to reference count.
	ServiceReferences map[string]int
}

// Source produces a Snapshot. The serve command wires one that queries the
// workspace store and the service manager; keeping it a function keeps this
// package free of store dependencies.
type Source func() (Snapshot, error)

// Collector periodically publishes orchestrator state gauges.
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector polling source every interval.
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting. The first collection happens immediately.
func (c *Collector) Start() {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap, err := c.source()
	if err != nil {
		return
	}

	total := 0
	for status, count := range snap.WorkspacesByStatus {
		WorkspacesByStatus.WithLabelValues(status).Set(float64(count))
		total += count
	}
	WorkspacesTotal.Set(float64(total))

	ServicesRunning.Set(float64(snap.ServicesRunning))
	for service, refs := range snap.ServiceReferences {
		ServiceReferences.WithLabelValues(service).Set(float64(refs))
	}
}
