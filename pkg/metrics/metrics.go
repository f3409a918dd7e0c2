package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Workspace metrics
	WorkspacesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vm_workspaces_total",
			Help: "Total number of workspaces in the store",
		},
	)

	WorkspacesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vm_workspaces_by_status",
			Help: "Number of workspaces by lifecycle status",
		},
		[]string{"status"},
	)

	// Provisioner metrics
	ProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vm_provision_duration_seconds",
			Help:    "Time from picking up a Creating workspace to its final state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	ProvisionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vm_provision_failures_total",
			Help: "Total number of workspaces that ended Failed",
		},
	)

	WorkspacesReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vm_workspaces_reaped_total",
			Help: "Total number of expired workspaces destroyed by the reaper",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vm_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vm_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Shared service metrics
	ServicesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vm_services_running",
			Help: "Number of shared services currently running",
		},
	)

	ServiceReferences = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vm_service_references",
			Help: "Reference count per shared service",
		},
		[]string{"service"},
	)

	// Snapshot metrics
	SnapshotDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vm_snapshot_duration_seconds",
			Help:    "Snapshot operation duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(WorkspacesTotal)
	prometheus.MustRegister(WorkspacesByStatus)
	prometheus.MustRegister(ProvisionDuration)
	prometheus.MustRegister(ProvisionFailures)
	prometheus.MustRegister(WorkspacesReaped)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ServicesRunning)
	prometheus.MustRegister(ServiceReferences)
	prometheus.MustRegister(SnapshotDuration)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on a histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed seconds on a labeled histogram.
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
