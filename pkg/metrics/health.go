package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status strings reported by the health and readiness endpoints.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// criticalComponents must all report healthy before readiness flips. The
// serve command registers each one as it comes up.
var criticalComponents = []string{"store", "provisioner", "api"}

// component is one registered subsystem.
type component struct {
	healthy bool
	message string
	updated time.Time
}

type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]component
	version    string
	started    time.Time
}

var registry = &healthRegistry{
	components: make(map[string]component),
	started:    time.Now(),
}

// SetVersion stamps health responses with the build version.
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// RegisterComponent records a subsystem's health. Registering an existing
// name overwrites it.
func RegisterComponent(name string, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.components[name] = component{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
}

// UpdateComponent flips a registered subsystem's health.
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// HealthStatus is the JSON shape of the health and readiness reports.
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// GetHealth reports overall process health: unhealthy as soon as any
// registered component is.
func GetHealth() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	status := StatusHealthy
	components := make(map[string]string, len(registry.components))
	for name, comp := range registry.components {
		if comp.healthy {
			components[name] = StatusHealthy
			continue
		}
		status = StatusUnhealthy
		components[name] = StatusUnhealthy + ": " + comp.message
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    registry.version,
		Uptime:     time.Since(registry.started).String(),
	}
}

// GetReadiness reports ready only once every critical component has
// registered healthy.
func GetReadiness() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	status := StatusReady
	message := ""
	components := make(map[string]string, len(criticalComponents))
	for _, name := range criticalComponents {
		comp, ok := registry.components[name]
		switch {
		case !ok:
			status = StatusNotReady
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.healthy:
			status = StatusNotReady
			message = "waiting for " + name
			components[name] = StatusNotReady + ": " + comp.message
		default:
			components[name] = StatusReady
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    registry.version,
		Uptime:     time.Since(registry.started).String(),
	}
}

// ReadyHandler serves the readiness report, answering 503 until every
// critical component has come up.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()

		code := http.StatusOK
		if readiness.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(readiness)
	}
}
