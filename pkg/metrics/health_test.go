package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetRegistry() {
	registry = &healthRegistry{
		components: make(map[string]component),
		started:    time.Now(),
	}
}

func TestGetHealthAllHealthy(t *testing.T) {
	resetRegistry()
	SetVersion("1.0.0")

	RegisterComponent("api", true, "")
	RegisterComponent("store", true, "")

	report := GetHealth()
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Components, 2)
	assert.Equal(t, "1.0.0", report.Version)
	assert.NotEmpty(t, report.Uptime)
}

func TestGetHealthOneUnhealthy(t *testing.T) {
	resetRegistry()

	RegisterComponent("api", true, "")
	RegisterComponent("store", false, "database locked")

	report := GetHealth()
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "unhealthy: database locked", report.Components["store"])
}

func TestUpdateComponentFlips(t *testing.T) {
	resetRegistry()

	RegisterComponent("store", true, "open")
	UpdateComponent("store", false, "compaction failed")

	report := GetHealth()
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestGetReadinessAllReady(t *testing.T) {
	resetRegistry()

	RegisterComponent("store", true, "")
	RegisterComponent("provisioner", true, "")
	RegisterComponent("api", true, "")

	report := GetReadiness()
	assert.Equal(t, StatusReady, report.Status)
	assert.Empty(t, report.Message)
}

func TestGetReadinessMissingCritical(t *testing.T) {
	resetRegistry()

	RegisterComponent("api", true, "")

	report := GetReadiness()
	assert.Equal(t, StatusNotReady, report.Status)
	assert.NotEmpty(t, report.Message)
	assert.Equal(t, "not registered", report.Components["store"])
}

func TestGetReadinessUnhealthyCritical(t *testing.T) {
	resetRegistry()

	RegisterComponent("store", true, "")
	RegisterComponent("provisioner", false, "tick loop stopped")
	RegisterComponent("api", true, "")

	report := GetReadiness()
	assert.Equal(t, StatusNotReady, report.Status)
}

func TestReadyHandler(t *testing.T) {
	resetRegistry()

	RegisterComponent("store", true, "")
	RegisterComponent("provisioner", true, "")
	RegisterComponent("api", true, "")

	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusReady, report.Status)
}

func TestReadyHandlerNotReady(t *testing.T) {
	resetRegistry()

	RegisterComponent("api", true, "")

	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusNotReady, report.Status)
}
