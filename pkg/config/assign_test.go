package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/ports"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func servicePort(t *testing.T, cfg *VmConfig, name string) *int {
	t.Helper()
	svc, ok := cfg.Services.Get(name)
	require.True(t, ok, "service %s missing", name)
	return svc.Port
}

// Priority services claim the top of the range regardless of declaration
// order; services in the no-port set stay portless.
func TestEnsureServicePortsPriority(t *testing.T) {
	cfg := &VmConfig{}
	cfg.Ports.Range = &ports.Range{Start: 3100, End: 3109}
	for _, name := range []string{"mongodb", "redis", "mysql", "postgresql"} {
		cfg.Services.Set(name, &ServiceConfig{Enabled: boolPtr(true)})
	}
	cfg.Services.Set("docker", &ServiceConfig{Enabled: boolPtr(true)})

	require.NoError(t, EnsureServicePorts(cfg))

	assert.Equal(t, 3109, *servicePort(t, cfg, "postgresql"))
	assert.Equal(t, 3108, *servicePort(t, cfg, "redis"))
	assert.Equal(t, 3107, *servicePort(t, cfg, "mysql"))
	assert.Equal(t, 3106, *servicePort(t, cfg, "mongodb"))
	assert.Nil(t, servicePort(t, cfg, "docker"))
}

func TestEnsureServicePortsUnlistedServicesFollowDeclarationOrder(t *testing.T) {
	cfg := &VmConfig{}
	cfg.Ports.Range = &ports.Range{Start: 3100, End: 3109}
	cfg.Services.Set("rabbitmq", &ServiceConfig{Enabled: boolPtr(true)})
	cfg.Services.Set("postgresql", &ServiceConfig{Enabled: boolPtr(true)})
	cfg.Services.Set("elasticsearch", &ServiceConfig{Enabled: boolPtr(true)})

	require.NoError(t, EnsureServicePorts(cfg))

	assert.Equal(t, 3109, *servicePort(t, cfg, "postgresql"), "priority first")
	assert.Equal(t, 3108, *servicePort(t, cfg, "rabbitmq"))
	assert.Equal(t, 3107, *servicePort(t, cfg, "elasticsearch"))
}

// A disabled service with an in-range port loses it: once written, an
// auto-assigned port cannot be told apart from a manual one.
func TestEnsureServicePortsDisabledInRangeCleared(t *testing.T) {
	cfg := &VmConfig{}
	cfg.Ports.Range = &ports.Range{Start: 3100, End: 3109}
	cfg.Services.Set("postgresql", &ServiceConfig{Enabled: boolPtr(false), Port: intPtr(3105)})

	require.NoError(t, EnsureServicePorts(cfg))
	assert.Nil(t, servicePort(t, cfg, "postgresql"))
}

func TestEnsureServicePortsManualOutOfRangeSurvives(t *testing.T) {
	cfg := &VmConfig{}
	cfg.Ports.Range = &ports.Range{Start: 3100, End: 3109}
	cfg.Services.Set("postgresql", &ServiceConfig{Enabled: boolPtr(false), Port: intPtr(9999)})

	require.NoError(t, EnsureServicePorts(cfg))
	require.NotNil(t, servicePort(t, cfg, "postgresql"))
	assert.Equal(t, 9999, *servicePort(t, cfg, "postgresql"))

	// Re-enabling keeps the manual port and assigns nothing new.
	svc, _ := cfg.Services.Get("postgresql")
	svc.Enabled = boolPtr(true)
	require.NoError(t, EnsureServicePorts(cfg))
	assert.Equal(t, 9999, *servicePort(t, cfg, "postgresql"))
}

func TestEnsureServicePortsSkipsTakenPorts(t *testing.T) {
	cfg := &VmConfig{}
	cfg.Ports.Range = &ports.Range{Start: 3100, End: 3109}
	cfg.Ports.Set("web", 3109)
	cfg.Services.Set("redis", &ServiceConfig{Enabled: boolPtr(true)})

	require.NoError(t, EnsureServicePorts(cfg))
	assert.Equal(t, 3108, *servicePort(t, cfg, "redis"))
}

func TestEnsureServicePortsExhaustedRange(t *testing.T) {
	cfg := &VmConfig{}
	cfg.Ports.Range = &ports.Range{Start: 3100, End: 3101}
	for _, name := range []string{"postgresql", "redis", "mysql"} {
		cfg.Services.Set(name, &ServiceConfig{Enabled: boolPtr(true)})
	}

	err := EnsureServicePorts(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")
}

func TestEnsureServicePortsNoRangeNeeded(t *testing.T) {
	cfg := &VmConfig{}
	cfg.Services.Set("postgresql", &ServiceConfig{Enabled: boolPtr(true), Port: intPtr(5432)})

	// All enabled services already have ports; no range required.
	require.NoError(t, EnsureServicePorts(cfg))

	cfg.Services.Set("redis", &ServiceConfig{Enabled: boolPtr(true)})
	require.Error(t, EnsureServicePorts(cfg))
}

func TestEnsureServicePortsIdempotent(t *testing.T) {
	cfg := &VmConfig{}
	cfg.Ports.Range = &ports.Range{Start: 3100, End: 3109}
	cfg.Services.Set("postgresql", &ServiceConfig{Enabled: boolPtr(true)})
	cfg.Services.Set("redis", &ServiceConfig{Enabled: boolPtr(true)})

	require.NoError(t, EnsureServicePorts(cfg))
	first := *servicePort(t, cfg, "postgresql")
	second := *servicePort(t, cfg, "redis")

	require.NoError(t, EnsureServicePorts(cfg))
	assert.Equal(t, first, *servicePort(t, cfg, "postgresql"))
	assert.Equal(t, second, *servicePort(t, cfg, "redis"))
}
