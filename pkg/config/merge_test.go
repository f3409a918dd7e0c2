package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/ports"
)

func TestMergeScalarOverlayWins(t *testing.T) {
	base := &VmConfig{Provider: "container-a", OS: "linux"}
	base.VM.Box = "ubuntu:22.04"
	base.VM.Memory = "2048"

	layer := &VmConfig{}
	layer.VM.Memory = "4gb"

	out, err := Merge(base, layer)
	require.NoError(t, err)

	assert.Equal(t, "container-a", out.Provider, "absent overlay fields keep base values")
	assert.Equal(t, "ubuntu:22.04", out.VM.Box)
	assert.Equal(t, Limit("4gb"), out.VM.Memory)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := &VmConfig{Provider: "container-a"}
	base.Aliases.Set("ll", "ls -la")
	layer := &VmConfig{Provider: "container-b"}
	layer.Aliases.Set("gs", "git status")

	_, err := Merge(base, layer)
	require.NoError(t, err)

	assert.Equal(t, "container-a", base.Provider)
	assert.Equal(t, []string{"ll"}, base.Aliases.Keys())
	assert.Equal(t, []string{"gs"}, layer.Aliases.Keys())
}

func TestMergePackageListsReplaced(t *testing.T) {
	base := &VmConfig{AptPackages: []string{"git", "curl"}, PipPackages: []string{"ipython"}}
	layer := &VmConfig{AptPackages: []string{"vim"}}

	out, err := Merge(base, layer)
	require.NoError(t, err)

	assert.Equal(t, []string{"vim"}, out.AptPackages, "sequences replace, never concatenate")
	assert.Equal(t, []string{"ipython"}, out.PipPackages, "absent lists keep base")
}

func TestMergeOrderedMapsKeepFirstSeenOrder(t *testing.T) {
	base := &VmConfig{}
	base.Environment.Set("A", "1")
	base.Environment.Set("B", "2")

	layer := &VmConfig{}
	layer.Environment.Set("B", "two")
	layer.Environment.Set("C", "3")

	out, err := Merge(base, layer)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, out.Environment.Keys())
	b, _ := out.Environment.Get("B")
	assert.Equal(t, "two", b)
}

func TestMergeServicesFieldWise(t *testing.T) {
	base := &VmConfig{}
	base.Services.Set("postgresql", &ServiceConfig{
		Enabled: boolPtr(false),
		Version: "15",
		User:    "dev",
	})

	layer := &VmConfig{}
	layer.Services.Set("postgresql", &ServiceConfig{Enabled: boolPtr(true)})
	layer.Services.Set("redis", &ServiceConfig{Enabled: boolPtr(true), Version: "7"})

	out, err := Merge(base, layer)
	require.NoError(t, err)

	pg, ok := out.Services.Get("postgresql")
	require.True(t, ok)
	assert.True(t, pg.IsEnabled(), "overlay flips enabled")
	assert.Equal(t, Version("15"), pg.Version, "unset overlay fields keep base")
	assert.Equal(t, "dev", pg.User)

	assert.Equal(t, []string{"postgresql", "redis"}, out.Services.Keys())
}

func TestMergePortsAndRange(t *testing.T) {
	base := &VmConfig{}
	base.Ports.Set("web", 3000)
	base.Ports.Range = &ports.Range{Start: 3100, End: 3109}

	layer := &VmConfig{}
	layer.Ports.Set("web", 8080)
	layer.Ports.Set("api", 3001)

	out, err := Merge(base, layer)
	require.NoError(t, err)

	web, _ := out.Ports.Get("web")
	assert.Equal(t, 8080, web)
	assert.Equal(t, []string{"web", "api"}, out.Ports.Services())
	require.NotNil(t, out.Ports.Range)
	assert.Equal(t, uint16(3100), out.Ports.Range.Start, "range survives when overlay has none")
}

func TestMergeLayersThreeDeep(t *testing.T) {
	defaults, err := Defaults()
	require.NoError(t, err)

	preset := &VmConfig{}
	preset.Services.Set("postgresql", &ServiceConfig{Enabled: boolPtr(true)})
	preset.Environment.Set("DJANGO_DEBUG", "true")

	user := &VmConfig{Provider: "container-a"}
	user.Project.Name = "shop"
	user.Environment.Set("DJANGO_DEBUG", "false")

	out, err := MergeLayers(defaults, preset, user)
	require.NoError(t, err)

	assert.False(t, out.IsPartial())
	assert.Equal(t, "ubuntu:22.04", out.VM.Box)
	pg, _ := out.Services.Get("postgresql")
	require.NotNil(t, pg)
	assert.True(t, pg.IsEnabled())
	v, _ := out.Environment.Get("DJANGO_DEBUG")
	assert.Equal(t, "false", v, "user layer wins over preset")
}
