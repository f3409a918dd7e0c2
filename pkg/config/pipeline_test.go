package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/ports"
)

func writeUserConfig(t *testing.T, dir, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vm.yaml"), []byte(doc), 0o644))
}

func TestLoadFullPipeline(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "manage.py") // django sentinel
	writeUserConfig(t, dir, `provider: container-a
project:
  name: shop
ports:
  range: [3100, 3109]
services:
  redis:
    enabled: true
environment:
  DJANGO_DEBUG: "false"
`)

	res, err := Load(LoadOptions{
		ProjectDir: dir,
		Range:      &ports.Range{Start: 3100, End: 3109},
	})
	require.NoError(t, err)

	assert.Equal(t, "django", res.Preset)
	assert.Equal(t, []string{"django"}, res.DetectedTags)
	assert.Equal(t, filepath.Join(dir, "vm.yaml"), res.UserConfig)

	cfg := res.Config
	assert.False(t, cfg.IsPartial())
	assert.Equal(t, "shop", cfg.Project.Name)
	assert.Equal(t, "ubuntu:22.04", cfg.VM.Box, "defaults survive")

	// Preset enabled postgresql, user enabled redis; both got ports from
	// the top of the range in priority order.
	pg, _ := cfg.Services.Get("postgresql")
	require.NotNil(t, pg)
	require.NotNil(t, pg.Port)
	assert.Equal(t, 3109, *pg.Port)

	redis, _ := cfg.Services.Get("redis")
	require.NotNil(t, redis.Port)
	assert.Equal(t, 3108, *redis.Port)

	v, _ := cfg.Environment.Get("DJANGO_DEBUG")
	assert.Equal(t, "false", v, "user layer beats preset")
}

func TestLoadWithoutUserConfig(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "go.mod")

	res, err := Load(LoadOptions{ProjectDir: dir})
	require.NoError(t, err)

	assert.Equal(t, "go", res.Preset)
	assert.Empty(t, res.UserConfig)
	assert.Equal(t, filepath.Base(dir), res.Config.Project.Name, "project name falls back to the directory")
	assert.Equal(t, "/workspace", res.Config.Project.WorkspacePath)
	assert.True(t, res.Config.IsPartial(), "no provider without user config")
}

func TestLoadForcedPreset(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "package.json")

	res, err := Load(LoadOptions{ProjectDir: dir, Preset: "rust"})
	require.NoError(t, err)
	assert.Equal(t, "rust", res.Preset)
	assert.Empty(t, res.DetectedTags, "forced preset skips detection")
}

func TestLoadPresetNone(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "package.json")

	res, err := Load(LoadOptions{ProjectDir: dir, Preset: "none"})
	require.NoError(t, err)
	assert.Empty(t, res.Preset)
	assert.Empty(t, res.Config.NpmPackages, "nodejs preset not applied")
}

func TestLoadValidationFailureAborts(t *testing.T) {
	dir := t.TempDir()
	writeUserConfig(t, dir, `provider: container-a
project:
  name: demo
ports:
  web: 80
`)

	_, err := Load(LoadOptions{ProjectDir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "privileged")
}

func TestLoadAdoptsAllocatedRange(t *testing.T) {
	dir := t.TempDir()
	writeUserConfig(t, dir, `provider: container-a
project:
  name: demo
services:
  postgresql:
    enabled: true
`)

	res, err := Load(LoadOptions{
		ProjectDir: dir,
		Range:      &ports.Range{Start: 4000, End: 4009},
	})
	require.NoError(t, err)

	require.NotNil(t, res.Config.Ports.Range)
	pg, _ := res.Config.Services.Get("postgresql")
	require.NotNil(t, pg.Port)
	assert.Equal(t, 4009, *pg.Port)
}
