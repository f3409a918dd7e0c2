package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/ports"
)

func touch(t *testing.T, dir string, rel string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestDetectPresetPriority(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "package.json")
	touch(t, dir, "next.config.js")
	touch(t, dir, "Dockerfile")

	tag, all := DetectPreset(dir)
	assert.Equal(t, "next", tag, "next outranks nodejs and docker")
	assert.Equal(t, []string{"next", "nodejs", "docker"}, all)
}

func TestDetectPresetSingleMatch(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Cargo.toml")

	tag, all := DetectPreset(dir)
	assert.Equal(t, "rust", tag)
	assert.Equal(t, []string{"rust"}, all)
}

func TestDetectPresetDirectorySentinel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "k8s"), 0o755))

	tag, _ := DetectPreset(dir)
	assert.Equal(t, "kubernetes", tag)

	// A plain file named k8s is not the sentinel.
	other := t.TempDir()
	touch(t, other, "k8s")
	tag, _ = DetectPreset(other)
	assert.Empty(t, tag)
}

func TestDetectPresetNothing(t *testing.T) {
	tag, all := DetectPreset(t.TempDir())
	assert.Empty(t, tag)
	assert.Nil(t, all)
}

func TestSubstitutePorts(t *testing.T) {
	rng := &ports.Range{Start: 3100, End: 3109}

	out, err := substitutePorts([]byte("port: ${port.0}\nother: ${port.9}\n"), rng)
	require.NoError(t, err)
	assert.Equal(t, "port: 3100\nother: 3109\n", string(out))
}

func TestSubstitutePortsOutOfRange(t *testing.T) {
	rng := &ports.Range{Start: 3100, End: 3109}

	_, err := substitutePorts([]byte("port: ${port.10}\n"), rng)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestSubstitutePortsWithoutRange(t *testing.T) {
	_, err := substitutePorts([]byte("port: ${port.0}\n"), nil)
	require.Error(t, err)
}

func TestLoadEmbeddedPreset(t *testing.T) {
	preset, err := LoadPreset("django", "", &ports.Range{Start: 3100, End: 3109})
	require.NoError(t, err)

	assert.Equal(t, "django", preset.Name)
	assert.Equal(t, PresetCategoryProvision, preset.Category)

	pg, ok := preset.Config.Services.Get("postgresql")
	require.True(t, ok)
	assert.True(t, pg.IsEnabled())
}

func TestLoadPresetUnknown(t *testing.T) {
	_, err := LoadPreset("fortran", "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestLoadPresetPluginOverridesEmbedded(t *testing.T) {
	plugins := t.TempDir()
	dir := filepath.Join(plugins, "presets", "django")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc := "category: provision\nenvironment:\n  APP_PORT: \"${port.1}\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "preset.yaml"), []byte(doc), 0o644))

	preset, err := LoadPreset("django", plugins, &ports.Range{Start: 3100, End: 3109})
	require.NoError(t, err)

	port, ok := preset.Config.Environment.Get("APP_PORT")
	require.True(t, ok)
	assert.Equal(t, "3101", port)

	// The embedded postgresql block must not leak through the override.
	_, ok = preset.Config.Services.Get("postgresql")
	assert.False(t, ok)
}

func TestLoadPresetBadCategory(t *testing.T) {
	plugins := t.TempDir()
	dir := filepath.Join(plugins, "presets", "weird")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "preset.yaml"),
		[]byte("category: flavor\n"), 0o644))

	_, err := LoadPreset("weird", plugins, nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestLoadPresetBoxCategory(t *testing.T) {
	plugins := t.TempDir()
	dir := filepath.Join(plugins, "presets", "alpine")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc := "category: box\nvm:\n  box: alpine:3.20\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "preset.yaml"), []byte(doc), 0o644))

	preset, err := LoadPreset("alpine", plugins, nil)
	require.NoError(t, err)
	assert.Equal(t, PresetCategoryBox, preset.Category)
	assert.Equal(t, "alpine:3.20", preset.Config.VM.Box)
}
