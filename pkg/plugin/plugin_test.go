package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/errdefs"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), "plugins"))
}

// installPlugin drops a valid plugin directly into the tree.
func installPlugin(t *testing.T, m *Manager, name string, kind Kind) {
	t.Helper()

	dir := filepath.Join(m.Root(), kind.subdir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"),
		[]byte("name: "+name+"\nkind: "+string(kind)+"\nversion: 1.0.0\ndescription: test plugin\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, kind.payloadFile()),
		[]byte("# payload\n"), 0o644))
}

func TestListEmptyTree(t *testing.T) {
	m := testManager(t)

	infos, err := m.List("")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestListByKind(t *testing.T) {
	m := testManager(t)
	installPlugin(t, m, "django", KindPreset)
	installPlugin(t, m, "rails", KindPreset)
	installPlugin(t, m, "clickhouse", KindService)

	presets, err := m.List(KindPreset)
	require.NoError(t, err)
	require.Len(t, presets, 2)
	assert.Equal(t, "django", presets[0].Name)
	assert.Equal(t, "rails", presets[1].Name)

	all, err := m.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "clickhouse", all[0].Name, "sorted by name across kinds")

	_, err = m.List("gadget")
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestListSkipsBrokenPlugins(t *testing.T) {
	m := testManager(t)
	installPlugin(t, m, "good", KindPreset)

	// Metadata without the payload file.
	dir := filepath.Join(m.Root(), "presets", "broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"),
		[]byte("name: broken\nkind: preset\n"), 0o644))

	infos, err := m.List(KindPreset)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "good", infos[0].Name)
}

func TestListIsStateless(t *testing.T) {
	m := testManager(t)

	infos, err := m.List("")
	require.NoError(t, err)
	assert.Empty(t, infos)

	// A plugin added behind the manager's back shows up on the next scan.
	installPlugin(t, m, "late", KindService)
	infos, err = m.List("")
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestInfo(t *testing.T) {
	m := testManager(t)
	installPlugin(t, m, "django", KindPreset)

	info, err := m.Info("django")
	require.NoError(t, err)
	assert.Equal(t, "django", info.Name)
	assert.Equal(t, KindPreset, info.Kind)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, filepath.Join(m.Root(), "presets", "django", "preset.yaml"), info.Payload)

	_, err = m.Info("ghost")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestInfoRejectsNameMismatch(t *testing.T) {
	m := testManager(t)

	dir := filepath.Join(m.Root(), "presets", "alias")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"),
		[]byte("name: other\nkind: preset\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "preset.yaml"), []byte("#\n"), 0o644))

	_, err := m.Info("alias")
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestInstall(t *testing.T) {
	m := testManager(t)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "plugin.yaml"),
		[]byte("name: laravel\nkind: preset\nversion: 2.0.0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "preset.yaml"),
		[]byte("preset:\n  name: laravel\n"), 0o644))

	info, err := m.Install(src)
	require.NoError(t, err)
	assert.Equal(t, "laravel", info.Name)
	assert.Equal(t, "2.0.0", info.Version)
	assert.FileExists(t, filepath.Join(m.Root(), "presets", "laravel", "preset.yaml"))

	// Second install of the same name is refused.
	_, err = m.Install(src)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestInstallValidates(t *testing.T) {
	m := testManager(t)

	tests := []struct {
		name  string
		files map[string]string
	}{
		{"no metadata", map[string]string{"preset.yaml": "#"}},
		{"no name", map[string]string{"plugin.yaml": "kind: preset", "preset.yaml": "#"}},
		{"bad kind", map[string]string{"plugin.yaml": "name: x\nkind: gadget", "preset.yaml": "#"}},
		{"missing payload", map[string]string{"plugin.yaml": "name: x\nkind: preset"}},
		{"bad name", map[string]string{"plugin.yaml": "name: ../up\nkind: preset", "preset.yaml": "#"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := t.TempDir()
			for file, content := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(src, file), []byte(content), 0o644))
			}
			_, err := m.Install(src)
			require.Error(t, err)
			assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
		})
	}
}

func TestRemove(t *testing.T) {
	m := testManager(t)
	installPlugin(t, m, "django", KindPreset)

	require.NoError(t, m.Remove("django"))
	assert.NoDirExists(t, filepath.Join(m.Root(), "presets", "django"))

	assert.ErrorIs(t, m.Remove("django"), errdefs.ErrNotFound)
}

func TestNew(t *testing.T) {
	m := testManager(t)

	dir, err := m.New("myservice", KindService)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "plugin.yaml"))
	assert.FileExists(t, filepath.Join(dir, "service.yaml"))

	// The scaffold is immediately listable.
	info, err := m.Info("myservice")
	require.NoError(t, err)
	assert.Equal(t, KindService, info.Kind)
	assert.Equal(t, "0.1.0", info.Version)

	_, err = m.New("myservice", KindService)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))

	_, err = m.New("Bad Name", KindPreset)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}
