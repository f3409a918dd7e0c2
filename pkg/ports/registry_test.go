package ports

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/errdefs"
)

func testRegistryPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "port-registry.json")
}

func TestLoadMissingFile(t *testing.T) {
	reg, err := Load(testRegistryPath(t))
	require.NoError(t, err)
	assert.Empty(t, reg.List())
}

func TestLoadMalformedFile(t *testing.T) {
	path := testRegistryPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindFilesystem),
		"malformed registry must be fatal, not reset: %v", err)
}

func TestLoadBadRangeInFile(t *testing.T) {
	path := testRegistryPath(t)
	content := `{"broken": {"range": "9-5", "path": "/tmp/broken"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestRegisterRoundTrip(t *testing.T) {
	path := testRegistryPath(t)

	reg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, reg.Register("api-server", Range{3100, 3109}, "/home/dev/api-server"))

	// No temp file left behind.
	_, statErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr))

	reloaded, err := Load(path)
	require.NoError(t, err)

	entry, ok := reloaded.Get("api-server")
	require.True(t, ok)
	assert.Equal(t, Range{3100, 3109}, entry.Range)
	assert.Equal(t, "/home/dev/api-server", entry.Path)
}

func TestRegisterUpsert(t *testing.T) {
	reg, err := Load(testRegistryPath(t))
	require.NoError(t, err)

	require.NoError(t, reg.Register("proj", Range{3000, 3009}, "/a"))
	require.NoError(t, reg.Register("proj", Range{4000, 4009}, "/b"))

	entry, ok := reg.Get("proj")
	require.True(t, ok)
	assert.Equal(t, Range{4000, 4009}, entry.Range)
	assert.Equal(t, "/b", entry.Path)
	assert.Len(t, reg.List(), 1)
}

func TestUnregister(t *testing.T) {
	path := testRegistryPath(t)
	reg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, reg.Register("proj", Range{3000, 3009}, "/a"))
	require.NoError(t, reg.Unregister("proj"))

	reloaded, err := Load(path)
	require.NoError(t, err)
	_, ok := reloaded.Get("proj")
	assert.False(t, ok)

	// Unknown project is a no-op.
	assert.NoError(t, reg.Unregister("never-existed"))
}

func TestCheckConflicts(t *testing.T) {
	reg, err := Load(testRegistryPath(t))
	require.NoError(t, err)
	require.NoError(t, reg.Register("alpha", Range{3100, 3109}, "/home/dev/alpha"))
	require.NoError(t, reg.Register("beta", Range{3200, 3209}, "/home/dev/beta"))

	desc, conflict := reg.CheckConflicts(Range{3105, 3115}, "")
	require.True(t, conflict)
	assert.Contains(t, desc, "alpha")
	assert.Contains(t, desc, "3100-3109")

	// Excluding the overlapping project clears the conflict.
	_, conflict = reg.CheckConflicts(Range{3105, 3115}, "alpha")
	assert.False(t, conflict)

	_, conflict = reg.CheckConflicts(Range{3150, 3159}, "")
	assert.False(t, conflict)

	// Deterministic: the lowest-named project wins when several overlap.
	desc, conflict = reg.CheckConflicts(Range{3000, 4000}, "")
	require.True(t, conflict)
	assert.Contains(t, desc, "alpha")
}

func TestSuggestNextRangeEmptyRegistry(t *testing.T) {
	reg, err := Load(testRegistryPath(t))
	require.NoError(t, err)

	spec, ok := reg.SuggestNextRange(10, 3000)
	require.True(t, ok)
	assert.Equal(t, "3000-3009", spec)
}

func TestSuggestNextRangeWalksStride(t *testing.T) {
	reg, err := Load(testRegistryPath(t))
	require.NoError(t, err)
	require.NoError(t, reg.Register("a", Range{3000, 3009}, "/a"))
	require.NoError(t, reg.Register("b", Range{3010, 3019}, "/b"))

	spec, ok := reg.SuggestNextRange(10, 3000)
	require.True(t, ok)
	assert.Equal(t, "3020-3029", spec)

	// A partial overlap also pushes the suggestion onward.
	require.NoError(t, reg.Register("c", Range{3025, 3032}, "/c"))
	spec, ok = reg.SuggestNextRange(10, 3000)
	require.True(t, ok)
	assert.Equal(t, "3040-3049", spec)
}

func TestSuggestNextRangeExhaustion(t *testing.T) {
	reg, err := Load(testRegistryPath(t))
	require.NoError(t, err)

	_, ok := reg.SuggestNextRange(10, 65530)
	assert.False(t, ok, "no range with end below 65535 fits")

	_, ok = reg.SuggestNextRange(0, 3000)
	assert.False(t, ok)
}

func TestConcurrentRegisterSameProject(t *testing.T) {
	path := testRegistryPath(t)
	reg, err := Load(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := uint16(3000 + i*10)
			assert.NoError(t, reg.Register("proj", Range{start, start + 9}, fmt.Sprintf("/p%d", i)))
		}(i)
	}
	wg.Wait()

	// The file parses and holds exactly one of the written values.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, reloaded.List(), 1)

	entry, ok := reloaded.Get("proj")
	require.True(t, ok)
	assert.Equal(t, 10, entry.Range.Size())
	assert.GreaterOrEqual(t, entry.Range.Start, uint16(3000))
	assert.LessOrEqual(t, entry.Range.End, uint16(3079+10))
}

func TestConcurrentWritersLastOneWins(t *testing.T) {
	path := testRegistryPath(t)

	// Separate Registry instances simulate separate processes racing on the
	// same file. The rename keeps the file valid regardless of ordering.
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg, err := Load(path)
			if !assert.NoError(t, err) {
				return
			}
			start := uint16(4000 + i*10)
			project := fmt.Sprintf("proj-%d", i)
			assert.NoError(t, reg.Register(project, Range{start, start + 9}, "/"+project))
		}(i)
	}
	wg.Wait()

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, reloaded.List())
	for _, res := range reloaded.List() {
		assert.Equal(t, 10, res.Range.Size())
	}
}

func TestListSorted(t *testing.T) {
	reg, err := Load(testRegistryPath(t))
	require.NoError(t, err)
	require.NoError(t, reg.Register("zeta", Range{3300, 3309}, "/z"))
	require.NoError(t, reg.Register("alpha", Range{3100, 3109}, "/a"))
	require.NoError(t, reg.Register("mid", Range{3200, 3209}, "/m"))

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Project)
	assert.Equal(t, "mid", list[1].Project)
	assert.Equal(t, "zeta", list[2].Project)
}
