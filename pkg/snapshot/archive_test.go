package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/types"
)

func TestExportImportRoundTrip(t *testing.T) {
	e, backend, _ := testEngine(t)
	ctx := context.Background()

	meta, err := e.Capture(ctx, CaptureOptions{Name: "v1", Description: "round trip"})
	require.NoError(t, err)

	archive := filepath.Join(t.TempDir(), "v1.snapshot.tar.gz")
	written, err := e.Export(ctx, "v1", archive)
	require.NoError(t, err)
	assert.Equal(t, archive, written)

	require.NoError(t, e.Delete("v1"))

	manifest, err := e.Import(ctx, archive, false)
	require.NoError(t, err)
	assert.Equal(t, types.ManifestVersion, manifest.Version)
	assert.Equal(t, "v1", manifest.SnapshotName)
	assert.False(t, manifest.IsGlobal)
	assert.Equal(t, "webapp", manifest.ProjectName)
	assert.Equal(t, "round trip", manifest.Description)
	assert.Equal(t, meta.Volumes, manifest.Volumes)

	dir, err := e.Dir("v1")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "metadata.json"))
	assert.FileExists(t, filepath.Join(dir, "volumes", "vm-webapp-postgresql-data.tar.zst"))
	assert.NoFileExists(t, filepath.Join(dir, "manifest.json"),
		"transport manifest not installed")

	infos, err := e.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "v1", infos[0].Name)

	assert.ElementsMatch(t, []string{"dev.tar", "postgresql.tar"}, backend.loaded,
		"saved images loaded back into the engine at import")
}

func TestExportGlobalSnapshot(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	_, err := e.Capture(ctx, CaptureOptions{Name: "@base"})
	require.NoError(t, err)

	archive := filepath.Join(t.TempDir(), "base.snapshot.tar.gz")
	_, err = e.Export(ctx, "@base", archive)
	require.NoError(t, err)

	require.NoError(t, e.Delete("@base"))

	manifest, err := e.Import(ctx, archive, false)
	require.NoError(t, err)
	assert.True(t, manifest.IsGlobal)

	dir, err := e.Dir("@base")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "metadata.json"))
}

func TestExportUnknownSnapshot(t *testing.T) {
	e, _, _ := testEngine(t)

	_, err := e.Export(context.Background(), "ghost", "")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestImportRefusesExisting(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	_, err := e.Capture(ctx, CaptureOptions{Name: "v1"})
	require.NoError(t, err)

	archive := filepath.Join(t.TempDir(), "v1.snapshot.tar.gz")
	_, err = e.Export(ctx, "v1", archive)
	require.NoError(t, err)

	_, err = e.Import(ctx, archive, false)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))

	_, err = e.Import(ctx, archive, true)
	assert.NoError(t, err)
}

func TestImportRejectsVersionMismatch(t *testing.T) {
	e, _, _ := testEngine(t)

	manifest, err := json.Marshal(types.SnapshotManifest{
		Version:      "2.0",
		SnapshotName: "future",
		ProjectName:  "webapp",
	})
	require.NoError(t, err)

	archive := filepath.Join(t.TempDir(), "future.snapshot.tar.gz")
	writeManifestArchive(t, archive, "manifest.json", manifest)

	_, err = e.Import(context.Background(), archive, false)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
	assert.Contains(t, err.Error(), "unsupported snapshot format")
}

func TestImportRejectsMissingManifest(t *testing.T) {
	e, _, _ := testEngine(t)

	archive := filepath.Join(t.TempDir(), "bare.snapshot.tar.gz")
	writeManifestArchive(t, archive, "readme.txt", []byte("nothing here"))

	_, err := e.Import(context.Background(), archive, false)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestImportRejectsPathTraversal(t *testing.T) {
	e, _, _ := testEngine(t)

	archive := filepath.Join(t.TempDir(), "evil.snapshot.tar.gz")
	writeManifestArchive(t, archive, "../escape.txt", []byte("boom"))

	_, err := e.Import(context.Background(), archive, false)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestImportRejectsGarbage(t *testing.T) {
	e, _, _ := testEngine(t)

	archive := filepath.Join(t.TempDir(), "garbage.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("not an archive"), 0o644))

	_, err := e.Import(context.Background(), archive, false)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

// writeManifestArchive builds a one-entry tar.gz.
func writeManifestArchive(t *testing.T, path, name string, content []byte) {
	t.Helper()

	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}))
	_, err = tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}
