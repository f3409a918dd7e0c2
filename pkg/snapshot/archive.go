package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/metrics"
	"github.com/devyard/vm/pkg/types"
)

// manifestFile sits at the top level of every exported archive.
const manifestFile = "manifest.json"

// exportSuffix names exported archives: <snapshot>.snapshot.tar.gz.
const exportSuffix = ".snapshot.tar.gz"

// Export wraps a capture into a portable archive at outPath. An empty
// outPath writes <name>.snapshot.tar.gz in the working directory. Returns
// the path written.
func (e *Engine) Export(ctx context.Context, name, outPath string) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SnapshotDuration, "export")

	scope, base, err := e.splitName(name)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(e.root, scope, base)
	meta, err := readMetadata(dir)
	if err != nil {
		return "", errdefs.NotFoundf("snapshot %q", name)
	}

	manifest := types.SnapshotManifest{
		Version:        types.ManifestVersion,
		SnapshotName:   base,
		IsGlobal:       scope == globalScope,
		CreatedAt:      meta.CreatedAt,
		Description:    meta.Description,
		ProjectName:    meta.ProjectName,
		TotalSizeBytes: meta.TotalSizeBytes,
		Services:       meta.Services,
		Volumes:        meta.Volumes,
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", errdefs.Internalf("marshal manifest: %v", err)
	}

	if outPath == "" {
		outPath = base + exportSuffix
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", errdefs.WrapFilesystem("create", outPath, err)
	}
	defer out.Close()

	if err := writeArchive(out, dir, manifestData); err != nil {
		os.Remove(outPath)
		return "", err
	}

	e.logger.Info().Str("snapshot", name).Str("archive", outPath).Msg("snapshot exported")
	return outPath, nil
}

// Import installs an exported archive into the snapshot store, placing it
// under the scope recorded in its manifest.
func (e *Engine) Import(ctx context.Context, archivePath string, force bool) (*types.SnapshotManifest, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SnapshotDuration, "import")

	in, err := os.Open(archivePath)
	if err != nil {
		return nil, errdefs.WrapFilesystem("open", archivePath, err)
	}
	defer in.Close()

	// Extract next to the final location so the install is a rename.
	if err := os.MkdirAll(e.root, 0o755); err != nil {
		return nil, errdefs.WrapFilesystem("mkdir", e.root, err)
	}
	tmp, err := os.MkdirTemp(e.root, ".import-")
	if err != nil {
		return nil, errdefs.WrapFilesystem("mkdir", e.root, err)
	}
	defer os.RemoveAll(tmp)

	if err := extractArchive(in, tmp); err != nil {
		return nil, err
	}

	manifest, err := readManifest(tmp)
	if err != nil {
		return nil, err
	}
	if manifest.Version != types.ManifestVersion {
		return nil, errdefs.Validationf("unsupported snapshot format %q (want %s)",
			manifest.Version, types.ManifestVersion)
	}
	if manifest.SnapshotName == "" {
		return nil, errdefs.Validationf("manifest has no snapshot name")
	}

	scope := manifest.ProjectName
	if manifest.IsGlobal {
		scope = globalScope
	}
	dest := filepath.Join(e.root, scope, manifest.SnapshotName)

	if _, err := os.Stat(dest); err == nil {
		if !force {
			return nil, errdefs.Validationf("snapshot %q already exists (use --force to replace)",
				manifest.SnapshotName)
		}
		if err := os.RemoveAll(dest); err != nil {
			return nil, errdefs.WrapFilesystem("remove", dest, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, errdefs.WrapFilesystem("mkdir", filepath.Dir(dest), err)
	}

	// The manifest belongs to the transport, not the installed capture.
	os.Remove(filepath.Join(tmp, manifestFile))
	if err := os.Rename(tmp, dest); err != nil {
		return nil, errdefs.WrapFilesystem("rename", dest, err)
	}

	// Load the saved images right away so the capture is usable without a
	// restore round trip. Providers without an image store (lima) skip this.
	if loader, ok := e.prov.(imageLoader); ok {
		if err := e.loadImages(ctx, loader, dest); err != nil {
			return nil, err
		}
	}

	e.logger.Info().Str("snapshot", manifest.SnapshotName).Str("scope", scope).Msg("snapshot imported")
	return manifest, nil
}

// imageLoader is the optional provider hook for bringing a saved image
// tarball back into the engine. The container backends implement it.
type imageLoader interface {
	LoadImage(ctx context.Context, path string) error
}

// loadImages loads every image tarball under dir concurrently, bounded by
// the host CPU count.
func (e *Engine) loadImages(ctx context.Context, loader imageLoader, dir string) error {
	images, err := filepath.Glob(filepath.Join(dir, "images", "*.tar"))
	if err != nil {
		return errdefs.WrapFilesystem("glob", dir, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism())
	for _, image := range images {
		g.Go(func() error {
			return loader.LoadImage(gctx, image)
		})
	}
	return g.Wait()
}

func readManifest(dir string) (*types.SnapshotManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, errdefs.Validationf("archive has no %s", manifestFile)
	}
	var manifest types.SnapshotManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errdefs.Validationf("parse %s: %v", manifestFile, err)
	}
	return &manifest, nil
}

// writeArchive streams dir plus the manifest into a tar.gz.
func writeArchive(w io.Writer, dir string, manifest []byte) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestFile,
		Mode:    0o644,
		Size:    int64(len(manifest)),
		ModTime: time.Now(),
	}); err != nil {
		return errdefs.Internalf("write manifest header: %v", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return errdefs.Internalf("write manifest: %v", err)
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return errdefs.WrapFilesystem("archive", dir, err)
	}

	if err := tw.Close(); err != nil {
		return errdefs.Internalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		return errdefs.Internalf("close gzip: %v", err)
	}
	return nil
}

// extractArchive unpacks a tar.gz into dest, refusing entries that would
// escape it.
func extractArchive(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errdefs.Validationf("not a gzip archive: %v", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errdefs.Validationf("read archive: %v", err)
		}

		name := filepath.Clean(filepath.FromSlash(header.Name))
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return errdefs.Validationf("archive entry escapes destination: %q", header.Name)
		}
		target := filepath.Join(dest, name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errdefs.WrapFilesystem("mkdir", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errdefs.WrapFilesystem("mkdir", filepath.Dir(target), err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(header.Mode)&0o777)
			if err != nil {
				return errdefs.WrapFilesystem("create", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return errdefs.WrapFilesystem("write", target, err)
			}
			if err := f.Close(); err != nil {
				return errdefs.WrapFilesystem("close", target, err)
			}
		default:
			// Symlinks and specials have no business in a snapshot.
			return errdefs.Validationf("unsupported archive entry type for %q", header.Name)
		}
	}
}
