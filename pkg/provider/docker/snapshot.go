package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devyard/vm/pkg/compose"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/services"
	"github.com/devyard/vm/pkg/types"
)

// imageIndexFile sits under images/ and records the tag and digest of every
// saved image. The snapshot engine folds it into metadata.json.
const imageIndexFile = "index.json"

// restoreParallelism bounds concurrent image loads and volume restores.
func restoreParallelism() int {
	n := platform.CPUCount()
	if n > 8 {
		n = 8
	}
	if n < 2 {
		n = 2
	}
	return n
}

// Snapshot exports the dev container image, the enabled services' images,
// and the project's persistent volumes into req.Dir (images/ and volumes/
// subdirectories). The snapshot engine wraps this in its archive format.
func (b *Backend) Snapshot(ctx context.Context, req provider.SnapshotRequest) error {
	container := b.containerName("")
	imagesDir := filepath.Join(req.Dir, "images")
	volumesDir := filepath.Join(req.Dir, "volumes")
	for _, dir := range []string{imagesDir, volumesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errdefs.WrapFilesystem("mkdir", dir, err)
		}
	}

	tag := fmt.Sprintf("vm/%s-snapshot:%s", b.cfg.Project.Name, req.Name)
	if _, err := b.engine(ctx, 10*time.Minute, "commit", container, tag); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "commit "+container)
	}

	imageFile := filepath.Join(imagesDir, "dev.tar")
	if _, err := b.engine(ctx, 15*time.Minute, "save", "-o", imageFile, tag); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "save "+tag)
	}
	index := []types.SnapshotService{{
		Name:        "dev",
		ImageTag:    tag,
		ImageFile:   filepath.Join("images", "dev.tar"),
		ImageDigest: b.imageDigest(ctx, tag),
	}}

	for _, name := range b.cfg.EnabledServices() {
		def, ok := services.Lookup(name)
		if !ok || def.Image == "" {
			continue // the engine pseudo-service has no image to save
		}
		file := filepath.Join(imagesDir, name+".tar")
		if _, err := b.engine(ctx, 15*time.Minute, "save", "-o", file, def.Image); err != nil {
			return errdefs.Wrap(err, errdefs.KindProvider, "save "+def.Image)
		}
		index = append(index, types.SnapshotService{
			Name:        name,
			ImageTag:    def.Image,
			ImageFile:   filepath.Join("images", name+".tar"),
			ImageDigest: b.imageDigest(ctx, def.Image),
		})
	}

	if err := writeImageIndex(imagesDir, index); err != nil {
		return err
	}

	for _, volume := range compose.VolumeNames(b.cfg) {
		if err := b.exportVolume(ctx, volume, volumesDir); err != nil {
			return err
		}
	}
	return nil
}

// imageDigest resolves an image reference to its registry digest, falling
// back to the local image ID for committed images that never saw a registry.
// Failures leave the digest empty.
func (b *Backend) imageDigest(ctx context.Context, ref string) string {
	out, err := b.engine(ctx, 30*time.Second, "image", "inspect", "--format", "{{index .RepoDigests 0}}", ref)
	if err == nil {
		if digest := strings.TrimSpace(out); digest != "" && !strings.Contains(digest, "no value") {
			return digest
		}
	}
	out, err = b.engine(ctx, 30*time.Second, "image", "inspect", "--format", "{{.Id}}", ref)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func writeImageIndex(imagesDir string, index []types.SnapshotService) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return errdefs.Internalf("marshal image index: %v", err)
	}
	path := filepath.Join(imagesDir, imageIndexFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errdefs.WrapFilesystem("write", path, err)
	}
	return nil
}

// exportVolume archives one named volume through a helper container so the
// host never needs direct access to the engine's volume storage.
func (b *Backend) exportVolume(ctx context.Context, volume, dir string) error {
	archive := volume + ".tar.gz"
	_, err := b.engine(ctx, 15*time.Minute, "run", "--rm",
		"-v", volume+":/data:ro",
		"-v", dir+":/backup",
		"alpine", "tar", "-czf", "/backup/"+archive, "-C", "/data", ".")
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "export volume "+volume)
	}
	return nil
}

// LoadImage brings one saved image tarball back into the engine.
func (b *Backend) LoadImage(ctx context.Context, path string) error {
	if _, err := b.engine(ctx, 15*time.Minute, "load", "-i", path); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "load "+path)
	}
	return nil
}

// RestoreSnapshot loads saved images and re-extracts volume archives from
// req.Dir. Loads and extractions each run concurrently, bounded by the host
// CPU count.
func (b *Backend) RestoreSnapshot(ctx context.Context, req provider.RestoreRequest) error {
	images, err := filepath.Glob(filepath.Join(req.Dir, "images", "*.tar"))
	if err != nil {
		return errdefs.WrapFilesystem("glob", req.Dir, err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreParallelism())
	for _, image := range images {
		g.Go(func() error {
			return b.LoadImage(gctx, image)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	archives, err := filepath.Glob(filepath.Join(req.Dir, "volumes", "*.tar.gz"))
	if err != nil {
		return errdefs.WrapFilesystem("glob", req.Dir, err)
	}
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(restoreParallelism())
	for _, archive := range archives {
		g.Go(func() error {
			return b.restoreVolume(gctx, archive)
		})
	}
	return g.Wait()
}

func (b *Backend) restoreVolume(ctx context.Context, archive string) error {
	volume := strings.TrimSuffix(filepath.Base(archive), ".tar.gz")

	// Create is idempotent; an existing volume is reused and overwritten.
	if _, err := b.engine(ctx, time.Minute, "volume", "create", volume); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "create volume "+volume)
	}

	dir := filepath.Dir(archive)
	_, err := b.engine(ctx, 15*time.Minute, "run", "--rm",
		"-v", volume+":/data",
		"-v", dir+":/backup:ro",
		"alpine", "tar", "-xzf", "/backup/"+filepath.Base(archive), "-C", "/data")
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "restore volume "+volume)
	}
	return nil
}
