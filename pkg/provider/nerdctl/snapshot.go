package nerdctl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/containerd/images/archive"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/platforms"

	"github.com/devyard/vm/pkg/compose"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/provider"
)

// Snapshot commits the dev container through the CLI, then exports the
// committed image with the containerd image service instead of `nerdctl
// save`.
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
	if err := b.commit(ctx, container, tag); err != nil {
		return err
	}

	if err := b.exportImage(ctx, tag, filepath.Join(imagesDir, "dev.tar")); err != nil {
		return err
	}

	for _, volume := range compose.VolumeNames(b.cfg) {
		if err := b.exportVolume(ctx, volume, volumesDir); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) commit(ctx context.Context, container, tag string) error {
	runner := platform.NewRunner()
	if _, err := runner.Run(ctx, platform.Cmd{
		Argv:    []string{"nerdctl", "commit", container, tag},
		Timeout: 10 * time.Minute,
	}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "commit "+container)
	}
	return nil
}

// exportImage writes an OCI archive of the tagged image through the
// containerd client.
func (b *Backend) exportImage(ctx context.Context, tag, dest string) error {
	client, err := b.connect()
	if err != nil {
		return err
	}
	ctx = namespaces.WithNamespace(ctx, b.namespace)

	f, err := os.Create(dest)
	if err != nil {
		return errdefs.WrapFilesystem("create", dest, err)
	}
	defer f.Close()

	err = client.Export(ctx, f,
		archive.WithImage(client.ImageService(), tag),
		archive.WithPlatform(platforms.DefaultStrict()))
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "export "+tag)
	}
	return nil
}

// exportVolume archives a named volume through a helper container, same
// shape as the docker backend.
func (b *Backend) exportVolume(ctx context.Context, volume, dir string) error {
	runner := platform.NewRunner()
	archiveName := volume + ".tar.gz"
	_, err := runner.Run(ctx, platform.Cmd{
		Argv: []string{"nerdctl", "run", "--rm",
			"-v", volume + ":/data:ro",
			"-v", dir + ":/backup",
			"alpine", "tar", "-czf", "/backup/" + archiveName, "-C", "/data", "."},
		Timeout: 15 * time.Minute,
	})
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "export volume "+volume)
	}
	return nil
}

// RestoreSnapshot loads image archives with the containerd client and
// re-extracts volume archives.
func (b *Backend) RestoreSnapshot(ctx context.Context, req provider.RestoreRequest) error {
	client, err := b.connect()
	if err != nil {
		return err
	}
	nsCtx := namespaces.WithNamespace(ctx, b.namespace)

	images, err := filepath.Glob(filepath.Join(req.Dir, "images", "*.tar"))
	if err != nil {
		return errdefs.WrapFilesystem("glob", req.Dir, err)
	}
	for _, image := range images {
		f, err := os.Open(image)
		if err != nil {
			return errdefs.WrapFilesystem("open", image, err)
		}
		_, err = client.Import(nsCtx, f)
		f.Close()
		if err != nil {
			return errdefs.Wrap(err, errdefs.KindProvider, "import "+image)
		}
	}

	runner := platform.NewRunner()
	archives, err := filepath.Glob(filepath.Join(req.Dir, "volumes", "*.tar.gz"))
	if err != nil {
		return errdefs.WrapFilesystem("glob", req.Dir, err)
	}
	for _, vol := range archives {
		name := filepath.Base(vol)
		volume := name[:len(name)-len(".tar.gz")]
		if _, err := runner.Run(ctx, platform.Cmd{
			Argv:    []string{"nerdctl", "volume", "create", volume},
			Timeout: time.Minute,
		}); err != nil {
			return errdefs.Wrap(err, errdefs.KindProvider, "create volume "+volume)
		}
		if _, err := runner.Run(ctx, platform.Cmd{
			Argv: []string{"nerdctl", "run", "--rm",
				"-v", volume + ":/data",
				"-v", filepath.Dir(vol) + ":/backup:ro",
				"alpine", "tar", "-xzf", "/backup/" + name, "-C", "/data"},
			Timeout: 15 * time.Minute,
		}); err != nil {
			return errdefs.Wrap(err, errdefs.KindProvider, "restore volume "+volume)
		}
	}
	return nil
}
