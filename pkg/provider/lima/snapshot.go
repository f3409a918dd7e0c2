package lima

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/provider"
)

// workspaceArchive is the single volume a VM snapshot carries: the guest's
// view of the project tree, including anything built there that the host
// mount would not see.
const workspaceArchive = "workspace.tar.gz"

// Snapshot archives the guest workspace into req.Dir. There is no image
// layer to save for a VM; the disk is rebuilt from the instance definition
// on restore.
func (b *Backend) Snapshot(ctx context.Context, req provider.SnapshotRequest) error {
	instance, err := b.resolveTarget("")
	if err != nil {
		return err
	}

	volumesDir := filepath.Join(req.Dir, "volumes")
	if err := os.MkdirAll(volumesDir, 0o755); err != nil {
		return errdefs.WrapFilesystem("mkdir", volumesDir, err)
	}

	guestTmp := fmt.Sprintf("/tmp/vm-snapshot-%s.tar.gz", req.Name)
	if _, err := b.runner.Run(ctx, platform.Cmd{
		Argv: []string{"limactl", "shell", instance, "--",
			"tar", "-czf", guestTmp, "-C", b.workspacePath(), "."},
		Timeout: 15 * time.Minute,
	}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "archive workspace in "+instance)
	}

	if err := b.Copy(ctx, ":"+guestTmp, filepath.Join(volumesDir, workspaceArchive), ""); err != nil {
		return err
	}

	_, _ = b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{"limactl", "shell", instance, "--", "rm", "-f", guestTmp},
		Timeout: time.Minute,
	})
	return nil
}

// RestoreSnapshot re-extracts the workspace archive into the guest. The
// instance itself must already exist.
func (b *Backend) RestoreSnapshot(ctx context.Context, req provider.RestoreRequest) error {
	instance, err := b.resolveTarget("")
	if err != nil {
		return err
	}

	archive := filepath.Join(req.Dir, "volumes", workspaceArchive)
	if _, err := os.Stat(archive); err != nil {
		return errdefs.WrapFilesystem("stat", archive, err)
	}

	guestTmp := fmt.Sprintf("/tmp/vm-restore-%s.tar.gz", req.Name)
	if err := b.Copy(ctx, archive, ":"+guestTmp, ""); err != nil {
		return err
	}

	if _, err := b.runner.Run(ctx, platform.Cmd{
		Argv: []string{"limactl", "shell", instance, "--",
			"tar", "-xzf", guestTmp, "-C", b.workspacePath()},
		Timeout: 15 * time.Minute,
	}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "restore workspace in "+instance)
	}

	_, _ = b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{"limactl", "shell", instance, "--", "rm", "-f", guestTmp},
		Timeout: time.Minute,
	})
	return nil
}
