package lima

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
)

// cleanExitCodes are shell exit statuses that end a session normally:
// success, builtin misuse, command-not-found at the prompt, and SIGINT.
var cleanExitCodes = map[int]bool{0: true, 2: true, 127: true, 130: true}

// workspacePath is the project root inside the guest. Lima mounts host
// directories at their host path, so the project lands at projectDir.
func (b *Backend) workspacePath() string {
	return b.projectDir
}

// SSH opens an interactive shell inside the guest, joined at the project
// mount plus relPath.
func (b *Backend) SSH(ctx context.Context, target, relPath string) error {
	instance, err := b.resolveTarget(target)
	if err != nil {
		return err
	}
	workdir, err := joinWorkspacePath(b.workspacePath(), relPath)
	if err != nil {
		return err
	}

	argv := []string{"limactl", "shell", "--workdir", workdir, instance}
	err = b.runner.RunInteractive(ctx, platform.Cmd{Argv: argv})
	if err == nil {
		return nil
	}

	var cmdErr *errdefs.CommandError
	if errors.As(err, &cmdErr) && cleanExitCodes[cmdErr.ExitCode] {
		return nil
	}
	return errdefs.Wrap(err, errdefs.KindProvider, "ssh "+instance)
}

// Exec runs argv non-interactively inside the guest at the project mount.
func (b *Backend) Exec(ctx context.Context, target string, argv []string) error {
	if len(argv) == 0 {
		return errdefs.Validationf("exec requires a command")
	}
	instance, err := b.resolveTarget(target)
	if err != nil {
		return err
	}

	full := []string{"limactl", "shell", "--workdir", b.workspacePath(), instance, "--"}
	full = append(full, argv...)

	if err := b.runner.RunInteractive(ctx, platform.Cmd{Argv: full}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "exec in "+instance)
	}
	return nil
}

// joinWorkspacePath joins a user-supplied relative path onto the workspace
// root, rejecting absolute paths and traversal out of the workspace.
func joinWorkspacePath(root, rel string) (string, error) {
	if rel == "" {
		return root, nil
	}
	if strings.HasPrefix(rel, "/") {
		return "", errdefs.Validationf("path %q must be relative to the workspace", rel)
	}

	joined := path.Join(root, rel)
	if joined != root && !strings.HasPrefix(joined, root+"/") {
		return "", errdefs.Validationf("path %q escapes the workspace", rel)
	}
	return joined, nil
}
