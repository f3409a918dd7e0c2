package docker

import (
	"context"
	"errors"
	"os"
	"path"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
)

// cleanExitCodes are shell exit statuses that end a session normally:
// success, builtin misuse, command-not-found at the prompt, and SIGINT.
var cleanExitCodes = map[int]bool{0: true, 2: true, 127: true, 130: true}

// SSH opens an interactive shell inside the instance, joined at the
// workspace path plus relPath.
func (b *Backend) SSH(ctx context.Context, target, relPath string) error {
	container := b.containerName(target)

	workdir, err := joinWorkspacePath(b.workspacePath(), relPath)
	if err != nil {
		return err
	}

	argv := []string{b.bin, "exec"}
	if stdinIsTerminal() && stdoutIsTerminal() {
		argv = append(argv, "-it")
	} else {
		argv = append(argv, "-i")
	}
	argv = append(argv, "-w", workdir, container, "/bin/bash", "-l")

	err = b.runner.RunInteractive(ctx, platform.Cmd{Argv: argv})
	if err == nil {
		return nil
	}

	var cmdErr *errdefs.CommandError
	if errors.As(err, &cmdErr) && cleanExitCodes[cmdErr.ExitCode] {
		return nil
	}
	return errdefs.Wrap(err, errdefs.KindProvider, "ssh "+container)
}

// Exec runs argv non-interactively inside the instance at the workspace
// path.
func (b *Backend) Exec(ctx context.Context, target string, argv []string) error {
	if len(argv) == 0 {
		return errdefs.Validationf("exec requires a command")
	}
	container := b.containerName(target)

	full := []string{b.bin, "exec", "-w", b.workspacePath(), container}
	full = append(full, argv...)

	if err := b.runner.RunInteractive(ctx, platform.Cmd{Argv: full}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "exec in "+container)
	}
	return nil
}

func (b *Backend) workspacePath() string {
	if b.cfg.Project.WorkspacePath != "" {
		return b.cfg.Project.WorkspacePath
	}
	return "/workspace"
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

// Terminal detection is indirected for tests.
var (
	stdinIsTerminal = func() bool {
		return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	}
	stdoutIsTerminal = func() bool {
		return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	}
)
