package nerdctl

import (
	"context"
	"os"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/devyard/vm/pkg/errdefs"
)

// Exec runs argv inside the instance through a containerd task exec,
// streaming the process's stdio to the caller's terminal.
func (b *Backend) Exec(ctx context.Context, target string, argv []string) error {
	if len(argv) == 0 {
		return errdefs.Validationf("exec requires a command")
	}
	name := b.containerName(target)

	container, err := b.loadContainer(ctx, name)
	if err != nil {
		return err
	}
	ctx = namespaces.WithNamespace(ctx, b.namespace)

	task, err := container.Task(ctx, nil)
	if err != nil {
		return errdefs.Providerf("instance %s is not running", name)
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "container spec "+name)
	}

	proc := &specs.Process{
		Args: argv,
		Cwd:  b.execCwd(spec),
	}
	if spec.Process != nil {
		proc.Env = spec.Process.Env
		proc.User = spec.Process.User
	}

	execID := "vm-exec-" + uuid.NewString()[:8]
	process, err := task.Exec(ctx, execID, proc,
		cio.NewCreator(cio.WithStreams(os.Stdin, os.Stdout, os.Stderr)))
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "exec in "+name)
	}
	defer process.Delete(ctx, containerd.WithProcessKill)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "wait exec in "+name)
	}
	if err := process.Start(ctx); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "start exec in "+name)
	}

	select {
	case status := <-statusC:
		if status.ExitCode() != 0 {
			return errdefs.NewCommandError(argv, int(status.ExitCode()), "", status.Error())
		}
		return nil
	case <-ctx.Done():
		_ = process.Kill(ctx, syscall.SIGKILL)
		return ctx.Err()
	}
}

// execCwd picks the workspace path for exec, falling back to the
// container's configured cwd.
func (b *Backend) execCwd(spec *specs.Spec) string {
	if b.cfg.Project.WorkspacePath != "" {
		return b.cfg.Project.WorkspacePath
	}
	if spec.Process != nil && spec.Process.Cwd != "" {
		return spec.Process.Cwd
	}
	return "/workspace"
}
