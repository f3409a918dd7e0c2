package platform

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/log"
)

// Cmd describes one subprocess invocation.
type Cmd struct {
	Argv    []string
	Dir     string
	Env     []string // appended to the parent environment
	Timeout time.Duration
	Stdin   io.Reader
	Stdout  io.Writer // tee targets; output is always captured
	Stderr  io.Writer
}

// Runner executes host commands with bounded runtimes and tagged errors.
// The command constructor is injectable so tests can fake subprocesses.
type Runner struct {
	logger  zerolog.Logger
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewRunner creates a runner that executes real host commands.
func NewRunner() *Runner {
	return &Runner{
		logger:  log.WithComponent("runner"),
		command: exec.CommandContext,
	}
}

// SetCommand sets the command constructor used by the runner.
// To be used for testing only
func (r *Runner) SetCommand(fn func(ctx context.Context, name string, args ...string) *exec.Cmd) {
	r.command = fn
}

// Run executes the command and returns its combined output. Exceeding the
// timeout kills the process and returns a timeout error carrying the argv;
// a non-zero exit returns a command error carrying the output tail.
func (r *Runner) Run(ctx context.Context, c Cmd) (string, error) {
	if len(c.Argv) == 0 {
		return "", errdefs.Internalf("empty argv")
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := r.command(runCtx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if c.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&buf, c.Stdout)
	}
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&buf, c.Stderr)
	}

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug().Strs("argv", c.Argv).Dur("took", time.Since(start)).Msg("command finished")

	output := buf.String()
	if err == nil {
		return output, nil
	}

	// CommandContext kills with SIGKILL once the deadline passes.
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return output, &errdefs.TimeoutError{Args: c.Argv, After: c.Timeout}
	}
	if ctx.Err() != nil {
		return output, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, errdefs.NewCommandError(c.Argv, exitErr.ExitCode(), output, err)
	}
	return output, errdefs.Wrap(err, errdefs.KindCommand, "start "+c.Argv[0])
}

// RunInteractive attaches the command to the current terminal and blocks
// until it exits. Used by ssh and exec passthrough where the user owns the
// session.
func (r *Runner) RunInteractive(ctx context.Context, c Cmd) error {
	if len(c.Argv) == 0 {
		return errdefs.Internalf("empty argv")
	}

	cmd := r.command(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	}
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return errdefs.NewCommandError(c.Argv, exitErr.ExitCode(), "", err)
	}
	return errdefs.Wrap(err, errdefs.KindCommand, "start "+c.Argv[0])
}

// installHints maps known binaries to install guidance for dependency
// errors.
var installHints = map[string]string{
	"docker":  "install Docker Desktop or docker-ce",
	"nerdctl": "install nerdctl from https://github.com/containerd/nerdctl",
	"limactl": "install lima (brew install lima)",
	"git":     "install git",
	"ssh":     "install an OpenSSH client",
}

// CheckBinary verifies that name resolves on PATH, returning a dependency
// error with an install hint when it does not.
func CheckBinary(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		if hint, ok := installHints[name]; ok {
			return errdefs.Dependencyf("%s not found in PATH; %s", name, hint)
		}
		return errdefs.Dependencyf("%s not found in PATH", name)
	}
	return nil
}
