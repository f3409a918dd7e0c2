package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// execCommand builds the command to run. Tests swap this out to avoid
// invoking real container runtimes.
var execCommand = exec.CommandContext

// ExecChecker performs health checks by running a command and treating a
// zero exit code as healthy. When Runtime and ContainerID are set the
// command runs inside the container via `<runtime> exec`.
type ExecChecker struct {
	// Command is the command to execute (e.g., ["pg_isready", "-U", "postgres"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	// Runtime is the container CLI used for exec ("docker" or "nerdctl")
	Runtime string

	// ContainerID is the container to exec into; empty runs on the host
	ContainerID string
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
		Runtime: "docker",
	}
}

// Check performs the exec health check
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	argv := e.argv()
	cmd := execCommand(execCtx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	message := fmt.Sprintf("Command: %v", e.Command)
	if err != nil {
		message = fmt.Sprintf("%s, Error: %v", message, err)
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s, Stderr: %s", message, stderr.String())
		}

		return Result{
			Healthy:   false,
			Message:   message,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	if stdout.Len() > 0 {
		output := stdout.String()
		if len(output) > 100 {
			output = output[:100] + "..."
		}
		message = fmt.Sprintf("%s, Output: %s", message, output)
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// argv returns the full command line, wrapping in a runtime exec when a
// container is targeted.
func (e *ExecChecker) argv() []string {
	if e.ContainerID == "" {
		return e.Command
	}
	runtime := e.Runtime
	if runtime == "" {
		runtime = "docker"
	}
	argv := []string{runtime, "exec", e.ContainerID}
	return append(argv, e.Command...)
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithContainer targets the check at a container via runtime exec
func (e *ExecChecker) WithContainer(runtime, containerID string) *ExecChecker {
	e.Runtime = runtime
	e.ContainerID = containerID
	return e
}
