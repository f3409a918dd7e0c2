package platform

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/devyard/vm/pkg/errdefs"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test drives unix shell commands")
	}
}

// TestRunnerCapturesOutput tests combined output capture
func TestRunnerCapturesOutput(t *testing.T) {
	skipOnWindows(t)

	out, err := NewRunner().Run(context.Background(), Cmd{
		Argv: []string{"sh", "-c", "echo out; echo err >&2"},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.Contains(out, "out") || !strings.Contains(out, "err") {
		t.Errorf("combined output = %q, want both streams", out)
	}
}

// TestRunnerExitCode tests command error tagging on non-zero exit
func TestRunnerExitCode(t *testing.T) {
	skipOnWindows(t)

	_, err := NewRunner().Run(context.Background(), Cmd{
		Argv: []string{"sh", "-c", "echo broken; exit 3"},
	})
	if err == nil {
		t.Fatal("Run() error = nil, want command error")
	}

	var cmdErr *errdefs.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error type = %T, want *errdefs.CommandError", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", cmdErr.ExitCode)
	}
	if len(cmdErr.Args) != 3 || cmdErr.Args[0] != "sh" {
		t.Errorf("Args = %v", cmdErr.Args)
	}
	if len(cmdErr.Output) == 0 || cmdErr.Output[0] != "broken" {
		t.Errorf("Output = %v, want command output retained", cmdErr.Output)
	}
	if !errdefs.IsKind(err, errdefs.KindCommand) {
		t.Error("kind != command")
	}
}

// TestRunnerTimeout tests deadline enforcement
func TestRunnerTimeout(t *testing.T) {
	skipOnWindows(t)

	start := time.Now()
	_, err := NewRunner().Run(context.Background(), Cmd{
		Argv:    []string{"sleep", "10"},
		Timeout: 150 * time.Millisecond,
	})
	took := time.Since(start)

	if err == nil {
		t.Fatal("Run() error = nil, want timeout")
	}
	var toErr *errdefs.TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("error type = %T, want *errdefs.TimeoutError", err)
	}
	if toErr.After != 150*time.Millisecond {
		t.Errorf("After = %s", toErr.After)
	}
	if len(toErr.Args) == 0 || toErr.Args[0] != "sleep" {
		t.Errorf("Args = %v", toErr.Args)
	}
	if took > 5*time.Second {
		t.Errorf("timeout not enforced, took %s", took)
	}
}

// TestRunnerContextCancel tests that caller cancellation is not a timeout
func TestRunnerContextCancel(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := NewRunner().Run(ctx, Cmd{Argv: []string{"sleep", "10"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

// TestRunnerMissingBinary tests start failures
func TestRunnerMissingBinary(t *testing.T) {
	_, err := NewRunner().Run(context.Background(), Cmd{
		Argv: []string{"definitely-not-a-real-binary-4721"},
	})
	if err == nil {
		t.Fatal("Run() error = nil")
	}
	if !errdefs.IsKind(err, errdefs.KindCommand) {
		t.Errorf("kind = %v, want command", errdefs.GetKind(err))
	}
}

// TestRunnerEmptyArgv tests argv validation
func TestRunnerEmptyArgv(t *testing.T) {
	_, err := NewRunner().Run(context.Background(), Cmd{})
	if !errdefs.IsKind(err, errdefs.KindInternal) {
		t.Errorf("kind = %v, want internal", errdefs.GetKind(err))
	}
}

// TestCheckBinary tests dependency probing
func TestCheckBinary(t *testing.T) {
	skipOnWindows(t)

	if err := CheckBinary("sh"); err != nil {
		t.Errorf("CheckBinary(sh) = %v, want nil", err)
	}

	err := CheckBinary("definitely-not-a-real-binary-4721")
	if err == nil {
		t.Fatal("CheckBinary() = nil for missing binary")
	}
	if !errdefs.IsKind(err, errdefs.KindDependency) {
		t.Errorf("kind = %v, want dependency", errdefs.GetKind(err))
	}

	err = CheckBinary("docker-but-not-docker")
	if err != nil && !strings.Contains(err.Error(), "not found in PATH") {
		t.Errorf("error = %v, want PATH message", err)
	}
}
