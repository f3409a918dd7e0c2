package health

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestExecChecker_Success(t *testing.T) {
	checker := NewExecChecker([]string{"true"})
	checker.ContainerID = ""

	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}
}

func TestExecChecker_Failure(t *testing.T) {
	checker := NewExecChecker([]string{"false"})

	result := checker.Check(context.Background())

	if result.Healthy {
		t.Errorf("Expected unhealthy, got healthy: %s", result.Message)
	}
}

func TestExecChecker_NoCommand(t *testing.T) {
	checker := NewExecChecker(nil)

	result := checker.Check(context.Background())

	if result.Healthy {
		t.Error("Expected unhealthy for empty command")
	}

	if result.Message != "no command specified" {
		t.Errorf("Unexpected message: %s", result.Message)
	}
}

func TestExecChecker_ContainerArgv(t *testing.T) {
	checker := NewExecChecker([]string{"docker", "info"}).WithContainer("docker", "vm-docker-global")

	argv := checker.argv()

	want := []string{"docker", "exec", "vm-docker-global", "docker", "info"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %s, want %s", i, argv[i], want[i])
		}
	}
}

func TestExecChecker_HostArgv(t *testing.T) {
	checker := NewExecChecker([]string{"pg_isready", "-U", "postgres"})

	argv := checker.argv()

	if len(argv) != 3 || argv[0] != "pg_isready" {
		t.Errorf("host check should run the command directly, got %v", argv)
	}
}

func TestExecChecker_Timeout(t *testing.T) {
	checker := NewExecChecker([]string{"sleep", "5"}).WithTimeout(50 * time.Millisecond)

	start := time.Now()
	result := checker.Check(context.Background())

	if result.Healthy {
		t.Error("Expected unhealthy due to timeout")
	}

	if time.Since(start) > 2*time.Second {
		t.Error("Check did not respect timeout")
	}
}

func TestExecChecker_InjectedCommand(t *testing.T) {
	var gotArgv []string
	orig := execCommand
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotArgv = append([]string{name}, args...)
		return exec.CommandContext(ctx, "true")
	}
	defer func() { execCommand = orig }()

	checker := NewExecChecker([]string{"redis-cli", "ping"}).WithContainer("nerdctl", "vm-redis-global")
	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("Expected healthy, got: %s", result.Message)
	}

	if len(gotArgv) == 0 || gotArgv[0] != "nerdctl" {
		t.Errorf("expected nerdctl exec, got %v", gotArgv)
	}
}

func TestExecChecker_Type(t *testing.T) {
	if NewExecChecker([]string{"true"}).Type() != CheckTypeExec {
		t.Error("wrong check type")
	}
}
