package docker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/types"
)

// defaultLogTail bounds log output when no tail is requested.
const defaultLogTail = 50

func (b *Backend) engine(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	return b.runner.Run(ctx, platform.Cmd{
		Argv:    append([]string{b.bin}, args...),
		Timeout: timeout,
	})
}

// Start starts a stopped instance.
func (b *Backend) Start(ctx context.Context, target string) error {
	if _, err := b.engine(ctx, time.Minute, "start", b.containerName(target)); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "start "+b.containerName(target))
	}
	return nil
}

// Stop stops a running instance gracefully.
func (b *Backend) Stop(ctx context.Context, target string) error {
	if _, err := b.engine(ctx, 2*time.Minute, "stop", b.containerName(target)); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "stop "+b.containerName(target))
	}
	return nil
}

// Restart stops and starts the instance.
func (b *Backend) Restart(ctx context.Context, target string) error {
	if _, err := b.engine(ctx, 3*time.Minute, "restart", b.containerName(target)); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "restart "+b.containerName(target))
	}
	return nil
}

// Kill force-terminates the instance without graceful shutdown.
func (b *Backend) Kill(ctx context.Context, target string) error {
	if _, err := b.engine(ctx, time.Minute, "kill", b.containerName(target)); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "kill "+b.containerName(target))
	}
	return nil
}

// Logs streams instance logs. opts.Service redirects to the shared service
// container instead of the dev instance.
func (b *Backend) Logs(ctx context.Context, target string, opts provider.LogOptions) error {
	container := b.containerName(target)
	if opts.Service != "" {
		container = fmt.Sprintf("vm-%s-global", opts.Service)
	}

	tail := opts.Tail
	if tail <= 0 {
		tail = defaultLogTail
	}

	argv := []string{b.bin, "logs", "--timestamps", "--tail", strconv.Itoa(tail)}
	if opts.Follow {
		argv = append(argv, "--follow")
	}
	argv = append(argv, container)

	if err := b.runner.RunInteractive(ctx, platform.Cmd{Argv: argv}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "logs "+container)
	}
	return nil
}

// Status inspects the instance and reports its state.
func (b *Backend) Status(ctx context.Context, target string) (*types.StatusReport, error) {
	container := b.containerName(target)

	out, err := b.engine(ctx, 30*time.Second, "inspect", "--format",
		"{{.Id}}|{{.State.Running}}|{{.State.StartedAt}}", container)
	if err != nil {
		if errdefs.IsKind(err, errdefs.KindCommand) {
			return nil, errdefs.NotFoundf("instance %s", container)
		}
		return nil, errdefs.Wrap(err, errdefs.KindProvider, "inspect "+container)
	}

	fields := strings.Split(strings.TrimSpace(out), "|")
	if len(fields) != 3 {
		return nil, errdefs.Internalf("unexpected inspect output for %s: %q", container, out)
	}

	report := &types.StatusReport{
		Name:        container,
		Provider:    b.Kind(),
		ContainerID: fields[0],
		IsRunning:   fields[1] == "true",
	}
	if report.IsRunning {
		if started, err := time.Parse(time.RFC3339Nano, fields[2]); err == nil {
			report.Uptime = time.Since(started).Round(time.Second).String()
		}
	}

	report.Services = b.serviceStatuses()
	return report, nil
}

// serviceStatuses lists the enabled services and their configured host
// ports. Liveness comes from the shared-service manager, not from here.
func (b *Backend) serviceStatuses() []types.ServiceStatus {
	var out []types.ServiceStatus
	for _, name := range b.cfg.EnabledServices() {
		svc, _ := b.cfg.Services.Get(name)
		status := types.ServiceStatus{Name: name}
		if svc.Port != nil {
			status.HostPort = *svc.Port
		}
		out = append(out, status)
	}
	return out
}

// List reports instances belonging to this project.
func (b *Backend) List(ctx context.Context) ([]types.InstanceInfo, error) {
	return b.listFiltered(ctx, "label=vm.project="+b.cfg.Project.Name)
}

// ListInstances reports every instance this tool manages on the engine.
func (b *Backend) ListInstances(ctx context.Context) ([]types.InstanceInfo, error) {
	return b.listFiltered(ctx, "label=vm.managed=true")
}

func (b *Backend) listFiltered(ctx context.Context, filter string) ([]types.InstanceInfo, error) {
	out, err := b.engine(ctx, 30*time.Second, "ps", "-a",
		"--filter", filter,
		"--format", "{{.Names}}|{{.ID}}|{{.State}}|{{.RunningFor}}")
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindProvider, "list instances")
	}

	var infos []types.InstanceInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) != 4 {
			continue
		}
		info := types.InstanceInfo{
			Name:      fields[0],
			Provider:  b.Kind(),
			ID:        fields[1],
			IsRunning: fields[2] == "running",
		}
		if info.IsRunning {
			info.Uptime = strings.TrimSuffix(fields[3], " ago")
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ResolveInstanceName expands a partial instance name against the project's
// instances.
func (b *Backend) ResolveInstanceName(partial string) (string, error) {
	infos, err := b.List(context.Background())
	if err != nil {
		return "", err
	}

	full := b.containerName(partial)
	var matches []string
	for _, info := range infos {
		if info.Name == full || info.Name == partial {
			return info.Name, nil
		}
		if strings.HasPrefix(info.Name, full) || strings.HasPrefix(info.Name, partial) {
			matches = append(matches, info.Name)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", errdefs.NotFoundf("instance %s", partial)
	}
	return "", errdefs.Validationf("ambiguous instance %q matches %v", partial, matches)
}

// ContainerMounts lists host paths mounted into the instance as
// "source:destination" pairs.
func (b *Backend) ContainerMounts(ctx context.Context, name string) ([]string, error) {
	container := b.containerName(name)
	out, err := b.engine(ctx, 30*time.Second, "inspect", "--format",
		`{{range .Mounts}}{{.Source}}:{{.Destination}}{{"\n"}}{{end}}`, container)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindProvider, "inspect mounts "+container)
	}

	var mounts []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			mounts = append(mounts, line)
		}
	}
	return mounts, nil
}

// Copy transfers files between host and instance. A ":" prefix marks the
// instance side.
func (b *Backend) Copy(ctx context.Context, src, dst, target string) error {
	container := b.containerName(target)

	srcArg := src
	if strings.HasPrefix(src, ":") {
		srcArg = container + ":" + strings.TrimPrefix(src, ":")
	}
	dstArg := dst
	if strings.HasPrefix(dst, ":") {
		dstArg = container + ":" + strings.TrimPrefix(dst, ":")
	}

	if _, err := b.engine(ctx, 5*time.Minute, "cp", srcArg, dstArg); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, fmt.Sprintf("copy %s to %s", srcArg, dstArg))
	}
	return nil
}

// cleanupAudio removes host audio routing on darwin when the workspace had
// audio enabled. No-op elsewhere.
func (b *Backend) cleanupAudio(ctx context.Context) {
	if runtime.GOOS != "darwin" {
		return
	}
	if b.cfg.VM.Audio == nil || !*b.cfg.VM.Audio {
		return
	}
	if _, err := b.engine(ctx, time.Minute, "rm", "-f", "vm-audio-global"); err != nil {
		b.logger.Debug().Err(err).Msg("audio cleanup skipped")
	}
}
