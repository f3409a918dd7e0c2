// Package lima implements the native-vm backend on lima. Each project gets
// one lima instance; lifecycle goes through limactl, and the instance
// definition is generated with lima's own configuration types.
package lima

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/log"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/types"
)

func init() {
	provider.Register(types.ProviderNativeVM, func(cfg *config.VmConfig, pctx provider.Context) (provider.Provider, error) {
		return New(cfg, pctx), nil
	})
}

// instancePrefix marks lima instances owned by this tool, separating them
// from instances like "default" that the user created directly.
const instancePrefix = "vm-"

// readinessAttempts bounds the shell probe after limactl start returns.
const readinessAttempts = 30

// Backend drives one lima virtual machine per project.
type Backend struct {
	cfg    *config.VmConfig
	pctx   provider.Context
	runner *platform.Runner
	logger zerolog.Logger

	// projectDir is the host directory mounted into the guest; defaults
	// to the current working directory.
	projectDir string
}

// New builds a lima backend for the given workspace config.
func New(cfg *config.VmConfig, pctx provider.Context) *Backend {
	dir, _ := os.Getwd()
	return &Backend{
		cfg:        cfg,
		pctx:       pctx,
		runner:     platform.NewRunner(),
		logger:     log.WithProvider("lima"),
		projectDir: dir,
	}
}

// SetRunner replaces the command runner. Tests inject fake subprocesses
// through this.
func (b *Backend) SetRunner(r *platform.Runner) { b.runner = r }

// SetProjectDir overrides the host directory mounted into the guest.
func (b *Backend) SetProjectDir(dir string) { b.projectDir = dir }

// Kind reports the backend identity.
func (b *Backend) Kind() types.ProviderKind { return types.ProviderNativeVM }

// SupportsMultiInstance reports that lima runs a single instance per
// project.
func (b *Backend) SupportsMultiInstance() bool { return false }

// instanceName is the lima instance for this project.
func (b *Backend) instanceName() string {
	return instancePrefix + b.cfg.Project.Name
}

// resolveTarget rejects targets other than the single instance this
// backend manages.
func (b *Backend) resolveTarget(target string) (string, error) {
	name := b.instanceName()
	switch target {
	case "", "dev", name:
		return name, nil
	}
	return "", errdefs.Validationf(
		"provider native-vm runs a single instance per project; %q is not supported", target)
}

// Create builds and starts the project's virtual machine.
func (b *Backend) Create(ctx context.Context) error {
	return b.CreateInstance(ctx, "")
}

// CreateInstance runs the full create pipeline: preflight, instance
// definition, limactl create and start, readiness probe, and provisioning.
// Named instances beyond the default are rejected.
func (b *Backend) CreateInstance(ctx context.Context, name string) error {
	instance, err := b.resolveTarget(name)
	if err != nil {
		return err
	}
	if err := b.preflight(); err != nil {
		return err
	}

	configPath, err := b.writeInstanceConfig()
	if err != nil {
		return err
	}

	b.logger.Info().Str("instance", instance).Msg("creating virtual machine")
	if _, err := b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{"limactl", "create", "--name", instance, "--tty=false", configPath},
		Timeout: 10 * time.Minute,
	}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "create "+instance)
	}

	if err := b.Start(ctx, instance); err != nil {
		return err
	}

	if err := b.waitShellReady(ctx, instance); err != nil {
		return err
	}

	b.logger.Info().Str("instance", instance).Msg("workspace ready")
	return nil
}

// preflight rejects hosts that cannot run a workspace before any state is
// touched.
func (b *Backend) preflight() error {
	if err := platform.CheckBinary("limactl"); err != nil {
		return err
	}
	return platform.CheckResources()
}

// Start boots the instance. Starting a running instance is a no-op for
// limactl.
func (b *Backend) Start(ctx context.Context, target string) error {
	instance, err := b.resolveTarget(target)
	if err != nil {
		return err
	}
	if _, err := b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{"limactl", "start", "--tty=false", instance},
		Timeout: 10 * time.Minute,
	}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "start "+instance)
	}
	return nil
}

// Stop shuts the instance down gracefully.
func (b *Backend) Stop(ctx context.Context, target string) error {
	instance, err := b.resolveTarget(target)
	if err != nil {
		return err
	}
	if _, err := b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{"limactl", "stop", instance},
		Timeout: 5 * time.Minute,
	}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "stop "+instance)
	}
	return nil
}

// Restart stops then starts the instance.
func (b *Backend) Restart(ctx context.Context, target string) error {
	if err := b.Stop(ctx, target); err != nil {
		return err
	}
	return b.Start(ctx, target)
}

// Kill force-terminates the instance without graceful shutdown.
func (b *Backend) Kill(ctx context.Context, target string) error {
	instance, err := b.resolveTarget(target)
	if err != nil {
		return err
	}
	if _, err := b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{"limactl", "stop", "--force", instance},
		Timeout: time.Minute,
	}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "kill "+instance)
	}
	return nil
}

// Destroy stops and deletes the instance and removes its generated
// definition from the cache dir.
func (b *Backend) Destroy(ctx context.Context, target string) error {
	instance, err := b.resolveTarget(target)
	if err != nil {
		return err
	}

	// Best effort; delete --force handles a still-running instance.
	_, _ = b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{"limactl", "stop", "--force", instance},
		Timeout: time.Minute,
	})

	if _, err := b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{"limactl", "delete", "--force", instance},
		Timeout: 5 * time.Minute,
	}); err != nil && !errdefs.IsKind(err, errdefs.KindCommand) {
		return errdefs.Wrap(err, errdefs.KindProvider, "delete "+instance)
	}

	b.removeInstanceConfig()
	return nil
}

// waitShellReady polls until the guest accepts shell commands, one attempt
// per second. limactl start returns before the guest agent settles.
func (b *Backend) waitShellReady(ctx context.Context, instance string) error {
	for attempt := 1; attempt <= readinessAttempts; attempt++ {
		_, err := b.runner.Run(ctx, platform.Cmd{
			Argv:    []string{"limactl", "shell", instance, "true"},
			Timeout: 10 * time.Second,
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Second)
	}
	return errdefs.Providerf(
		"instance %s did not become shell-ready after %d attempts; check `limactl list` for its state",
		instance, readinessAttempts)
}

// limaInstance is the slice of `limactl list --json` output this backend
// reads.
type limaInstance struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Dir    string `json:"dir"`
	CPUs   int    `json:"cpus"`
	Memory int64  `json:"memory"`
}

// listInstances parses the line-delimited JSON limactl emits.
func (b *Backend) listInstances(ctx context.Context) ([]limaInstance, error) {
	out, err := b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{"limactl", "list", "--json"},
		Timeout: time.Minute,
	})
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindProvider, "list instances")
	}
	return parseInstanceList(out)
}

func parseInstanceList(out string) ([]limaInstance, error) {
	var instances []limaInstance
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var inst limaInstance
		if err := json.Unmarshal([]byte(line), &inst); err != nil {
			return nil, errdefs.Providerf("unexpected limactl list output: %v", err)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Status reports the instance state from limactl list.
func (b *Backend) Status(ctx context.Context, target string) (*types.StatusReport, error) {
	instance, err := b.resolveTarget(target)
	if err != nil {
		return nil, err
	}

	all, err := b.listInstances(ctx)
	if err != nil {
		return nil, err
	}
	for _, inst := range all {
		if inst.Name != instance {
			continue
		}
		return &types.StatusReport{
			Name:      inst.Name,
			Provider:  types.ProviderNativeVM,
			IsRunning: inst.Status == "Running",
			Resources: types.ResourceUsage{MemLimit: inst.Memory},
		}, nil
	}
	return nil, errdefs.NotFoundf("instance %s", instance)
}

// List reports this project's instance, when it exists.
func (b *Backend) List(ctx context.Context) ([]types.InstanceInfo, error) {
	all, err := b.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	name := b.instanceName()
	var out []types.InstanceInfo
	for _, info := range all {
		if info.Name == name {
			out = append(out, info)
		}
	}
	return out, nil
}

// ListInstances reports every lima instance this tool created, across
// projects. Instances without the naming prefix are the user's own and are
// left out.
func (b *Backend) ListInstances(ctx context.Context) ([]types.InstanceInfo, error) {
	all, err := b.listInstances(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.InstanceInfo
	for _, inst := range all {
		if !strings.HasPrefix(inst.Name, instancePrefix) {
			continue
		}
		out = append(out, types.InstanceInfo{
			Name:      inst.Name,
			Provider:  types.ProviderNativeVM,
			IsRunning: inst.Status == "Running",
		})
	}
	return out, nil
}

// ResolveInstanceName expands a partial name against the single instance
// this backend manages.
func (b *Backend) ResolveInstanceName(partial string) (string, error) {
	name := b.instanceName()
	if partial == "" || partial == "dev" || name == partial ||
		strings.HasPrefix(name, partial) || strings.HasPrefix(name, instancePrefix+partial) {
		return name, nil
	}
	return "", errdefs.NotFoundf("instance %s", partial)
}

// Copy transfers a file between host and guest through limactl copy. Paths
// prefixed with ":" are guest-side.
func (b *Backend) Copy(ctx context.Context, src, dst, target string) error {
	instance, err := b.resolveTarget(target)
	if err != nil {
		return err
	}
	qualify := func(p string) string {
		if strings.HasPrefix(p, ":") {
			return instance + p
		}
		return p
	}
	if _, err := b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{"limactl", "copy", qualify(src), qualify(dst)},
		Timeout: 10 * time.Minute,
	}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, fmt.Sprintf("copy %s to %s", src, dst))
	}
	return nil
}

// ContainerMounts lists host directories shared into the guest. The
// generated definition mounts exactly the project directory.
func (b *Backend) ContainerMounts(ctx context.Context, name string) ([]string, error) {
	if _, err := b.resolveTarget(name); err != nil {
		return nil, err
	}
	return []string{b.projectDir}, nil
}

// Logs streams guest system logs through journalctl.
func (b *Backend) Logs(ctx context.Context, target string, opts provider.LogOptions) error {
	instance, err := b.resolveTarget(target)
	if err != nil {
		return err
	}

	tail := opts.Tail
	if tail == 0 {
		tail = 50
	}
	argv := []string{"limactl", "shell", instance, "--",
		"journalctl", "--no-pager", "-n", fmt.Sprint(tail)}
	if opts.Service != "" {
		argv = append(argv, "-u", opts.Service)
	}
	if opts.Follow {
		argv = append(argv, "-f")
	}

	if err := b.runner.RunInteractive(ctx, platform.Cmd{Argv: argv}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "logs "+instance)
	}
	return nil
}

// removeInstanceConfig clears the generated definition for this project
// from the cache dir.
func (b *Backend) removeInstanceConfig() {
	dir := filepath.Join(platform.CacheDir(), "lima-"+b.cfg.Project.Name)
	if err := os.RemoveAll(dir); err != nil {
		b.logger.Warn().Err(err).Str("dir", dir).Msg("instance config cleanup failed")
	}
}

var _ provider.Provider = (*Backend)(nil)
