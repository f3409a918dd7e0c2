// Package docker implements the container-a backend on the docker CLI and
// docker compose. It is the reference backend; the nerdctl backend reuses
// the same compose files with a different CLI.
package docker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/devyard/vm/pkg/compose"
	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/log"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/types"
)

func init() {
	provider.Register(types.ProviderContainerA, func(cfg *config.VmConfig, pctx provider.Context) (provider.Provider, error) {
		return New(cfg, pctx), nil
	})
}

// readinessAttempts bounds the exec-ability probe after compose up.
const readinessAttempts = 30

// ServiceRegistrar is the slice of the shared-service manager the create
// pipeline needs. Nil skips service wiring (tests, bare configs).
type ServiceRegistrar interface {
	StartService(ctx context.Context, name string) error
	RegisterVM(service, workspaceID string) error
	UnregisterVM(service, workspaceID string) error
}

// Backend drives workspaces through the docker CLI.
type Backend struct {
	cfg    *config.VmConfig
	pctx   provider.Context
	runner *platform.Runner
	logger zerolog.Logger

	// services is the optional shared-service manager hookup.
	services ServiceRegistrar

	// projectDir is the host directory mounted into the workspace;
	// defaults to the current working directory.
	projectDir string

	// bin is the engine CLI. The nerdctl backend embeds Backend with a
	// different value.
	bin string

	kind types.ProviderKind
}

// New builds a docker backend for the given workspace config.
func New(cfg *config.VmConfig, pctx provider.Context) *Backend {
	return NewWithCLI("docker", types.ProviderContainerA, cfg, pctx)
}

// NewWithCLI builds a backend driving any docker-compatible CLI. The
// nerdctl backend builds on this.
func NewWithCLI(bin string, kind types.ProviderKind, cfg *config.VmConfig, pctx provider.Context) *Backend {
	dir, _ := os.Getwd()
	return &Backend{
		cfg:        cfg,
		pctx:       pctx,
		runner:     platform.NewRunner(),
		logger:     log.WithProvider(bin),
		projectDir: dir,
		bin:        bin,
		kind:       kind,
	}
}

// SetRunner replaces the command runner. Tests inject fake subprocesses
// through this.
func (b *Backend) SetRunner(r *platform.Runner) { b.runner = r }

// SetProjectDir overrides the host directory mounted into the workspace.
func (b *Backend) SetProjectDir(dir string) { b.projectDir = dir }

// SetServices wires the shared-service manager into the create pipeline.
func (b *Backend) SetServices(s ServiceRegistrar) { b.services = s }

// Kind reports the backend identity.
func (b *Backend) Kind() types.ProviderKind { return b.kind }

// SupportsMultiInstance reports that compose-based backends can run several
// instances of one project.
func (b *Backend) SupportsMultiInstance() bool { return true }

// containerName maps an instance target to its container name. The empty
// target means the default instance.
func (b *Backend) containerName(target string) string {
	return compose.ServiceName(b.cfg, target)
}

// Create builds and starts the default instance.
func (b *Backend) Create(ctx context.Context) error {
	return b.CreateInstance(ctx, compose.DefaultInstance)
}

// CreateInstance runs the full create pipeline: preflight, build context
// synthesis, image pull, compose up, shared services, readiness probe, and
// provisioning.
func (b *Backend) CreateInstance(ctx context.Context, name string) error {
	if err := b.preflight(); err != nil {
		return err
	}

	buildCtx, err := compose.Synthesize(b.composeInput(name))
	if err != nil {
		return err
	}

	if err := b.pullBaseImage(ctx); err != nil {
		return err
	}

	container := b.containerName(name)
	b.logger.Info().Str("container", container).Msg("starting workspace")

	// Services come up before the workspace so its first boot can already
	// reach them.
	if err := b.startSharedServices(ctx, container); err != nil {
		return err
	}

	if _, err := b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{b.bin, "compose", "-f", buildCtx.ComposePath, "up", "-d", "--build"},
		Timeout: 15 * time.Minute,
	}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "compose up")
	}

	if err := b.waitExecReady(ctx, container); err != nil {
		return err
	}

	if err := b.provision(ctx, container, buildCtx.ConfigPath); err != nil {
		return err
	}

	b.logger.Info().Str("container", container).Msg("workspace ready")
	return nil
}

// preflight rejects hosts that cannot run a workspace before any state is
// touched.
func (b *Backend) preflight() error {
	if err := platform.CheckBinary(b.bin); err != nil {
		return err
	}
	return platform.CheckResources()
}

func (b *Backend) composeInput(instance string) compose.Input {
	in := compose.Input{
		Config:     b.cfg,
		Instance:   instance,
		ProjectDir: b.projectDir,
		UID:        os.Getuid(),
		GID:        os.Getgid(),
	}
	if b.pctx.Global != nil && b.pctx.Global.Registry.Enabled {
		in.Registry = &compose.RegistryBinding{
			Host: platform.DockerBridgeHost(),
			Port: b.pctx.Global.Registry.Port,
		}
	}
	return in
}

func (b *Backend) pullBaseImage(ctx context.Context) error {
	image := b.cfg.VM.Box
	if image == "" {
		return nil
	}

	out, err := b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{b.bin, "pull", image},
		Timeout: 10 * time.Minute,
	})
	if err == nil {
		return nil
	}
	if isRateLimited(out) {
		return errdefs.Dependencyf(
			"registry rate limit reached pulling %s; authenticate with `%s login` or retry later", image, b.bin)
	}
	return errdefs.Wrap(err, errdefs.KindProvider, "pull "+image)
}

// isRateLimited recognizes registry throttling in pull output.
func isRateLimited(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "toomanyrequests") || strings.Contains(lower, "rate limit")
}

func (b *Backend) startSharedServices(ctx context.Context, workspaceID string) error {
	if b.services == nil {
		return nil
	}
	for _, name := range b.cfg.EnabledServices() {
		if err := b.services.StartService(ctx, name); err != nil {
			return err
		}
		if err := b.services.RegisterVM(name, workspaceID); err != nil {
			return err
		}
	}
	return nil
}

// waitExecReady polls until the container accepts exec, one attempt per
// second.
func (b *Backend) waitExecReady(ctx context.Context, container string) error {
	for attempt := 1; attempt <= readinessAttempts; attempt++ {
		_, err := b.runner.Run(ctx, platform.Cmd{
			Argv:    []string{b.bin, "exec", container, "echo", "ready"},
			Timeout: 5 * time.Second,
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
		"container %s did not become exec-ready after %d attempts; rerun with --verbose for engine output",
		container, readinessAttempts)
}

// Destroy tears down the instance, releases shared services, and removes
// the build contexts left in the cache dir.
func (b *Backend) Destroy(ctx context.Context, target string) error {
	container := b.containerName(target)

	if _, err := b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{b.bin, "rm", "-f", container},
		Timeout: time.Minute,
	}); err != nil && !errdefs.IsKind(err, errdefs.KindCommand) {
		return errdefs.Wrap(err, errdefs.KindProvider, "remove "+container)
	}

	// Always release the references; the service manager decides at
	// refcount zero whether preserve_services keeps the container running.
	if b.services != nil {
		for _, name := range b.cfg.EnabledServices() {
			if err := b.services.UnregisterVM(name, container); err != nil {
				b.logger.Warn().Err(err).Str("service", name).Msg("unregister failed")
			}
		}
	}

	b.removeBuildContexts()
	b.cleanupAudio(ctx)
	return nil
}

// removeBuildContexts clears synthesized contexts for this project from the
// cache dir.
func (b *Backend) removeBuildContexts() {
	pattern := filepath.Join(platform.CacheDir(), fmt.Sprintf("build-%s-*", b.cfg.Project.Name))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, dir := range matches {
		if err := os.RemoveAll(dir); err != nil {
			b.logger.Warn().Err(err).Str("dir", dir).Msg("build context cleanup failed")
		}
	}
}

var _ provider.Provider = (*Backend)(nil)
