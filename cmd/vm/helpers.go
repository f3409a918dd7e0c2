package main

import (
	"os"
	"path/filepath"

	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/ports"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/provider/docker"
	"github.com/devyard/vm/pkg/services"
	"github.com/devyard/vm/pkg/store"
	"github.com/devyard/vm/pkg/types"
)

// project bundles everything a project-scoped command needs: the merged
// config, the machine-wide settings and the port registry.
type project struct {
	cfg    *config.VmConfig
	res    *config.LoadResult
	dir    string
	global *config.GlobalConfig
	reg    *ports.Registry
}

// loadProject assembles the project context for the current directory.
func loadProject() (*project, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, errdefs.WrapFilesystem("getwd", ".", err)
	}

	global, err := config.LoadGlobal(platform.GlobalConfigPath())
	if err != nil {
		return nil, err
	}
	reg, err := ports.Load(platform.PortRegistryPath())
	if err != nil {
		return nil, err
	}

	res, err := config.Load(config.LoadOptions{
		ProjectDir: dir,
		PluginsDir: platform.PluginsDir(),
		Range:      reservedRange(reg, dir),
	})
	if err != nil {
		return nil, err
	}

	return &project{cfg: res.Config, res: res, dir: dir, global: global, reg: reg}, nil
}

// reservedRange finds the port range already reserved for the project at
// dir, matching reservations by project path.
func reservedRange(reg *ports.Registry, dir string) *ports.Range {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil
	}
	for _, r := range reg.List() {
		if r.Path != "" && r.Path == abs {
			rng := r.Range
			return &rng
		}
	}
	return nil
}

// backend builds the provider named by the project config.
func (p *project) backend() (provider.Provider, error) {
	return provider.New(types.ProviderKind(p.cfg.Provider), p.cfg, provider.Context{
		Verbose:          verbose,
		Global:           p.global,
		PreserveServices: p.global.PreserveServices,
	})
}

// serviceAware is implemented by backends that accept the shared-service
// manager (the container backends; lima boxes run services in-VM).
type serviceAware interface {
	SetServices(docker.ServiceRegistrar)
}

// openState opens the workspace state store. Callers must Close it.
func openState() (*store.BoltStore, error) {
	return store.Open(platform.WorkspaceStatePath())
}

// serviceManager builds the shared-service manager backed by the state
// store's reference counts.
func serviceManager(st *store.BoltStore, global *config.GlobalConfig) (*services.Manager, error) {
	m := services.NewManager(st, global)
	if err := m.Restore(); err != nil {
		return nil, err
	}
	return m, nil
}
