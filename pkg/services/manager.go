// Package services manages the shared singleton services workspaces depend
// on: databases, the package registry, and the auth proxy. Each service is
// one container (`vm-<name>-global`) reused across projects, reference
// counted so it stops only when the last workspace releases it.
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/events"
	"github.com/devyard/vm/pkg/health"
	"github.com/devyard/vm/pkg/log"
	"github.com/devyard/vm/pkg/metrics"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/types"
)

// RefStore persists service reference counts across process restarts. The
// workspace store implements it.
type RefStore interface {
	AddServiceRef(service, workspaceID string) (int, error)
	RemoveServiceRef(service, workspaceID string) (int, error)
	ServiceRefs(service string) ([]string, error)
	AllServiceRefs() (map[string][]string, error)
}

// Manager owns the shared-service lifecycle. All state transitions are
// serialized by one mutex.
type Manager struct {
	store  RefStore
	global *config.GlobalConfig
	runner *platform.Runner
	logger zerolog.Logger

	// bin is the container CLI driving the global containers.
	bin string

	broker *events.Broker

	// checkers builds probes; injectable for tests.
	checkers func(Definition) health.Checker

	mu     sync.Mutex
	states map[string]*types.ServiceState
}

// NewManager builds a manager over the given reference store and global
// config.
func NewManager(store RefStore, global *config.GlobalConfig) *Manager {
	if global == nil {
		global = config.DefaultGlobal()
	}
	m := &Manager{
		store:  store,
		global: global,
		runner: platform.NewRunner(),
		logger: log.WithComponent("services"),
		bin:    "docker",
		states: make(map[string]*types.ServiceState),
	}
	m.checkers = m.checker
	return m
}

// SetRunner replaces the command runner. Tests inject fake subprocesses
// through this.
func (m *Manager) SetRunner(r *platform.Runner) { m.runner = r }

// SetCLI switches the container CLI (nerdctl setups).
func (m *Manager) SetCLI(bin string) { m.bin = bin }

// SetEvents wires the broker for service lifecycle events.
func (m *Manager) SetEvents(b *events.Broker) { m.broker = b }

// hostPort is the host port a service is published on; the registry and
// auth proxy take theirs from the global config.
func (m *Manager) hostPort(def Definition) int {
	switch def.Name {
	case "registry":
		return m.global.Registry.Port
	case "authproxy":
		return m.global.AuthProxy.Port
	}
	return def.Port
}

// StartService brings a service up, idempotently. An existing container is
// inspected: image or port mismatches trigger a recreate, a stopped
// container is started, a matching running one is reused.
func (m *Manager) StartService(ctx context.Context, name string) error {
	def, ok := Lookup(name)
	if !ok {
		return errdefs.Validationf("unknown service %q (known: %s)", name, strings.Join(Names(), ", "))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if def.Image == "" {
		// The engine itself: nothing to start, just verify it answers.
		result := m.checkers(def).Check(ctx)
		if !result.Healthy {
			return errdefs.Dependencyf("%s engine is not available: %s", m.bin, result.Message)
		}
		m.markRunning(name, true)
		return nil
	}

	container := ContainerName(name)
	hostPort := m.hostPort(def)

	running, image, boundPort, err := m.inspect(ctx, container)
	switch {
	case err != nil:
		// No container yet.
		if err := m.create(ctx, def, container, hostPort); err != nil {
			return err
		}
	case image != def.Image || boundPort != fmt.Sprint(hostPort):
		m.logger.Info().Str("service", name).
			Str("image", image).Str("port", boundPort).
			Msg("recreating service container after config change")
		if _, err := m.runner.Run(ctx, platform.Cmd{
			Argv:    []string{m.bin, "rm", "-f", container},
			Timeout: time.Minute,
		}); err != nil {
			return errdefs.Wrap(err, errdefs.KindProvider, "remove "+container)
		}
		if err := m.create(ctx, def, container, hostPort); err != nil {
			return err
		}
	case !running:
		if _, err := m.runner.Run(ctx, platform.Cmd{
			Argv:    []string{m.bin, "start", container},
			Timeout: time.Minute,
		}); err != nil {
			return errdefs.Wrap(err, errdefs.KindProvider, "start "+container)
		}
	}

	m.markRunning(name, true)
	if m.broker != nil {
		m.broker.Publish(&types.Event{Type: types.EventServiceStarted, Service: name})
	}
	return nil
}

// inspect reports an existing container's run state, image, and first bound
// host port. An error means the container does not exist.
func (m *Manager) inspect(ctx context.Context, container string) (running bool, image, hostPort string, err error) {
	const format = "{{.State.Running}}|{{.Config.Image}}|" +
		"{{range $p, $bindings := .HostConfig.PortBindings}}{{(index $bindings 0).HostPort}}{{end}}"
	out, err := m.runner.Run(ctx, platform.Cmd{
		Argv:    []string{m.bin, "inspect", "--format", format, container},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return false, "", "", err
	}
	parts := strings.SplitN(strings.TrimSpace(out), "|", 3)
	if len(parts) != 3 {
		return false, "", "", errdefs.Providerf("unexpected inspect output for %s", container)
	}
	return parts[0] == "true", parts[1], parts[2], nil
}

// create runs the service container with its password injected.
func (m *Manager) create(ctx context.Context, def Definition, container string, hostPort int) error {
	argv := []string{m.bin, "run", "-d",
		"--name", container,
		"--restart", "unless-stopped",
		"-p", fmt.Sprintf("127.0.0.1:%d:%d", hostPort, def.Port),
	}

	var password string
	if def.PasswordEnv != "" || def.PasswordArgs {
		var err error
		password, err = Password(def.Name)
		if err != nil {
			return err
		}
	}
	if def.PasswordEnv != "" {
		argv = append(argv, "-e", def.PasswordEnv+"="+password)
	}
	for _, env := range def.ExtraEnv {
		argv = append(argv, "-e", env)
	}

	argv = append(argv, def.Image)
	if def.PasswordArgs {
		argv = append(argv, "redis-server", "--requirepass", password)
	}

	if _, err := m.runner.Run(ctx, platform.Cmd{
		Argv:    argv,
		Timeout: 10 * time.Minute,
	}); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "run "+container)
	}
	return nil
}

// Stop shuts a service down and records it as stopped.
func (m *Manager) Stop(ctx context.Context, name string) error {
	def, ok := Lookup(name)
	if !ok {
		return errdefs.Validationf("unknown service %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx, def)
}

func (m *Manager) stopLocked(ctx context.Context, def Definition) error {
	if def.Image == "" {
		m.markRunning(def.Name, false)
		return nil
	}
	container := ContainerName(def.Name)
	if _, err := m.runner.Run(ctx, platform.Cmd{
		Argv:    []string{m.bin, "stop", container},
		Timeout: 2 * time.Minute,
	}); err != nil && !errdefs.IsKind(err, errdefs.KindCommand) {
		return errdefs.Wrap(err, errdefs.KindProvider, "stop "+container)
	}
	m.markRunning(def.Name, false)
	if m.broker != nil {
		m.broker.Publish(&types.Event{Type: types.EventServiceStopped, Service: def.Name})
	}
	return nil
}

// CheckHealth probes a service through its catalog checker.
func (m *Manager) CheckHealth(ctx context.Context, name string) (health.Result, error) {
	def, ok := Lookup(name)
	if !ok {
		return health.Result{}, errdefs.Validationf("unknown service %q", name)
	}
	return m.checkers(def).Check(ctx), nil
}

// checker builds the probe for a catalog entry.
func (m *Manager) checker(def Definition) health.Checker {
	addr := fmt.Sprintf("127.0.0.1:%d", m.hostPort(def))
	switch def.Health {
	case health.CheckTypeHTTP:
		return health.NewHTTPChecker("http://" + addr + "/health")
	case health.CheckTypeExec:
		return health.NewExecChecker([]string{m.bin, "info"})
	default:
		// Short dial timeout; wait loops poll every couple of seconds.
		return health.NewTCPChecker(addr).WithTimeout(3 * time.Second)
	}
}

// RegisterVM records a workspace's dependency on a service, starting it on
// the 0→1 transition.
func (m *Manager) RegisterVM(service, workspaceID string) error {
	if _, ok := Lookup(service); !ok {
		return errdefs.Validationf("unknown service %q", service)
	}

	count, err := m.store.AddServiceRef(service, workspaceID)
	if err != nil {
		return err
	}
	metrics.ServiceReferences.WithLabelValues(service).Set(float64(count))

	m.mu.Lock()
	state := m.stateLocked(service)
	state.ReferenceCount = count
	state.RegisteredWorkspaces[workspaceID] = true
	running := state.IsRunning
	m.mu.Unlock()

	if !running {
		return m.StartService(context.Background(), service)
	}
	return nil
}

// UnregisterVM releases a workspace's dependency, stopping the service on
// the →0 transition unless preserve_services is set.
func (m *Manager) UnregisterVM(service, workspaceID string) error {
	def, ok := Lookup(service)
	if !ok {
		return errdefs.Validationf("unknown service %q", service)
	}

	count, err := m.store.RemoveServiceRef(service, workspaceID)
	if err != nil {
		return err
	}
	metrics.ServiceReferences.WithLabelValues(service).Set(float64(count))

	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.stateLocked(service)
	state.ReferenceCount = count
	delete(state.RegisteredWorkspaces, workspaceID)

	if count == 0 && !m.global.PreserveServices {
		return m.stopLocked(context.Background(), def)
	}
	return nil
}

// State reports the bookkeeping for one service.
func (m *Manager) State(service string) types.ServiceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.stateLocked(service)

	out := *state
	out.RegisteredWorkspaces = make(map[string]bool, len(state.RegisteredWorkspaces))
	for k, v := range state.RegisteredWorkspaces {
		out.RegisteredWorkspaces[k] = v
	}
	return out
}

// Restore reloads reference counts from the store, typically at process
// start.
func (m *Manager) Restore() error {
	refs, err := m.store.AllServiceRefs()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for service, ids := range refs {
		state := m.stateLocked(service)
		state.ReferenceCount = len(ids)
		for _, id := range ids {
			state.RegisteredWorkspaces[id] = true
		}
		metrics.ServiceReferences.WithLabelValues(service).Set(float64(len(ids)))
	}
	return nil
}

// stateLocked returns (creating if needed) the state record for a service.
// Callers hold the mutex.
func (m *Manager) stateLocked(service string) *types.ServiceState {
	state, ok := m.states[service]
	if !ok {
		state = &types.ServiceState{
			Name:                 service,
			RegisteredWorkspaces: make(map[string]bool),
		}
		m.states[service] = state
	}
	return state
}

// markRunning flips the running flag and the gauge. Callers hold the mutex.
func (m *Manager) markRunning(service string, running bool) {
	state := m.stateLocked(service)
	if state.IsRunning == running {
		return
	}
	state.IsRunning = running
	if running {
		metrics.ServicesRunning.Inc()
	} else {
		metrics.ServicesRunning.Dec()
	}
}
