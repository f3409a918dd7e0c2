// Package provisioner turns Creating workspace records into running
// instances. A tick loop picks up pending rows, drives the provider's
// blocking create in a goroutine per workspace, and reaps workspaces whose
// TTL elapsed.
package provisioner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/events"
	"github.com/devyard/vm/pkg/log"
	"github.com/devyard/vm/pkg/metrics"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/store"
	"github.com/devyard/vm/pkg/types"
)

// DefaultInterval is the tick period between provisioning passes.
const DefaultInterval = 10 * time.Second

// Factory builds the provider backend for a workspace record. Tests inject
// stubs through this.
type Factory func(w *types.Workspace) (provider.Provider, error)

// DefaultFactory builds a real backend from the workspace row: a minimal
// config carrying the record's name and provider kind.
func DefaultFactory(global *config.GlobalConfig) Factory {
	return func(w *types.Workspace) (provider.Provider, error) {
		cfg := &config.VmConfig{
			Provider: string(w.Provider),
			Project:  config.ProjectConfig{Name: w.Name},
		}
		return provider.New(w.Provider, cfg, provider.Context{Global: global})
	}
}

// Provisioner is the background loop realizing workspace records.
type Provisioner struct {
	store    store.Store
	factory  Factory
	interval time.Duration
	logger   zerolog.Logger
	broker   *events.Broker

	// inflight guards against double-provisioning a workspace across
	// ticks while its goroutine is still working.
	mu       sync.Mutex
	inflight map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a provisioner over the store with the given provider factory.
func New(st store.Store, factory Factory) *Provisioner {
	return &Provisioner{
		store:    st,
		factory:  factory,
		interval: DefaultInterval,
		logger:   log.WithComponent("provisioner"),
		inflight: make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
}

// SetInterval overrides the tick period.
func (p *Provisioner) SetInterval(d time.Duration) { p.interval = d }

// SetEvents wires the broker for workspace lifecycle events.
func (p *Provisioner) SetEvents(b *events.Broker) { p.broker = b }

// Start begins the provisioning loop.
func (p *Provisioner) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop halts the loop and waits for in-flight workspaces to settle.
func (p *Provisioner) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Provisioner) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(context.Background())
		case <-p.stopCh:
			return
		}
	}
}

// tick runs one provisioning pass: dispatch pending creates, then reap
// expired workspaces. Per-workspace errors are logged, never propagated.
func (p *Provisioner) tick(ctx context.Context) {
	pending, err := p.store.GetWorkspacesByStatus(types.StatusCreating)
	if err != nil {
		p.logger.Error().Err(err).Msg("list creating workspaces")
	}
	for _, w := range pending {
		p.dispatch(ctx, w)
	}

	p.reap(ctx, time.Now())
}

// dispatch starts a provisioning goroutine for the workspace unless one is
// already running.
func (p *Provisioner) dispatch(ctx context.Context, w *types.Workspace) {
	p.mu.Lock()
	if p.inflight[w.ID] {
		p.mu.Unlock()
		return
	}
	p.inflight[w.ID] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.inflight, w.ID)
			p.mu.Unlock()
		}()
		p.provision(ctx, w)
	}()
}

// provision drives one workspace from Creating to Running or Failed.
func (p *Provisioner) provision(ctx context.Context, w *types.Workspace) {
	logger := p.logger.With().Str("workspace", w.Name).Str("id", w.ID).Logger()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProvisionDuration)

	prov, err := p.factory(w)
	if err != nil {
		p.fail(w, err, logger)
		return
	}

	if err := prov.CreateInstance(ctx, w.Name); err != nil {
		p.fail(w, err, logger)
		return
	}

	report, err := prov.Status(ctx, w.Name)
	if err != nil {
		p.fail(w, errdefs.Wrap(err, errdefs.KindProvider, "instance vanished after create"), logger)
		return
	}

	conn, err := json.Marshal(types.ConnectionInfo{
		ContainerID: report.ContainerID,
		Status:      "running",
		SSHCommand:  "vm ssh " + w.Name,
	})
	if err != nil {
		p.fail(w, errdefs.Internalf("marshal connection info: %v", err), logger)
		return
	}

	providerID := report.ContainerID
	if _, err := p.store.UpdateWorkspaceStatus(w.ID, store.StatusUpdate{
		Status:         types.StatusRunning,
		ProviderID:     &providerID,
		ConnectionInfo: conn,
	}); err != nil {
		logger.Error().Err(err).Msg("record running state")
		return
	}

	logger.Info().Str("provider_id", providerID).Msg("workspace running")
	if p.broker != nil {
		p.broker.PublishWorkspace(types.EventWorkspaceRunning, w.ID, w.Name, "")
	}
}

// fail records the workspace as Failed with the error text.
func (p *Provisioner) fail(w *types.Workspace, cause error, logger zerolog.Logger) {
	metrics.ProvisionFailures.Inc()
	logger.Error().Err(cause).Msg("provisioning failed")

	msg := cause.Error()
	if _, err := p.store.UpdateWorkspaceStatus(w.ID, store.StatusUpdate{
		Status:       types.StatusFailed,
		ErrorMessage: &msg,
	}); err != nil {
		logger.Error().Err(err).Msg("record failed state")
	}
	if p.broker != nil {
		p.broker.PublishWorkspace(types.EventWorkspaceFailed, w.ID, w.Name, msg)
	}
}

// reap destroys and deletes workspaces whose TTL elapsed at now.
func (p *Provisioner) reap(ctx context.Context, now time.Time) {
	expired, err := p.store.GetExpiredWorkspaces(now)
	if err != nil {
		p.logger.Error().Err(err).Msg("list expired workspaces")
		return
	}

	for _, w := range expired {
		logger := p.logger.With().Str("workspace", w.Name).Str("id", w.ID).Logger()

		prov, err := p.factory(w)
		if err != nil {
			logger.Error().Err(err).Msg("reap: build provider")
			continue
		}
		if err := prov.Destroy(ctx, w.Name); err != nil && !errors.Is(err, errdefs.ErrNotFound) {
			logger.Error().Err(err).Msg("reap: destroy instance")
			continue
		}
		if err := p.store.DeleteWorkspace(w.ID); err != nil {
			logger.Error().Err(err).Msg("reap: delete row")
			continue
		}

		metrics.WorkspacesReaped.Inc()
		logger.Info().Msg("expired workspace reaped")
		if p.broker != nil {
			p.broker.PublishWorkspace(types.EventWorkspaceDeleted, w.ID, w.Name, "ttl expired")
		}
	}
}
