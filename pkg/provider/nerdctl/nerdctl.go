// Package nerdctl implements the container-b backend. Lifecycle operations
// go through the nerdctl CLI against the same compose files as the docker
// backend; status, exec, and image export use the containerd client
// directly.
package nerdctl

import (
	"context"
	"sync"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"

	"github.com/devyard/vm/pkg/compose"
	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/provider/docker"
	"github.com/devyard/vm/pkg/types"
)

const (
	// defaultSocket is containerd's stock socket path.
	defaultSocket = "/run/containerd/containerd.sock"

	// defaultNamespace is where nerdctl places containers.
	defaultNamespace = "default"

	// nameLabel is the label nerdctl stores the human name under.
	nameLabel = "nerdctl/name"
)

func init() {
	provider.Register(types.ProviderContainerB, func(cfg *config.VmConfig, pctx provider.Context) (provider.Provider, error) {
		return New(cfg, pctx), nil
	})
}

// Backend drives workspaces through nerdctl, sharing the compose pipeline
// with the docker backend.
type Backend struct {
	*docker.Backend

	cfg       *config.VmConfig
	socket    string
	namespace string

	mu     sync.Mutex
	client *containerd.Client
}

// New builds a nerdctl backend.
func New(cfg *config.VmConfig, pctx provider.Context) *Backend {
	return &Backend{
		Backend:   docker.NewWithCLI("nerdctl", types.ProviderContainerB, cfg, pctx),
		cfg:       cfg,
		socket:    defaultSocket,
		namespace: defaultNamespace,
	}
}

// SetSocket overrides the containerd socket path.
func (b *Backend) SetSocket(path string) { b.socket = path }

// connect opens the containerd client on first use.
func (b *Backend) connect() (*containerd.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}

	client, err := containerd.New(b.socket)
	if err != nil {
		return nil, errdefs.Dependencyf("connect to containerd at %s: %v", b.socket, err)
	}
	b.client = client
	return client, nil
}

// Close releases the containerd connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

// containerName maps an instance target to its container name.
func (b *Backend) containerName(target string) string {
	return compose.ServiceName(b.cfg, target)
}

// loadContainer finds the named container in the nerdctl namespace by its
// name label.
func (b *Backend) loadContainer(ctx context.Context, name string) (containerd.Container, error) {
	client, err := b.connect()
	if err != nil {
		return nil, err
	}
	ctx = namespaces.WithNamespace(ctx, b.namespace)

	containers, err := client.Containers(ctx)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindProvider, "list containers")
	}
	for _, c := range containers {
		labels, err := c.Labels(ctx)
		if err != nil {
			continue
		}
		if labels[nameLabel] == name || c.ID() == name {
			return c, nil
		}
	}
	return nil, errdefs.NotFoundf("container %s", name)
}

// Status reports instance state straight from containerd rather than
// shelling out.
func (b *Backend) Status(ctx context.Context, target string) (*types.StatusReport, error) {
	name := b.containerName(target)

	container, err := b.loadContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	ctx = namespaces.WithNamespace(ctx, b.namespace)

	report := &types.StatusReport{
		Name:        name,
		Provider:    types.ProviderContainerB,
		ContainerID: container.ID(),
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the container exists but is not running.
		return report, nil
	}
	status, err := task.Status(ctx)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindProvider, "task status "+name)
	}
	report.IsRunning = status.Status == containerd.Running || status.Status == containerd.Paused
	return report, nil
}
