package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/types"
)

// StubProvider is an in-memory Provider for provisioner and API tests.
// Successful creates yield the fixed provider id "container-abc123" unless
// NextID overrides it.
type StubProvider struct {
	mu sync.Mutex

	// FailCreate makes create calls return a provider error.
	FailCreate bool

	// CreateDelay blocks create calls until the context is done when the
	// delay channel is non-nil (close it to release).
	CreateGate chan struct{}

	// NextID overrides the provider id assigned on create.
	NextID string

	// Calls records operation names in order.
	Calls []string

	instances map[string]types.InstanceInfo
	destroyed []string
}

// NewStub returns an empty stub.
func NewStub() *StubProvider {
	return &StubProvider{instances: make(map[string]types.InstanceInfo)}
}

func (s *StubProvider) record(op string) {
	s.Calls = append(s.Calls, op)
}

// Create builds the default instance.
func (s *StubProvider) Create(ctx context.Context) error {
	return s.CreateInstance(ctx, "dev")
}

// CreateInstance registers a running instance under name.
func (s *StubProvider) CreateInstance(ctx context.Context, name string) error {
	if s.CreateGate != nil {
		select {
		case <-s.CreateGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("create:" + name)

	if s.FailCreate {
		return errdefs.Providerf("stub: create %s failed", name)
	}

	id := s.NextID
	if id == "" {
		id = "container-abc123"
	}
	s.instances[name] = types.InstanceInfo{
		Name:      name,
		Provider:  types.ProviderContainerA,
		ID:        id,
		IsRunning: true,
	}
	return nil
}

func (s *StubProvider) Start(ctx context.Context, target string) error {
	return s.setRunning(target, true, "start")
}

func (s *StubProvider) Stop(ctx context.Context, target string) error {
	return s.setRunning(target, false, "stop")
}

func (s *StubProvider) Restart(ctx context.Context, target string) error {
	return s.setRunning(target, true, "restart")
}

func (s *StubProvider) Kill(ctx context.Context, target string) error {
	return s.setRunning(target, false, "kill")
}

func (s *StubProvider) setRunning(target string, running bool, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(op + ":" + target)

	info, ok := s.instances[target]
	if !ok {
		return errdefs.NotFoundf("instance %s", target)
	}
	info.IsRunning = running
	s.instances[target] = info
	return nil
}

// Destroy removes the instance.
func (s *StubProvider) Destroy(ctx context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("destroy:" + target)
	delete(s.instances, target)
	s.destroyed = append(s.destroyed, target)
	return nil
}

// Destroyed returns the targets destroyed so far.
func (s *StubProvider) Destroyed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.destroyed))
	copy(out, s.destroyed)
	return out
}

func (s *StubProvider) SSH(ctx context.Context, target, relPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ssh:" + target)
	return nil
}

func (s *StubProvider) Exec(ctx context.Context, target string, argv []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("exec:%s:%v", target, argv))
	return nil
}

func (s *StubProvider) Logs(ctx context.Context, target string, opts LogOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("logs:" + target)
	return nil
}

// Status reports the stubbed instance state.
func (s *StubProvider) Status(ctx context.Context, target string) (*types.StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("status:" + target)

	info, ok := s.instances[target]
	if !ok {
		return nil, errdefs.NotFoundf("instance %s", target)
	}
	return &types.StatusReport{
		Name:        info.Name,
		Provider:    info.Provider,
		IsRunning:   info.IsRunning,
		ContainerID: info.ID,
	}, nil
}

func (s *StubProvider) List(ctx context.Context) ([]types.InstanceInfo, error) {
	return s.ListInstances(ctx)
}

func (s *StubProvider) ListInstances(ctx context.Context) ([]types.InstanceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("list")

	var out []types.InstanceInfo
	for _, info := range s.instances {
		out = append(out, info)
	}
	return out, nil
}

func (s *StubProvider) Snapshot(ctx context.Context, req SnapshotRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("snapshot:" + req.Name)
	return nil
}

func (s *StubProvider) RestoreSnapshot(ctx context.Context, req RestoreRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("restore:" + req.Name)
	return nil
}

func (s *StubProvider) Copy(ctx context.Context, src, dst, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("copy:%s:%s", src, dst))
	return nil
}

func (s *StubProvider) ContainerMounts(ctx context.Context, name string) ([]string, error) {
	return nil, nil
}

func (s *StubProvider) SupportsMultiInstance() bool { return true }

// ResolveInstanceName matches known instances by prefix.
func (s *StubProvider) ResolveInstanceName(partial string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []string
	for name := range s.instances {
		if name == partial {
			return name, nil
		}
		if len(partial) > 0 && len(name) >= len(partial) && name[:len(partial)] == partial {
			matches = append(matches, name)
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

func (s *StubProvider) Kind() types.ProviderKind { return types.ProviderContainerA }

var _ Provider = (*StubProvider)(nil)
