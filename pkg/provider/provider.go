package provider

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/types"
)

// Provider is the backend contract every workspace engine implements.
// Targets name an instance; the empty target means the default instance.
// Blocking operations take a context and honor cancellation.
type Provider interface {
	// Create builds and starts the default instance.
	Create(ctx context.Context) error

	// CreateInstance builds and starts a named instance.
	CreateInstance(ctx context.Context, name string) error

	Start(ctx context.Context, target string) error
	Stop(ctx context.Context, target string) error
	Restart(ctx context.Context, target string) error

	// Destroy removes the instance and its resources. Shared services
	// survive according to Context.PreserveServices.
	Destroy(ctx context.Context, target string) error

	// Kill force-terminates without graceful shutdown.
	Kill(ctx context.Context, target string) error

	// SSH opens an interactive shell joined at the workspace path plus
	// relPath, which must not escape the workspace.
	SSH(ctx context.Context, target, relPath string) error

	// Exec runs argv non-interactively inside the instance.
	Exec(ctx context.Context, target string, argv []string) error

	// Logs streams instance logs per opts.
	Logs(ctx context.Context, target string, opts LogOptions) error

	Status(ctx context.Context, target string) (*types.StatusReport, error)

	// List reports instances of this project.
	List(ctx context.Context) ([]types.InstanceInfo, error)

	// ListInstances reports every instance the backend knows about,
	// including other projects.
	ListInstances(ctx context.Context) ([]types.InstanceInfo, error)

	Snapshot(ctx context.Context, req SnapshotRequest) error
	RestoreSnapshot(ctx context.Context, req RestoreRequest) error

	// Copy transfers a file between host and instance. Paths prefixed
	// with ":" are instance-side.
	Copy(ctx context.Context, src, dst, target string) error

	// ContainerMounts lists host paths mounted into the instance.
	ContainerMounts(ctx context.Context, name string) ([]string, error)

	SupportsMultiInstance() bool

	// ResolveInstanceName expands a partial instance name to the full
	// one, erring on ambiguity.
	ResolveInstanceName(partial string) (string, error)

	Kind() types.ProviderKind
}

// LogOptions shapes a Logs call.
type LogOptions struct {
	// Follow keeps the stream open.
	Follow bool

	// Tail limits output to the last N lines; 0 means the backend
	// default (50).
	Tail int

	// Service selects an auxiliary service's logs instead of the dev
	// instance.
	Service string
}

// SnapshotRequest asks the backend to export instance state (images,
// volumes) into Dir.
type SnapshotRequest struct {
	Name        string
	Dir         string
	Description string
}

// RestoreRequest asks the backend to rebuild instance state from Dir.
type RestoreRequest struct {
	Name string
	Dir  string
}

// Context carries cross-cutting settings every backend receives.
type Context struct {
	// Verbose surfaces full subprocess output.
	Verbose bool

	// Global is the machine-wide configuration snapshot.
	Global *config.GlobalConfig

	// PreserveServices keeps shared services running on destroy.
	PreserveServices bool
}

// Constructor builds a backend for one provider kind.
type Constructor func(cfg *config.VmConfig, pctx Context) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[types.ProviderKind]Constructor)
)

// Register installs a backend constructor. Backend packages call this from
// init; the last registration for a kind wins.
func Register(kind types.ProviderKind, fn Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = fn
}

// New builds the backend for kind. Unknown or unregistered kinds are
// validation errors naming the registered alternatives.
func New(kind types.ProviderKind, cfg *config.VmConfig, pctx Context) (Provider, error) {
	if !kind.Valid() {
		return nil, errdefs.Validationf("unknown provider %q (valid: %s)", kind, knownKinds())
	}

	registryMu.RLock()
	fn, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, errdefs.Validationf("provider %q is not available in this build", kind)
	}
	return fn(cfg, pctx)
}

func knownKinds() string {
	kinds := []string{
		string(types.ProviderContainerA),
		string(types.ProviderContainerB),
		string(types.ProviderNativeVM),
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ", ")
}
