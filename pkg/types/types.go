package types

import (
	"encoding/json"
	"time"
)

// Workspace is the unit of orchestration: a user-named, owner-scoped
// development environment realized by a provider backend.
type Workspace struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Owner          string          `json:"owner"`
	Template       string          `json:"template,omitempty"`
	Provider       ProviderKind    `json:"provider"`
	Status         WorkspaceStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	TTLSeconds     int64           `json:"ttl_seconds,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	ProviderID     string          `json:"provider_id,omitempty"`
	ConnectionInfo json.RawMessage `json:"connection_info,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Expired reports whether the workspace TTL has elapsed at the given time.
func (w *Workspace) Expired(now time.Time) bool {
	return w.ExpiresAt != nil && !w.ExpiresAt.After(now)
}

// WorkspaceStatus represents the lifecycle state of a workspace
type WorkspaceStatus string

const (
	StatusCreating WorkspaceStatus = "Creating"
	StatusRunning  WorkspaceStatus = "Running"
	StatusStopped  WorkspaceStatus = "Stopped"
	StatusFailed   WorkspaceStatus = "Failed"
)

// Valid reports whether s is one of the known workspace states.
func (s WorkspaceStatus) Valid() bool {
	switch s {
	case StatusCreating, StatusRunning, StatusStopped, StatusFailed:
		return true
	}
	return false
}

// ProviderKind identifies a workspace backend
type ProviderKind string

const (
	// ProviderContainerA is the reference container engine (docker CLI).
	ProviderContainerA ProviderKind = "container-a"

	// ProviderContainerB is the second container engine (nerdctl/containerd).
	ProviderContainerB ProviderKind = "container-b"

	// ProviderNativeVM runs the workspace as a native virtual machine (lima).
	ProviderNativeVM ProviderKind = "native-vm"
)

// Valid reports whether k names a known backend.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderContainerA, ProviderContainerB, ProviderNativeVM:
		return true
	}
	return false
}

// ConnectionInfo is the provisioner's record of how to reach a workspace.
// It is persisted as opaque JSON on the workspace row.
type ConnectionInfo struct {
	ContainerID string         `json:"container_id,omitempty"`
	VMName      string         `json:"vm_name,omitempty"`
	Status      string         `json:"status"`
	SSHCommand  string         `json:"ssh_command"`
	PortMap     map[string]int `json:"port_map,omitempty"`
}

// InstanceInfo describes one provider-side instance of a workspace
type InstanceInfo struct {
	Name      string
	Provider  ProviderKind
	ID        string
	IsRunning bool
	Uptime    string
	CreatedAt time.Time
}

// StatusReport is the provider's full answer to a status query
type StatusReport struct {
	Name        string
	Provider    ProviderKind
	IsRunning   bool
	ContainerID string
	Uptime      string
	Resources   ResourceUsage
	Services    []ServiceStatus
}

// ResourceUsage carries point-in-time resource figures; zero values mean
// the backend could not report the figure.
type ResourceUsage struct {
	CPUPercent float64
	MemUsed    int64
	MemLimit   int64
	DiskUsed   int64
	DiskTotal  int64
}

// ServiceStatus describes one auxiliary service attached to a workspace
type ServiceStatus struct {
	Name      string
	Port      int
	HostPort  int
	IsRunning bool
	Metrics   map[string]string
	Error     string
}

// ServiceState is the shared-service manager's bookkeeping for one
// singleton service. is_running implies reference_count >= 1.
type ServiceState struct {
	Name                 string
	IsRunning            bool
	ReferenceCount       int
	RegisteredWorkspaces map[string]bool
}

// SnapshotMetadata is written as metadata.json inside every capture
type SnapshotMetadata struct {
	Name           string            `json:"name"`
	CreatedAt      time.Time         `json:"created_at"`
	Description    string            `json:"description,omitempty"`
	ProjectName    string            `json:"project_name"`
	ProjectDir     string            `json:"project_dir"`
	GitCommit      string            `json:"git_commit,omitempty"`
	GitDirty       bool              `json:"git_dirty,omitempty"`
	GitBranch      string            `json:"git_branch,omitempty"`
	Services       []SnapshotService `json:"services"`
	Volumes        []SnapshotVolume  `json:"volumes"`
	ComposeFile    string            `json:"compose_file"`
	VMConfigFile   string            `json:"vm_config_file"`
	TotalSizeBytes int64             `json:"total_size_bytes"`
}

// SnapshotService records one saved image
type SnapshotService struct {
	Name        string `json:"name"`
	ImageTag    string `json:"image_tag"`
	ImageFile   string `json:"image_file"`
	ImageDigest string `json:"image_digest,omitempty"`
}

// SnapshotVolume records one archived volume
type SnapshotVolume struct {
	Name        string `json:"name"`
	ArchiveFile string `json:"archive_file"`
	SizeBytes   int64  `json:"size_bytes"`
}

// SnapshotManifest is the top-level manifest.json of an exported archive
type SnapshotManifest struct {
	Version        string            `json:"version"`
	SnapshotName   string            `json:"snapshot_name"`
	IsGlobal       bool              `json:"is_global"`
	CreatedAt      time.Time         `json:"created_at"`
	Description    string            `json:"description,omitempty"`
	ProjectName    string            `json:"project_name"`
	TotalSizeBytes int64             `json:"total_size_bytes"`
	Services       []SnapshotService `json:"services"`
	Volumes        []SnapshotVolume  `json:"volumes"`
}

// ManifestVersion is the only export format this build reads and writes.
const ManifestVersion = "1.0"

// Shell identifies the user's login shell family
type Shell string

const (
	ShellPosix      Shell = "posix-sh"
	ShellZsh        Shell = "zsh"
	ShellFish       Shell = "fish"
	ShellPowershell Shell = "powershell"
	ShellCmd        Shell = "cmd"
)

// Event represents an orchestrator event (for the pub/sub broker)
type Event struct {
	Type        EventType
	Timestamp   time.Time
	WorkspaceID string
	Workspace   string
	Service     string
	Snapshot    string
	Message     string
	Data        map[string]string
}

// EventType tags broker events
type EventType string

const (
	EventWorkspaceCreated  EventType = "workspace.created"
	EventWorkspaceRunning  EventType = "workspace.running"
	EventWorkspaceFailed   EventType = "workspace.failed"
	EventWorkspaceStopped  EventType = "workspace.stopped"
	EventWorkspaceDeleted  EventType = "workspace.deleted"
	EventServiceStarted    EventType = "service.started"
	EventServiceStopped    EventType = "service.stopped"
	EventSnapshotCreated   EventType = "snapshot.created"
	EventSnapshotRestored  EventType = "snapshot.restored"
)
