package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/devyard/vm/pkg/types"
)

// SchemaVersion is the store layout this build reads and writes. vm-migrate
// upgrades older files in place.
const SchemaVersion = 1

// CreateWorkspaceRequest carries everything needed to record a new
// workspace. The store assigns id, timestamps, and the initial Creating
// status.
type CreateWorkspaceRequest struct {
	Name       string             `json:"name" validate:"required,min=1,max=63"`
	Owner      string             `json:"owner"`
	Template   string             `json:"template,omitempty"`
	Provider   types.ProviderKind `json:"provider" validate:"required"`
	TTLSeconds int64              `json:"ttl_seconds,omitempty" validate:"gte=0"`
	Metadata   json.RawMessage    `json:"metadata,omitempty"`
}

// Filters narrows ListWorkspaces. Zero fields match everything.
type Filters struct {
	Owner  string
	Status types.WorkspaceStatus
}

// StatusUpdate is the payload of UpdateWorkspaceStatus. Nil optional fields
// leave the stored value untouched.
type StatusUpdate struct {
	Status         types.WorkspaceStatus
	ProviderID     *string
	ConnectionInfo json.RawMessage
	ErrorMessage   *string
}

// Store is the durable record of workspaces.
type Store interface {
	CreateWorkspace(req CreateWorkspaceRequest) (*types.Workspace, error)
	GetWorkspace(id string) (*types.Workspace, error)
	ListWorkspaces(f Filters) ([]*types.Workspace, error)
	GetWorkspacesByStatus(s types.WorkspaceStatus) ([]*types.Workspace, error)
	UpdateWorkspaceStatus(id string, u StatusUpdate) (*types.Workspace, error)
	DeleteWorkspace(id string) error
	GetExpiredWorkspaces(now time.Time) ([]*types.Workspace, error)
	Close() error
}

// workspaceRow is the on-disk JSON shape of a workspace: lowercased status,
// Unix-second timestamps, opaque JSON kept as strings.
type workspaceRow struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Owner          string `json:"owner"`
	Template       string `json:"template,omitempty"`
	Provider       string `json:"provider"`
	Status         string `json:"status"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
	TTLSeconds     int64  `json:"ttl_seconds,omitempty"`
	ExpiresAt      *int64 `json:"expires_at,omitempty"`
	ProviderID     string `json:"provider_id,omitempty"`
	ConnectionInfo string `json:"connection_info,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Metadata       string `json:"metadata,omitempty"`
}

func toRow(w *types.Workspace) workspaceRow {
	row := workspaceRow{
		ID:           w.ID,
		Name:         w.Name,
		Owner:        w.Owner,
		Template:     w.Template,
		Provider:     string(w.Provider),
		Status:       strings.ToLower(string(w.Status)),
		CreatedAt:    w.CreatedAt.Unix(),
		UpdatedAt:    w.UpdatedAt.Unix(),
		TTLSeconds:   w.TTLSeconds,
		ProviderID:   w.ProviderID,
		ErrorMessage: w.ErrorMessage,
	}
	if w.ExpiresAt != nil {
		exp := w.ExpiresAt.Unix()
		row.ExpiresAt = &exp
	}
	if len(w.ConnectionInfo) > 0 {
		row.ConnectionInfo = string(w.ConnectionInfo)
	}
	if len(w.Metadata) > 0 {
		row.Metadata = string(w.Metadata)
	}
	return row
}

func fromRow(row workspaceRow) *types.Workspace {
	w := &types.Workspace{
		ID:           row.ID,
		Name:         row.Name,
		Owner:        row.Owner,
		Template:     row.Template,
		Provider:     types.ProviderKind(row.Provider),
		Status:       statusFromRow(row.Status),
		CreatedAt:    time.Unix(row.CreatedAt, 0).UTC(),
		UpdatedAt:    time.Unix(row.UpdatedAt, 0).UTC(),
		TTLSeconds:   row.TTLSeconds,
		ProviderID:   row.ProviderID,
		ErrorMessage: row.ErrorMessage,
	}
	if row.ExpiresAt != nil {
		exp := time.Unix(*row.ExpiresAt, 0).UTC()
		w.ExpiresAt = &exp
	}
	if row.ConnectionInfo != "" {
		w.ConnectionInfo = json.RawMessage(row.ConnectionInfo)
	}
	if row.Metadata != "" {
		w.Metadata = json.RawMessage(row.Metadata)
	}
	return w
}

func statusFromRow(s string) types.WorkspaceStatus {
	switch s {
	case "creating":
		return types.StatusCreating
	case "running":
		return types.StatusRunning
	case "stopped":
		return types.StatusStopped
	case "failed":
		return types.StatusFailed
	}
	return types.WorkspaceStatus(s)
}

// nameKey builds the workspace_names index key enforcing (owner, name)
// uniqueness.
func nameKey(owner, name string) []byte {
	return []byte(owner + "/" + name)
}
