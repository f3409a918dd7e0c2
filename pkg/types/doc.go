/*
Package types defines the core data structures shared across the orchestrator.

This package contains the fundamental types of the domain model: workspaces,
provider kinds, connection records, shared-service state, snapshot metadata,
and broker events. Every other package consumes these types for state
management, API payloads, and orchestration logic.

# Architecture

The types package is the foundation of the data model. It defines:

  - Workspace records and their lifecycle states
  - Provider identification (two container engines and a native VM)
  - Connection info persisted alongside provisioned workspaces
  - Shared-service bookkeeping (reference counts, registered workspaces)
  - Snapshot metadata and export manifests
  - Broker event types

# Core Types

Workspace lifecycle:
  - Workspace: the durable record of one development environment
  - WorkspaceStatus: Creating, Running, Stopped, Failed
  - ConnectionInfo: container id / VM name, status, canonical ssh command

Providers:
  - ProviderKind: container-a (docker), container-b (nerdctl), native-vm (lima)
  - InstanceInfo: provider-side listing entry
  - StatusReport: full status answer including per-service figures

Snapshots:
  - SnapshotMetadata: metadata.json inside every capture directory
  - SnapshotManifest: manifest.json at the root of exported archives

# State Machine

Workspaces follow a small state machine:

	Creating → Running → Stopped
	    ↓         ↓
	  Failed    Failed

Valid transitions:
  - Creating → Running (provisioner succeeded; provider id recorded)
  - Creating → Failed (provisioner failed; error message recorded)
  - Running → Stopped (user stop)
  - Stopped → Running (user start)
  - Failed is terminal until the user deletes and recreates the workspace

Record invariants, enforced by the store:
  - Status = Failed implies ErrorMessage is set
  - Status = Running implies ProviderID is set
  - ExpiresAt is always derived from CreatedAt + TTLSeconds, never written
    independently
  - (Owner, Name) is unique

# Usage

Creating a workspace record:

	ws := &types.Workspace{
		ID:         uuid.New().String(),
		Name:       "api-server",
		Owner:      "jdoe",
		Template:   "nodejs",
		Provider:   types.ProviderContainerA,
		Status:     types.StatusCreating,
		TTLSeconds: 86400,
	}

Recording a provisioned connection:

	info := types.ConnectionInfo{
		ContainerID: "container-abc123",
		Status:      "running",
		SSHCommand:  "vm ssh api-server",
	}

# Thread Safety

Types here are plain data: read-safe, write-unsafe. The store serializes all
mutations of persisted state; in-memory holders (service manager, provisioner)
guard their own maps with mutexes.
*/
package types
