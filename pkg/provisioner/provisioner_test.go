package provisioner

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/store"
	"github.com/devyard/vm/pkg/types"
)

func newTestProvisioner(t *testing.T) (*Provisioner, *store.BoltStore, *provider.StubProvider) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	stub := provider.NewStub()
	p := New(st, func(w *types.Workspace) (provider.Provider, error) {
		return stub, nil
	})
	return p, st, stub
}

func createWorkspace(t *testing.T, st *store.BoltStore, name string, ttl int64) *types.Workspace {
	t.Helper()
	w, err := st.CreateWorkspace(store.CreateWorkspaceRequest{
		Name:       name,
		Owner:      "alice",
		Provider:   types.ProviderContainerA,
		TTLSeconds: ttl,
	})
	require.NoError(t, err)
	return w
}

func waitForStatus(t *testing.T, st *store.BoltStore, id string, want types.WorkspaceStatus) *types.Workspace {
	t.Helper()
	var got *types.Workspace
	require.Eventually(t, func() bool {
		w, err := st.GetWorkspace(id)
		if err != nil {
			return false
		}
		got = w
		return w.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestProvisionToRunning(t *testing.T) {
	p, st, _ := newTestProvisioner(t)
	w := createWorkspace(t, st, "web1", 0)

	p.tick(context.Background())

	got := waitForStatus(t, st, w.ID, types.StatusRunning)
	assert.Equal(t, "container-abc123", got.ProviderID)
	assert.Empty(t, got.ErrorMessage)

	var conn types.ConnectionInfo
	require.NoError(t, json.Unmarshal(got.ConnectionInfo, &conn))
	assert.Equal(t, "container-abc123", conn.ContainerID)
	assert.Equal(t, "running", conn.Status)
	assert.Equal(t, "vm ssh web1", conn.SSHCommand)
}

func TestProvisionFailureRecordsError(t *testing.T) {
	p, st, stub := newTestProvisioner(t)
	stub.FailCreate = true
	w := createWorkspace(t, st, "web1", 0)

	p.tick(context.Background())

	got := waitForStatus(t, st, w.ID, types.StatusFailed)
	assert.Contains(t, got.ErrorMessage, "create web1 failed")
	assert.Empty(t, got.ProviderID)
}

func TestFailureDoesNotAffectSiblings(t *testing.T) {
	p, st, _ := newTestProvisioner(t)

	// One workspace fails, the other succeeds: provider errors stay per
	// workspace.
	failing := createWorkspace(t, st, "bad", 0)
	healthy := createWorkspace(t, st, "good", 0)

	p.factory = func(w *types.Workspace) (provider.Provider, error) {
		stub := provider.NewStub()
		stub.FailCreate = w.Name == "bad"
		return stub, nil
	}

	p.tick(context.Background())

	waitForStatus(t, st, failing.ID, types.StatusFailed)
	waitForStatus(t, st, healthy.ID, types.StatusRunning)
}

func TestInflightWorkspaceNotRedispatched(t *testing.T) {
	p, st, stub := newTestProvisioner(t)
	stub.CreateGate = make(chan struct{})
	w := createWorkspace(t, st, "web1", 0)

	// Two ticks while the first create is still blocked on the gate.
	p.tick(context.Background())
	p.tick(context.Background())

	close(stub.CreateGate)
	waitForStatus(t, st, w.ID, types.StatusRunning)

	creates := 0
	for _, call := range stub.Calls {
		if strings.HasPrefix(call, "create:") {
			creates++
		}
	}
	assert.Equal(t, 1, creates, "in-flight set deduplicates across ticks")
}

func TestReapDestroysExpired(t *testing.T) {
	p, st, stub := newTestProvisioner(t)
	w := createWorkspace(t, st, "shortlived", 60)
	keeper := createWorkspace(t, st, "keeper", 0)

	p.reap(context.Background(), time.Now().Add(2*time.Minute))

	_, err := st.GetWorkspace(w.ID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.Equal(t, []string{"shortlived"}, stub.Destroyed())

	_, err = st.GetWorkspace(keeper.ID)
	assert.NoError(t, err, "workspaces without TTL are never reaped")
}

func TestStartStopLoop(t *testing.T) {
	p, st, _ := newTestProvisioner(t)
	p.SetInterval(10 * time.Millisecond)
	w := createWorkspace(t, st, "web1", 0)

	p.Start()
	waitForStatus(t, st, w.ID, types.StatusRunning)
	p.Stop()
}
