package api

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/store"
	"github.com/devyard/vm/pkg/types"
)

func newTestClient(t *testing.T) (*Client, *provider.StubProvider) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	stub := provider.NewStub()
	srv := NewServer(st, func(w *types.Workspace) (provider.Provider, error) {
		return stub, nil
	})

	httpSrv := httptest.NewServer(srv.Router())
	t.Cleanup(httpSrv.Close)

	return NewClient(httpSrv.URL, "alice", "alice@example.com"), stub
}

func TestClientRoundTrip(t *testing.T) {
	c, stub := newTestClient(t)
	ctx := context.Background()

	created, err := c.CreateWorkspace(ctx, store.CreateWorkspaceRequest{
		Name:     "web1",
		Provider: types.ProviderContainerA,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCreating, created.Status)
	assert.Equal(t, "alice", created.Owner)

	got, err := c.GetWorkspace(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	all, err := c.ListWorkspaces(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	none, err := c.ListWorkspaces(ctx, "bob", "")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, c.DeleteWorkspace(ctx, created.ID))
	assert.Equal(t, []string{"web1"}, stub.Destroyed())

	_, err = c.GetWorkspace(ctx, created.ID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestClientValidationErrors(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.CreateWorkspace(context.Background(), store.CreateWorkspaceRequest{
		Provider: types.ProviderContainerA,
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestClientUnauthorized(t *testing.T) {
	c, _ := newTestClient(t)
	c.user = ""
	c.email = ""

	// Headers are still sent, just empty: the quirk means this passes.
	_, err := c.ListWorkspaces(context.Background(), "", "")
	assert.NoError(t, err)
}

func TestClientHealth(t *testing.T) {
	c, _ := newTestClient(t)
	assert.NoError(t, c.Health(context.Background()))
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "alice", "a@example.com")

	err := c.Health(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindDependency))
}
