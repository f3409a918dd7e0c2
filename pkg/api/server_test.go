package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/store"
	"github.com/devyard/vm/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *store.BoltStore, *provider.StubProvider) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	stub := provider.NewStub()
	srv := NewServer(st, func(w *types.Workspace) (provider.Provider, error) {
		return stub, nil
	})
	return srv, st, stub
}

// request issues an authenticated request against the router.
func request(t *testing.T, srv *Server, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("x-vm-user", "alice")
	req.Header.Set("x-vm-email", "alice@example.com")
	if mutate != nil {
		mutate(req)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeWorkspace(t *testing.T, rec *httptest.ResponseRecorder) *types.Workspace {
	t.Helper()
	var w types.Workspace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &w))
	return &w
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestCreateWorkspace(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := request(t, srv, http.MethodPost, "/workspaces", store.CreateWorkspaceRequest{
		Name:     "web1",
		Provider: types.ProviderContainerA,
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	w := decodeWorkspace(t, rec)
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, "web1", w.Name)
	assert.Equal(t, types.StatusCreating, w.Status)
	assert.Equal(t, "alice", w.Owner, "owner defaults to the caller")
}

func TestCreateWorkspaceKeepsExplicitOwner(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := request(t, srv, http.MethodPost, "/workspaces", store.CreateWorkspaceRequest{
		Name:     "web1",
		Owner:    "bob",
		Provider: types.ProviderContainerA,
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "bob", decodeWorkspace(t, rec).Owner)
}

func TestCreateWorkspaceValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name string
		req  store.CreateWorkspaceRequest
	}{
		{"missing name", store.CreateWorkspaceRequest{Provider: types.ProviderContainerA}},
		{"missing provider", store.CreateWorkspaceRequest{Name: "web1"}},
		{"unknown provider", store.CreateWorkspaceRequest{Name: "web1", Provider: "qemu"}},
		{"negative ttl", store.CreateWorkspaceRequest{Name: "web1", Provider: types.ProviderContainerA, TTLSeconds: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := request(t, srv, http.MethodPost, "/workspaces", tt.req, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation", decodeError(t, rec).Kind)
		})
	}
}

func TestCreateWorkspaceBadJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := request(t, srv, http.MethodPost, "/workspaces", nil, func(r *http.Request) {
		r.Body = io.NopCloser(bytes.NewReader([]byte("{not json")))
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListWorkspacesFilters(t *testing.T) {
	srv, st, _ := newTestServer(t)

	for _, spec := range []struct{ name, owner string }{
		{"web1", "alice"}, {"web2", "alice"}, {"api1", "bob"},
	} {
		_, err := st.CreateWorkspace(store.CreateWorkspaceRequest{
			Name: spec.name, Owner: spec.owner, Provider: types.ProviderContainerA,
		})
		require.NoError(t, err)
	}

	rec := request(t, srv, http.MethodGet, "/workspaces", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []*types.Workspace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 3)

	rec = request(t, srv, http.MethodGet, "/workspaces?owner=bob", nil, nil)
	var owned []*types.Workspace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &owned))
	require.Len(t, owned, 1)
	assert.Equal(t, "api1", owned[0].Name)

	rec = request(t, srv, http.MethodGet, "/workspaces?status=running", nil, nil)
	var running []*types.Workspace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &running))
	assert.Empty(t, running, "everything is still Creating")

	rec = request(t, srv, http.MethodGet, "/workspaces?status=melting", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListWorkspacesEmptyIsArray(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := request(t, srv, http.MethodGet, "/workspaces", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestGetWorkspace(t *testing.T) {
	srv, st, _ := newTestServer(t)
	created, err := st.CreateWorkspace(store.CreateWorkspaceRequest{
		Name: "web1", Owner: "alice", Provider: types.ProviderContainerA,
	})
	require.NoError(t, err)

	rec := request(t, srv, http.MethodGet, "/workspaces/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeWorkspace(t, rec).ID)

	rec = request(t, srv, http.MethodGet, "/workspaces/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Kind)
}

func TestDeleteWorkspace(t *testing.T) {
	srv, st, stub := newTestServer(t)
	created, err := st.CreateWorkspace(store.CreateWorkspaceRequest{
		Name: "web1", Owner: "alice", Provider: types.ProviderContainerA,
	})
	require.NoError(t, err)

	rec := request(t, srv, http.MethodDelete, "/workspaces/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"web1"}, stub.Destroyed())

	_, err = st.GetWorkspace(created.ID)
	assert.Error(t, err)

	rec = request(t, srv, http.MethodDelete, "/workspaces/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// A prior request guarantees the counter vec has a child to export.
	warm := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Router().ServeHTTP(httptest.NewRecorder(), warm)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vm_api_requests_total")
}

func TestReadyzNamesMissingComponents(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	// Nothing registers components under test, so readiness holds at 503
	// and names what it is waiting for.
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not registered")
	assert.Contains(t, rec.Body.String(), "store")
	assert.Contains(t, rec.Body.String(), "provisioner")
}
