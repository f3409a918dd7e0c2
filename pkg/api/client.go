package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/store"
	"github.com/devyard/vm/pkg/types"
)

// Client is the typed HTTP client for the workspace API, used by the
// `vm workspaces` commands.
type Client struct {
	base   string
	user   string
	email  string
	client *http.Client
}

// NewClient builds a client against base (e.g. "http://127.0.0.1:8090")
// authenticating as user.
func NewClient(base, user, email string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		user:   user,
		email:  email,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateWorkspace submits a new workspace record.
func (c *Client) CreateWorkspace(ctx context.Context, req store.CreateWorkspaceRequest) (*types.Workspace, error) {
	var out types.Workspace
	if err := c.do(ctx, http.MethodPost, "/workspaces", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWorkspaces fetches workspaces, optionally narrowed by owner and
// status. Zero values match everything.
func (c *Client) ListWorkspaces(ctx context.Context, owner string, status types.WorkspaceStatus) ([]*types.Workspace, error) {
	q := url.Values{}
	if owner != "" {
		q.Set("owner", owner)
	}
	if status != "" {
		q.Set("status", string(status))
	}
	path := "/workspaces"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []*types.Workspace
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetWorkspace fetches one workspace by id.
func (c *Client) GetWorkspace(ctx context.Context, id string) (*types.Workspace, error) {
	var out types.Workspace
	if err := c.do(ctx, http.MethodGet, "/workspaces/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteWorkspace destroys the workspace's instance and removes its record.
func (c *Client) DeleteWorkspace(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/workspaces/"+url.PathEscape(id), nil, nil)
}

// Health reports whether the server answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errdefs.Internalf("encode request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errdefs.Internalf("build request: %v", err)
	}
	req.Header.Set("x-vm-user", c.user)
	req.Header.Set("x-vm-email", c.email)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindDependency, "workspace api unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errdefs.Internalf("decode response: %v", err)
	}
	return nil
}

// apiError rebuilds a client-side error from the server's {error, kind}
// envelope so callers keep their errors.Is / IsKind branches.
func apiError(resp *http.Response) error {
	var envelope errorResponse
	msg := fmt.Sprintf("api responded %d", resp.StatusCode)
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
		msg = envelope.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return errdefs.NotFoundf("%s", msg)
	case http.StatusUnauthorized:
		return errdefs.Unauthorizedf("%s", msg)
	case http.StatusBadRequest:
		return errdefs.Validationf("%s", msg)
	default:
		return errdefs.Providerf("%s", msg)
	}
}
