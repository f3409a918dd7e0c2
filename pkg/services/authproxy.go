package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/devyard/vm/pkg/errdefs"
)

// Credential is one stored auth-proxy entry. Tokens never leave the proxy;
// listings carry names only.
type Credential struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ProxyClient talks to the local auth proxy over loopback HTTP.
type ProxyClient struct {
	base   string
	client *http.Client
}

// NewProxyClient builds a client for the proxy on the given port.
func NewProxyClient(port int) *ProxyClient {
	return &ProxyClient{
		base:   fmt.Sprintf("http://127.0.0.1:%d", port),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// WaitReady polls /health until the proxy answers 200 or the context ends.
func (c *ProxyClient) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
		if err != nil {
			return errdefs.Internalf("build health request: %v", err)
		}
		resp, err := c.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return errdefs.Dependencyf("auth proxy at %s did not become ready: %v", c.base, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Add stores a named credential in the proxy.
func (c *ProxyClient) Add(ctx context.Context, name, token string) error {
	body, err := json.Marshal(map[string]string{"name": name, "token": token})
	if err != nil {
		return errdefs.Internalf("marshal credential: %v", err)
	}
	return c.do(ctx, http.MethodPost, "/credentials", bytes.NewReader(body), nil)
}

// List returns the stored credential names.
func (c *ProxyClient) List(ctx context.Context) ([]Credential, error) {
	var out []Credential
	if err := c.do(ctx, http.MethodGet, "/credentials", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes a stored credential.
func (c *ProxyClient) Remove(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/credentials/"+name, nil, nil)
}

// Interactive prompts for a name and token on the terminal and stores them.
func (c *ProxyClient) Interactive(ctx context.Context, in io.Reader, out io.Writer) error {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	reader := bufio.NewReader(in)

	fmt.Fprint(out, "Credential name: ")
	name, err := reader.ReadString('\n')
	if err != nil {
		return errdefs.Validationf("read credential name: %v", err)
	}
	fmt.Fprint(out, "Token: ")
	token, err := reader.ReadString('\n')
	if err != nil {
		return errdefs.Validationf("read token: %v", err)
	}

	name = strings.TrimSpace(name)
	token = strings.TrimSpace(token)
	if name == "" || token == "" {
		return errdefs.Validationf("credential name and token must not be empty")
	}
	if err := c.Add(ctx, name, token); err != nil {
		return err
	}
	fmt.Fprintf(out, "Stored credential %q\n", name)
	return nil
}

func (c *ProxyClient) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errdefs.Internalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errdefs.Dependencyf("auth proxy at %s unreachable: %v", c.base, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errdefs.NotFoundf("credential")
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errdefs.Providerf("auth proxy: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errdefs.Internalf("decode auth proxy response: %v", err)
		}
	}
	return nil
}
