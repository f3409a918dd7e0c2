package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker reports healthy when a GET on URL answers with a non-error
// status. The registry and auth proxy expose /health for this.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// NewHTTPChecker builds a checker for url with a 10s request timeout.
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithTimeout sets the request timeout.
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("build request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("get %s: %v", h.URL, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	resp.Body.Close()

	// Redirects are fine; anything 400+ is not.
	healthy := resp.StatusCode < http.StatusBadRequest
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (h *HTTPChecker) Type() CheckType { return CheckTypeHTTP }
