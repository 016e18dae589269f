// Package client provides a ServiceClient implementation that drives
// remote business services over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sagaclaw/sagaclaw/config"
	"github.com/sagaclaw/sagaclaw/pkg/coordinator"
)

// DefaultRequestTimeout bounds a service call when the configuration
// does not declare one. Step-level timeouts still apply through the
// request context.
const DefaultRequestTimeout = 30 * time.Second

// HTTPServiceClient invokes actions against one business service by
// POSTing the payload to {base_url}/actions/{action}. A 2xx response
// with a JSON object body is the action result; anything else is an
// error.
type HTTPServiceClient struct {
	baseURL string
	client  *http.Client
}

// Option configures an HTTPServiceClient.
type Option func(*HTTPServiceClient)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPServiceClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPServiceClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// New creates an HTTP service client for the given base URL.
func New(baseURL string, opts ...Option) *HTTPServiceClient {
	c := &HTTPServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig creates a client from a service configuration entry.
func FromConfig(cfg config.ServiceConfig) *HTTPServiceClient {
	return New(cfg.BaseURL, WithTimeout(cfg.Timeout))
}

// Call implements coordinator.ServiceClient.
func (c *HTTPServiceClient) Call(ctx context.Context, action string, payload map[string]any) (map[string]any, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for action %s: %w", action, err)
	}

	url := fmt.Sprintf("%s/actions/%s", c.baseURL, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request for action %s: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call action %s: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response for action %s: %w", action, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("action %s returned status %d: %s", action, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response for action %s: %w", action, err)
	}
	return result, nil
}

var _ coordinator.ServiceClient = (*HTTPServiceClient)(nil)
