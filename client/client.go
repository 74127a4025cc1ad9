// Package client provides a Go client for a remote floworc server's
// REST control surface.
//
// Usage:
//
//	c := client.New("http://localhost:8080",
//	    client.WithTenant(scope.Tenant{
//	        ClientAccountID: "acct_123",
//	        EngagementID:    "eng_456",
//	    }),
//	)
//
//	flowID, err := c.CreateFlow(ctx, "discovery")
//	result, err := c.Advance(ctx, flowID, nil)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/floworc/floworc/scope"
)

// Client talks to a floworc server over HTTP.
type Client struct {
	baseURL    string
	tenant     scope.Tenant
	adminToken string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTenant sets the tenant identity sent with every request.
func WithTenant(t scope.Tenant) Option {
	return func(c *Client) { c.tenant = t }
}

// WithAdminToken sets the token for admin-gated monitoring routes.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.adminToken = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("floworc/client: server returned %d: %s", e.StatusCode, e.Body)
}

// do issues one request and decodes a JSON response into out (when out
// is non-nil and the response has a body).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("floworc/client: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("floworc/client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Client-Account-ID", c.tenant.ClientAccountID)
	req.Header.Set("X-Engagement-ID", c.tenant.EngagementID)
	if c.adminToken != "" {
		req.Header.Set("X-Admin-Token", c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("floworc/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("floworc/client: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("floworc/client: decode response: %w", err)
		}
	}
	return nil
}

func escape(s string) string {
	return url.PathEscape(s)
}
