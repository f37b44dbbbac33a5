package daytona

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig holds configuration for the Daytona API client.
type ClientConfig struct {
	// BaseURL of the Daytona API, e.g. "http://localhost:8090".
	BaseURL string
	// APIKey for bearer authentication (optional).
	APIKey string
	// Timeout for HTTP requests.
	Timeout time.Duration
	// Custom HTTP client (optional).
	HTTPClient *http.Client
}

// DefaultClientConfig returns a default client configuration.
func DefaultClientConfig(baseURL string) *ClientConfig {
	return &ClientConfig{
		BaseURL: baseURL,
		Timeout: 60 * time.Second,
	}
}

// Client is an HTTP client for the Daytona sandbox service. All operations
// are synchronous remote calls; no state is cached across calls.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new Daytona API client.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil || config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
	}, nil
}

// CreateSandbox provisions a new sandbox from the given request.
func (c *Client) CreateSandbox(ctx context.Context, req *CreateSandboxRequest) (*Sandbox, error) {
	var sandbox Sandbox
	if err := c.doJSON(ctx, http.MethodPost, "/sandboxes", req, &sandbox); err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	slog.Info("Created sandbox", "sandbox_id", sandbox.ID, "template", sandbox.Template)
	return &sandbox, nil
}

// GetSandbox fetches details of a single sandbox.
func (c *Client) GetSandbox(ctx context.Context, sandboxID string) (*Sandbox, error) {
	var sandbox Sandbox
	err := c.doJSON(ctx, http.MethodGet, c.sandboxPath(sandboxID), nil, &sandbox)
	if err != nil {
		return nil, err
	}
	return &sandbox, nil
}

// ListSandboxes returns all sandboxes visible to this API key.
func (c *Client) ListSandboxes(ctx context.Context) ([]*Sandbox, error) {
	var sandboxes []*Sandbox
	if err := c.doJSON(ctx, http.MethodGet, "/sandboxes", nil, &sandboxes); err != nil {
		return nil, fmt.Errorf("failed to list sandboxes: %w", err)
	}
	return sandboxes, nil
}

// ConfigureSandbox applies configuration changes to an existing sandbox.
func (c *Client) ConfigureSandbox(ctx context.Context, sandboxID string, cfg *SandboxConfiguration) (*Sandbox, error) {
	var sandbox Sandbox
	err := c.doJSON(ctx, http.MethodPatch, c.sandboxPath(sandboxID), cfg, &sandbox)
	if err != nil {
		return nil, err
	}
	slog.Info("Configured sandbox", "sandbox_id", sandboxID)
	return &sandbox, nil
}

// DeleteSandbox removes a sandbox. Deleting an already-deleted sandbox is
// success, not an error.
func (c *Client) DeleteSandbox(ctx context.Context, sandboxID string) error {
	err := c.doJSON(ctx, http.MethodDelete, c.sandboxPath(sandboxID), nil, nil)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete sandbox %s: %w", sandboxID, err)
	}
	slog.Info("Deleted sandbox", "sandbox_id", sandboxID)
	return nil
}

// StartSandbox starts a stopped sandbox.
func (c *Client) StartSandbox(ctx context.Context, sandboxID string) (*Sandbox, error) {
	var sandbox Sandbox
	err := c.doJSON(ctx, http.MethodPost, c.sandboxPath(sandboxID)+"/start", nil, &sandbox)
	if err != nil {
		return nil, err
	}
	return &sandbox, nil
}

// StopSandbox stops a running sandbox.
func (c *Client) StopSandbox(ctx context.Context, sandboxID string) (*Sandbox, error) {
	var sandbox Sandbox
	err := c.doJSON(ctx, http.MethodPost, c.sandboxPath(sandboxID)+"/stop", nil, &sandbox)
	if err != nil {
		return nil, err
	}
	return &sandbox, nil
}

// sandboxPath builds the resource path for a sandbox ID.
func (c *Client) sandboxPath(sandboxID string) string {
	return "/sandboxes/" + url.PathEscape(sandboxID)
}

// doJSON performs one HTTP round trip with JSON encoding on both sides.
// A nil out discards the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteServiceError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &NotFoundError{Resource: "sandbox", ID: strings.TrimPrefix(path, "/sandboxes/")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &RemoteServiceError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
