package a2a

import (
	"bufio"
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

	"github.com/google/uuid"
)

// ClientConfig holds configuration for the A2A client.
type ClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration
	// Custom HTTP client (optional)
	HTTPClient *http.Client
	// Base URL for the A2A endpoint; overrides the agent card URL when set
	BaseURL string
	// Additional headers to include in requests
	Headers map[string]string
}

// DefaultClientConfig returns a default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout: 120 * time.Second,
		Headers: make(map[string]string),
	}
}

// Client is an A2A client for communicating with a remote agent.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	agentCard  *AgentCard
	baseURL    string
}

// NewClient creates a new A2A client for the agent described by agentCard.
func NewClient(agentCard *AgentCard, config *ClientConfig) (*Client, error) {
	if agentCard == nil {
		return nil, fmt.Errorf("agent card cannot be nil")
	}

	if config == nil {
		config = DefaultClientConfig()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = agentCard.URL
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		agentCard:  agentCard,
		baseURL:    baseURL,
	}, nil
}

// AgentCard returns the card of the remote agent this client talks to.
func (c *Client) AgentCard() *AgentCard {
	return c.agentCard
}

// SendMessage sends a message to the remote agent and returns the resulting task.
func (c *Client) SendMessage(ctx context.Context, params *MessageSendParams) (*Task, error) {
	request := &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      generateRequestID(),
		Method:  "message/send",
		Params:  params,
	}

	var response SendMessageResponse
	if err := c.sendJSONRPCRequest(ctx, request, &response); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	if response.Error != nil {
		return nil, response.Error
	}

	return response.Result, nil
}

// SendMessageStream sends a message and subscribes to streaming status updates.
// The handler is invoked for every event until the stream ends or returns an error.
func (c *Client) SendMessageStream(ctx context.Context, params *MessageSendParams, eventHandler func(*SendMessageStreamingResponse) error) error {
	request := &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      generateRequestID(),
		Method:  "message/stream",
		Params:  params,
	}

	return c.sendStreamingRequest(ctx, request, eventHandler)
}

// GetTask retrieves task details by ID.
func (c *Client) GetTask(ctx context.Context, params *TaskQueryParams) (*Task, error) {
	request := &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      generateRequestID(),
		Method:  "tasks/get",
		Params:  params,
	}

	var response GetTaskResponse
	if err := c.sendJSONRPCRequest(ctx, request, &response); err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if response.Error != nil {
		return nil, response.Error
	}

	return response.Result, nil
}

// CancelTask cancels a task by ID.
func (c *Client) CancelTask(ctx context.Context, params *TaskIdParams) (*Task, error) {
	request := &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      generateRequestID(),
		Method:  "tasks/cancel",
		Params:  params,
	}

	var response CancelTaskResponse
	if err := c.sendJSONRPCRequest(ctx, request, &response); err != nil {
		return nil, fmt.Errorf("failed to cancel task: %w", err)
	}

	if response.Error != nil {
		return nil, response.Error
	}

	return response.Result, nil
}

// sendJSONRPCRequest sends a JSON-RPC request and unmarshals the response.
func (c *Client) sendJSONRPCRequest(ctx context.Context, request any, response any) error {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range c.config.Headers {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, string(body))
	}

	if err := json.NewDecoder(httpResp.Body).Decode(response); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// sendStreamingRequest sends a streaming request and processes SSE events.
func (c *Client) sendStreamingRequest(ctx context.Context, request any, eventHandler func(*SendMessageStreamingResponse) error) error {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for key, value := range c.config.Headers {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, string(body))
	}

	contentType := httpResp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/event-stream") {
		return fmt.Errorf("expected text/event-stream, got %s", contentType)
	}

	return c.processSSEStream(ctx, httpResp.Body, eventHandler)
}

// processSSEStream reads Server-Sent Events from body and dispatches each
// "data:" line to the handler.
func (c *Client) processSSEStream(ctx context.Context, body io.Reader, eventHandler func(*SendMessageStreamingResponse) error) error {
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}

		var response SendMessageStreamingResponse
		if err := json.Unmarshal([]byte(data), &response); err != nil {
			slog.Warn("Failed to parse SSE data", "data", data, "error", err)
			continue
		}

		if err := eventHandler(&response); err != nil {
			return fmt.Errorf("event handler error: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read SSE stream: %w", err)
	}

	return nil
}

// Close closes the client and cleans up resources.
func (c *Client) Close() error {
	// The standard HTTP client needs no explicit teardown.
	return nil
}

// generateRequestID generates a unique JSON-RPC request ID.
func generateRequestID() string {
	return "req_" + uuid.NewString()
}

// AgentCardResolver resolves agent cards from a base URL.
type AgentCardResolver struct {
	httpClient *http.Client
	baseURL    string
}

// NewAgentCardResolver creates a new agent card resolver.
func NewAgentCardResolver(baseURL string, httpClient *http.Client) *AgentCardResolver {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &AgentCardResolver{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// GetAgentCard fetches an agent card from a relative path.
func (r *AgentCardResolver) GetAgentCard(ctx context.Context, relativePath string) (*AgentCard, error) {
	fullURL, err := url.JoinPath(r.baseURL, relativePath)
	if err != nil {
		return nil, fmt.Errorf("failed to construct URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	var agentCard AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&agentCard); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}

	return &agentCard, nil
}

// GetWellKnownAgentCard fetches the agent card from /.well-known/agent.json.
func (r *AgentCardResolver) GetWellKnownAgentCard(ctx context.Context) (*AgentCard, error) {
	return r.GetAgentCard(ctx, "/.well-known/agent.json")
}
