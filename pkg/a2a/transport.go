package a2a

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ConnectionStatus describes the state of a peer connection.
type ConnectionStatus string

const (
	ConnectionStatusPending ConnectionStatus = "pending"
	ConnectionStatusActive  ConnectionStatus = "active"
	ConnectionStatusClosed  ConnectionStatus = "closed"
)

// Connection tracks a single peer agent: its identifier, resolved transport
// endpoint, and status. Outbound sends on one connection are FIFO; no
// ordering is guaranteed across distinct connections.
type Connection struct {
	AgentID string

	mu        sync.Mutex
	endpoint  string
	status    ConnectionStatus
	client    *Client
	monitored bool
}

// Status returns the current connection status.
func (c *Connection) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Endpoint returns the peer's callback endpoint, if known.
func (c *Connection) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// ensureClient resolves the peer's agent card and builds a client on first use.
func (c *Connection) ensureClient(ctx context.Context, clientConfig *ClientConfig, httpClient *http.Client) (*Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == ConnectionStatusClosed {
		return nil, &AgentUnreachableError{AgentID: c.AgentID}
	}
	if c.client != nil {
		return c.client, nil
	}

	resolver := NewAgentCardResolver(c.endpoint, httpClient)
	card, err := resolver.GetWellKnownAgentCard(ctx)
	if err != nil {
		return nil, &AgentUnreachableError{AgentID: c.AgentID, Cause: err}
	}

	client, err := NewClient(card, clientConfig)
	if err != nil {
		return nil, err
	}

	c.client = client
	c.status = ConnectionStatusActive
	return client, nil
}

// InboundKind discriminates events delivered on the transport inbox.
type InboundKind string

const (
	// InboundMessage is a message received from a peer.
	InboundMessage InboundKind = "message"
	// InboundPeerClosed signals that a peer's connection was closed or the
	// peer became unreachable.
	InboundPeerClosed InboundKind = "peer-closed"
)

// Inbound is a single event on the transport's receive channel.
type Inbound struct {
	Kind    InboundKind
	PeerID  string
	Message *Message // set for InboundMessage
}

// TransportConfig holds configuration for the transport.
type TransportConfig struct {
	// ClientConfig used for outbound A2A clients.
	ClientConfig *ClientConfig
	// HTTPClient used for discovery and liveness probes (optional).
	HTTPClient *http.Client
	// HeartbeatInterval between peer liveness probes. Zero disables probing.
	HeartbeatInterval time.Duration
	// InboxSize is the buffer size of the receive channel.
	InboxSize int
}

// Transport owns the connection table and the inbound message channel.
// Peers are registered on first contact and removed when the connection
// closes or the peer becomes unreachable.
type Transport struct {
	config     *TransportConfig
	httpClient *http.Client

	mu          sync.RWMutex
	connections map[string]*Connection
	closed      bool

	inbox chan *Inbound
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewTransport creates a transport with the given configuration.
func NewTransport(config *TransportConfig) *Transport {
	if config == nil {
		config = &TransportConfig{}
	}
	if config.ClientConfig == nil {
		config.ClientConfig = DefaultClientConfig()
	}
	if config.InboxSize <= 0 {
		config.InboxSize = 64
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Transport{
		config:      config,
		httpClient:  httpClient,
		connections: make(map[string]*Connection),
		inbox:       make(chan *Inbound, config.InboxSize),
		stop:        make(chan struct{}),
	}
}

// Connect registers a peer and eagerly resolves its endpoint. Resolution
// failure yields AgentUnreachableError and leaves no connection behind.
func (t *Transport) Connect(ctx context.Context, agentID, endpoint string) (*Connection, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent ID cannot be empty")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport is closed")
	}
	if existing, ok := t.connections[agentID]; ok && existing.Status() != ConnectionStatusClosed {
		t.mu.Unlock()
		return existing, nil
	}
	conn := &Connection{AgentID: agentID, endpoint: endpoint, status: ConnectionStatusPending}
	t.connections[agentID] = conn
	t.mu.Unlock()

	if _, err := conn.ensureClient(ctx, t.config.ClientConfig, t.httpClient); err != nil {
		t.removeConnection(agentID)
		return nil, err
	}

	t.startMonitor(conn)

	slog.Info("Connected to peer agent", "agent_id", agentID, "endpoint", endpoint)
	return conn, nil
}

// Register records a peer seen on first inbound contact without dialing it.
// The endpoint is resolved lazily on the first outbound send; liveness
// monitoring starts as soon as an endpoint is known.
func (t *Transport) Register(agentID, endpoint string) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return &Connection{AgentID: agentID, endpoint: endpoint, status: ConnectionStatusClosed}
	}

	if existing, ok := t.connections[agentID]; ok && existing.Status() != ConnectionStatusClosed {
		existing.mu.Lock()
		if existing.endpoint == "" && endpoint != "" {
			existing.endpoint = endpoint
		}
		existing.mu.Unlock()
		t.startMonitor(existing)
		return existing
	}

	conn := &Connection{AgentID: agentID, endpoint: endpoint, status: ConnectionStatusPending}
	t.connections[agentID] = conn
	t.startMonitor(conn)
	return conn
}

// startMonitor begins liveness probing for a connection once its endpoint
// is known. At most one monitor runs per connection.
func (t *Transport) startMonitor(conn *Connection) {
	if t.config.HeartbeatInterval <= 0 {
		return
	}

	conn.mu.Lock()
	if conn.monitored || conn.endpoint == "" || conn.status == ConnectionStatusClosed {
		conn.mu.Unlock()
		return
	}
	conn.monitored = true
	conn.mu.Unlock()

	t.wg.Add(1)
	go t.monitorPeer(conn)
}

// Connection returns the connection for a peer, or nil if none exists.
func (t *Transport) Connection(agentID string) *Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connections[agentID]
}

// Send delivers a message to the named peer and returns the acknowledging
// task. Sends to the same peer are serialized to preserve FIFO ordering.
func (t *Transport) Send(ctx context.Context, agentID string, message *Message) (*Task, error) {
	t.mu.RLock()
	conn := t.connections[agentID]
	t.mu.RUnlock()

	if conn == nil {
		return nil, &AgentUnreachableError{AgentID: agentID}
	}

	client, err := conn.ensureClient(ctx, t.config.ClientConfig, t.httpClient)
	if err != nil {
		return nil, err
	}

	// Holding the connection lock for the duration of the call keeps
	// delivery FIFO per connection.
	conn.mu.Lock()
	defer conn.mu.Unlock()

	task, err := client.SendMessage(ctx, &MessageSendParams{Message: *message})
	if err != nil {
		return nil, fmt.Errorf("failed to send to %s: %w", agentID, err)
	}
	return task, nil
}

// Receive returns the channel of inbound transport events.
func (t *Transport) Receive() <-chan *Inbound {
	return t.inbox
}

// Deliver pushes an inbound peer message onto the receive channel. The peer
// is registered on first contact; a callback endpoint may accompany the
// message so the transport can reach the peer later.
func (t *Transport) Deliver(peerID, endpoint string, message *Message) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return fmt.Errorf("transport is closed")
	}
	// Counted so Close cannot close the inbox under an in-flight delivery.
	t.wg.Add(1)
	t.mu.RUnlock()
	defer t.wg.Done()

	t.Register(peerID, endpoint)

	select {
	case t.inbox <- &Inbound{Kind: InboundMessage, PeerID: peerID, Message: message}:
		return nil
	case <-t.stop:
		return fmt.Errorf("transport is closed")
	}
}

// Disconnect closes the connection to a peer and emits a peer-closed event.
func (t *Transport) Disconnect(agentID string) {
	t.mu.Lock()
	conn, ok := t.connections[agentID]
	if ok {
		delete(t.connections, agentID)
	}
	closed := t.closed
	if ok && !closed {
		t.wg.Add(1)
	}
	t.mu.Unlock()

	if !ok || closed {
		return
	}
	defer t.wg.Done()

	conn.mu.Lock()
	conn.status = ConnectionStatusClosed
	conn.mu.Unlock()

	select {
	case t.inbox <- &Inbound{Kind: InboundPeerClosed, PeerID: agentID}:
	case <-t.stop:
	}

	slog.Info("Disconnected from peer agent", "agent_id", agentID)
}

// Close shuts down the transport and all peer monitors.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for _, conn := range t.connections {
		conn.mu.Lock()
		conn.status = ConnectionStatusClosed
		conn.mu.Unlock()
	}
	t.connections = make(map[string]*Connection)
	t.mu.Unlock()

	close(t.stop)
	t.wg.Wait()
	close(t.inbox)
}

// removeConnection drops a peer from the table without emitting an event.
func (t *Transport) removeConnection(agentID string) {
	t.mu.Lock()
	delete(t.connections, agentID)
	t.mu.Unlock()
}

// monitorPeer probes the peer's agent card endpoint on an interval and
// disconnects it after a failed probe.
func (t *Transport) monitorPeer(conn *Connection) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if conn.Status() == ConnectionStatusClosed {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), t.config.HeartbeatInterval)
			resolver := NewAgentCardResolver(conn.Endpoint(), t.httpClient)
			_, err := resolver.GetWellKnownAgentCard(ctx)
			cancel()

			if err != nil {
				slog.Warn("Peer liveness probe failed", "agent_id", conn.AgentID, "error", err)
				t.Disconnect(conn.AgentID)
				return
			}
		}
	}
}
