package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// newPeerServer runs a minimal peer: agent card discovery plus message/send.
func newPeerServer(t *testing.T, name string) (*httptest.Server, *[]Message) {
	t.Helper()

	var received []Message
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/.well-known/agent.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&AgentCard{Name: name, URL: server.URL, Version: "1.0.0"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}

		raw, _ := json.Marshal(req.Params)
		var params MessageSendParams
		json.Unmarshal(raw, &params)
		received = append(received, params.Message)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&SendMessageResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  &Task{ID: "task-1", Status: TaskStatus{State: TaskStateCompleted}},
		})
	})

	return server, &received
}

func TestConnectAndSend(t *testing.T) {
	peer, received := newPeerServer(t, "peer-agent")

	transport := NewTransport(nil)
	defer transport.Close()

	conn, err := transport.Connect(context.Background(), "peer-agent", peer.URL)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if conn.Status() != ConnectionStatusActive {
		t.Errorf("expected active connection, got %q", conn.Status())
	}

	task, err := transport.Send(context.Background(), "peer-agent", NewTextMessage("msg-1", "agent", "hello"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if task.ID != "task-1" {
		t.Errorf("unexpected task %+v", task)
	}
	if len(*received) != 1 || (*received)[0].MessageID != "msg-1" {
		t.Errorf("peer did not receive the message: %v", *received)
	}
}

func TestConnectUnreachablePeer(t *testing.T) {
	transport := NewTransport(&TransportConfig{
		HTTPClient: &http.Client{Timeout: 200 * time.Millisecond},
	})
	defer transport.Close()

	_, err := transport.Connect(context.Background(), "ghost", "http://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected an error")
	}

	var unreachable *AgentUnreachableError
	if !errors.As(err, &unreachable) || unreachable.AgentID != "ghost" {
		t.Errorf("expected AgentUnreachableError for ghost, got %v", err)
	}
	// A failed connect leaves no connection behind.
	if transport.Connection("ghost") != nil {
		t.Error("connection table should not contain ghost")
	}
}

func TestSendToUnknownPeer(t *testing.T) {
	transport := NewTransport(nil)
	defer transport.Close()

	_, err := transport.Send(context.Background(), "stranger", NewTextMessage("msg-1", "agent", "hi"))
	var unreachable *AgentUnreachableError
	if !errors.As(err, &unreachable) {
		t.Errorf("expected AgentUnreachableError, got %v", err)
	}
}

func TestRegisterResolvesLazily(t *testing.T) {
	peer, _ := newPeerServer(t, "peer-agent")

	transport := NewTransport(nil)
	defer transport.Close()

	conn := transport.Register("peer-agent", peer.URL)
	if conn.Status() != ConnectionStatusPending {
		t.Errorf("expected pending before first send, got %q", conn.Status())
	}

	if _, err := transport.Send(context.Background(), "peer-agent", NewTextMessage("msg-1", "agent", "hi")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if conn.Status() != ConnectionStatusActive {
		t.Errorf("expected active after first send, got %q", conn.Status())
	}
}

func TestDeliverAndReceive(t *testing.T) {
	transport := NewTransport(nil)
	defer transport.Close()

	msg := NewDataMessage("msg-1", "user", map[string]any{"action": "create"})
	if err := transport.Deliver("peer-agent", "http://peer.example.dev", msg); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	select {
	case in := <-transport.Receive():
		if in.Kind != InboundMessage || in.PeerID != "peer-agent" {
			t.Errorf("unexpected inbound %+v", in)
		}
		if in.Message.MessageID != "msg-1" {
			t.Errorf("unexpected message %+v", in.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound message")
	}

	// First contact registers the peer.
	if transport.Connection("peer-agent") == nil {
		t.Error("peer should be registered on first contact")
	}
}

func TestDisconnectEmitsPeerClosed(t *testing.T) {
	transport := NewTransport(nil)
	defer transport.Close()

	transport.Register("peer-agent", "http://peer.example.dev")
	transport.Disconnect("peer-agent")

	select {
	case in := <-transport.Receive():
		if in.Kind != InboundPeerClosed || in.PeerID != "peer-agent" {
			t.Errorf("unexpected inbound %+v", in)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for peer-closed event")
	}

	if transport.Connection("peer-agent") != nil {
		t.Error("disconnected peer should leave the table")
	}
}

func TestHeartbeatDisconnectsDeadPeer(t *testing.T) {
	peer, _ := newPeerServer(t, "peer-agent")

	transport := NewTransport(&TransportConfig{
		HeartbeatInterval: 20 * time.Millisecond,
		HTTPClient:        &http.Client{Timeout: 200 * time.Millisecond},
	})
	defer transport.Close()

	if _, err := transport.Connect(context.Background(), "peer-agent", peer.URL); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	peer.Close()

	select {
	case in := <-transport.Receive():
		if in.Kind != InboundPeerClosed {
			t.Errorf("expected peer-closed, got %+v", in)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for heartbeat disconnect")
	}
}

func TestRegisteredPeerIsMonitored(t *testing.T) {
	transport := NewTransport(&TransportConfig{
		HeartbeatInterval: 20 * time.Millisecond,
		HTTPClient:        &http.Client{Timeout: 200 * time.Millisecond},
	})
	defer transport.Close()

	// The peer enters the table through an inbound message, never through
	// Connect, and its callback endpoint is unreachable.
	msg := NewDataMessage("msg-1", "user", map[string]any{"action": "create"})
	if err := transport.Deliver("peer-agent", "http://127.0.0.1:1", msg); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	var sawPeerClosed bool
	deadline := time.After(3 * time.Second)
	for !sawPeerClosed {
		select {
		case in := <-transport.Receive():
			if in.Kind == InboundPeerClosed && in.PeerID == "peer-agent" {
				sawPeerClosed = true
			}
		case <-deadline:
			t.Fatal("registered peer with a dead endpoint was never disconnected")
		}
	}

	if transport.Connection("peer-agent") != nil {
		t.Error("disconnected peer should leave the table")
	}
}

func TestRegisterWithoutEndpointMonitorsOnceKnown(t *testing.T) {
	transport := NewTransport(&TransportConfig{
		HeartbeatInterval: 20 * time.Millisecond,
		HTTPClient:        &http.Client{Timeout: 200 * time.Millisecond},
	})
	defer transport.Close()

	// First contact carries no callback endpoint; nothing to probe yet.
	msg := NewDataMessage("msg-1", "user", map[string]any{"action": "list"})
	if err := transport.Deliver("peer-agent", "", msg); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	<-transport.Receive()

	// A later message supplies the endpoint; monitoring must start then.
	msg2 := NewDataMessage("msg-2", "user", map[string]any{"action": "list"})
	if err := transport.Deliver("peer-agent", "http://127.0.0.1:1", msg2); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case in := <-transport.Receive():
			if in.Kind == InboundPeerClosed {
				return
			}
		case <-deadline:
			t.Fatal("peer was never probed after its endpoint became known")
		}
	}
}

func TestCloseWithConcurrentDeliver(t *testing.T) {
	transport := NewTransport(&TransportConfig{InboxSize: 1})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			msg := NewTextMessage(fmt.Sprintf("msg-%d", n), "user", "hello")
			// An error after close is fine; a panic is not.
			_ = transport.Deliver("peer-agent", "", msg)
		}(i)
	}

	transport.Close()
	wg.Wait()

	// The inbox must be closed cleanly; draining it terminates.
	for range transport.Receive() {
	}
}

func TestDeliverAfterClose(t *testing.T) {
	transport := NewTransport(nil)
	transport.Close()

	msg := NewTextMessage("msg-1", "user", "hello")
	if err := transport.Deliver("peer-agent", "", msg); err == nil {
		t.Error("expected an error after close")
	}
}
