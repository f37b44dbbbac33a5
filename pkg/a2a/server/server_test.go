package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agent-protocol/sandbox-orchestrator/pkg/a2a"
	"github.com/agent-protocol/sandbox-orchestrator/pkg/orchestrator"
)

// fakeInboxer records delivered messages.
type fakeInboxer struct {
	mu        sync.Mutex
	delivered []*a2a.Message
	failNext  bool
}

func (f *fakeInboxer) Deliver(peerID, endpoint string, message *a2a.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errInboxClosed
	}
	f.delivered = append(f.delivered, message)
	return nil
}

var errInboxClosed = &a2a.AgentUnreachableError{AgentID: "self"}

// fakeEvents replays scripted lifecycle events to each subscriber. When
// release is non-nil, replay waits until it is closed so a test can hold
// events back until the task they reference has been registered.
type fakeEvents struct {
	events  []orchestrator.Event
	release chan struct{}
}

func (f *fakeEvents) Subscribe() (<-chan orchestrator.Event, func()) {
	ch := make(chan orchestrator.Event, len(f.events)+1)
	go func() {
		if f.release != nil {
			<-f.release
		}
		for _, event := range f.events {
			ch <- event
		}
	}()
	return ch, func() {}
}

func testCard() *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:    "sandbox-orchestrator",
		URL:     "http://orchestrator.example.dev",
		Version: "1.0.0",
		Skills:  []a2a.AgentSkill{},
	}
}

func newTestEndpoint(t *testing.T, events EventSource) (*Server, *fakeInboxer, *httptest.Server) {
	t.Helper()

	inboxer := &fakeInboxer{}
	srv, err := NewServer(Config{
		AgentCard:     testCard(),
		Transport:     inboxer,
		Events:        events,
		StreamTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(srv.Close)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return srv, inboxer, httpSrv
}

func rpcCall(t *testing.T, url, method string, params any) *a2a.JSONRPCResponse {
	t.Helper()

	payload, _ := json.Marshal(&a2a.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      "req-1",
		Method:  method,
		Params:  params,
	})
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp a2a.JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return &rpcResp
}

func inboundMessage(msgID string) *a2a.Message {
	msg := a2a.NewDataMessage(msgID, "user", map[string]any{
		"action":   "create",
		"template": "python-dev",
	})
	msg.Metadata = map[string]any{
		"agent_id": "peer-a",
		"endpoint": "http://peer-a.example.dev",
	}
	return msg
}

func TestWellKnownAgentCard(t *testing.T) {
	_, _, httpSrv := newTestEndpoint(t, nil)

	resp, err := http.Get(httpSrv.URL + "/.well-known/agent.json")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var card a2a.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		t.Fatalf("failed to decode card: %v", err)
	}
	if card.Name != "sandbox-orchestrator" {
		t.Errorf("unexpected card %+v", card)
	}
}

func TestSendMessageAcknowledgesWithTask(t *testing.T) {
	_, inboxer, httpSrv := newTestEndpoint(t, nil)

	resp := rpcCall(t, httpSrv.URL, "message/send", &a2a.MessageSendParams{Message: *inboundMessage("msg-1")})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	raw, _ := json.Marshal(resp.Result)
	var task a2a.Task
	json.Unmarshal(raw, &task)
	if task.Status.State != a2a.TaskStateSubmitted {
		t.Errorf("expected submitted task, got %+v", task)
	}

	inboxer.mu.Lock()
	defer inboxer.mu.Unlock()
	if len(inboxer.delivered) != 1 || inboxer.delivered[0].MessageID != "msg-1" {
		t.Errorf("message not delivered: %v", inboxer.delivered)
	}
}

func TestSendMessageMissingAgentID(t *testing.T) {
	_, _, httpSrv := newTestEndpoint(t, nil)

	msg := a2a.NewDataMessage("msg-1", "user", map[string]any{"action": "create"})
	resp := rpcCall(t, httpSrv.URL, "message/send", &a2a.MessageSendParams{Message: *msg})

	if resp.Error == nil || resp.Error.Code != a2a.CodeInvalidParams {
		t.Errorf("expected invalid params, got %v", resp.Error)
	}
}

func TestGetTaskTracksLifecycle(t *testing.T) {
	release := make(chan struct{})
	events := &fakeEvents{
		events: []orchestrator.Event{
			{RequestID: "msg-1", SandboxID: "sandbox-123", State: orchestrator.StateCreating},
			{RequestID: "msg-1", SandboxID: "sandbox-123", State: orchestrator.StateReady},
		},
		release: release,
	}
	_, _, httpSrv := newTestEndpoint(t, events)

	resp := rpcCall(t, httpSrv.URL, "message/send", &a2a.MessageSendParams{Message: *inboundMessage("msg-1")})
	raw, _ := json.Marshal(resp.Result)
	var task a2a.Task
	json.Unmarshal(raw, &task)

	// The task now exists; let the scripted lifecycle events flow.
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := rpcCall(t, httpSrv.URL, "tasks/get", &a2a.TaskQueryParams{ID: task.ID})
		raw, _ := json.Marshal(got.Result)
		var current a2a.Task
		json.Unmarshal(raw, &current)
		if current.Status.State == a2a.TaskStateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never completed, state %q", current.Status.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGetUnknownTask(t *testing.T) {
	_, _, httpSrv := newTestEndpoint(t, nil)

	resp := rpcCall(t, httpSrv.URL, "tasks/get", &a2a.TaskQueryParams{ID: "task_missing"})
	if resp.Error == nil || resp.Error.Code != a2a.CodeTaskNotFound {
		t.Errorf("expected task not found, got %v", resp.Error)
	}
}

func TestCancelTask(t *testing.T) {
	_, _, httpSrv := newTestEndpoint(t, nil)

	resp := rpcCall(t, httpSrv.URL, "message/send", &a2a.MessageSendParams{Message: *inboundMessage("msg-1")})
	raw, _ := json.Marshal(resp.Result)
	var task a2a.Task
	json.Unmarshal(raw, &task)

	got := rpcCall(t, httpSrv.URL, "tasks/cancel", &a2a.TaskIdParams{ID: task.ID})
	if got.Error != nil {
		t.Fatalf("cancel failed: %v", got.Error)
	}
	raw, _ = json.Marshal(got.Result)
	var canceled a2a.Task
	json.Unmarshal(raw, &canceled)
	if canceled.Status.State != a2a.TaskStateCanceled {
		t.Errorf("expected canceled, got %+v", canceled)
	}
}

func TestAgentsCardMethod(t *testing.T) {
	_, _, httpSrv := newTestEndpoint(t, nil)

	resp := rpcCall(t, httpSrv.URL, "agents/card", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var card a2a.AgentCard
	json.Unmarshal(raw, &card)
	if card.Name != "sandbox-orchestrator" {
		t.Errorf("unexpected card %+v", card)
	}
}

func TestStreamMessageEmitsUpdates(t *testing.T) {
	events := &fakeEvents{events: []orchestrator.Event{
		{RequestID: "msg-1", SandboxID: "sandbox-123", State: orchestrator.StateCreating},
		{RequestID: "msg-2", SandboxID: "other", State: orchestrator.StateReady},
		{RequestID: "msg-1", SandboxID: "sandbox-123", State: orchestrator.StateReady, URL: "https://sandbox-123.example.dev"},
	}}
	_, _, httpSrv := newTestEndpoint(t, events)

	payload, _ := json.Marshal(&a2a.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      "req-1",
		Method:  "message/stream",
		Params:  &a2a.MessageSendParams{Message: *inboundMessage("msg-1")},
	})
	resp, err := http.Post(httpSrv.URL, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("expected event stream, got %q", ct)
	}

	var states []a2a.TaskState
	var sawFinal bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event a2a.SendMessageStreamingResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("failed to decode event: %v", err)
		}
		states = append(states, event.Result.Status.State)
		if event.Result.Final {
			sawFinal = true
			break
		}
	}

	if !sawFinal {
		t.Fatalf("stream ended without a final event, states %v", states)
	}
	// submitted, working (creating), completed (ready); the unrelated
	// request's event must not leak into this stream.
	if len(states) != 3 || states[len(states)-1] != a2a.TaskStateCompleted {
		t.Errorf("unexpected state sequence %v", states)
	}
}
