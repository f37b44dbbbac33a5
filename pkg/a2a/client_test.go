package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testAgentCard(url string) *AgentCard {
	return &AgentCard{
		Name:    "test-agent",
		URL:     url,
		Version: "1.0.0",
		Skills:  []AgentSkill{},
	}
}

func TestSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.JSONRPC != "2.0" || req.Method != "message/send" {
			t.Errorf("unexpected envelope: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&SendMessageResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: &Task{
				ID:     "task-1",
				Status: TaskStatus{State: TaskStateSubmitted},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(testAgentCard(server.URL), nil)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	task, err := client.SendMessage(context.Background(), &MessageSendParams{
		Message: *NewTextMessage("msg-1", "user", "hello"),
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if task.ID != "task-1" || task.Status.State != TaskStateSubmitted {
		t.Errorf("unexpected task %+v", task)
	}
}

func TestSendMessageJSONRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&SendMessageResponse{
			JSONRPC: "2.0",
			Error:   &JSONRPCError{Code: CodeInvalidParams, Message: "missing message"},
		})
	}))
	defer server.Close()

	client, _ := NewClient(testAgentCard(server.URL), nil)
	_, err := client.SendMessage(context.Background(), &MessageSendParams{})
	if err == nil {
		t.Fatal("expected an error")
	}

	var rpcErr *JSONRPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeInvalidParams {
		t.Errorf("expected invalid params error, got %v", err)
	}
}

func TestSendMessageStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		for _, state := range []TaskState{TaskStateWorking, TaskStateCompleted} {
			event := &SendMessageStreamingResponse{
				JSONRPC: "2.0",
				Result: &TaskStatusUpdateEvent{
					ID:     "task-1",
					Status: TaskStatus{State: state},
					Final:  state == TaskStateCompleted,
				},
			}
			payload, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
	}))
	defer server.Close()

	client, _ := NewClient(testAgentCard(server.URL), nil)

	var states []TaskState
	err := client.SendMessageStream(context.Background(), &MessageSendParams{
		Message: *NewTextMessage("msg-1", "user", "hello"),
	}, func(resp *SendMessageStreamingResponse) error {
		states = append(states, resp.Result.Status.State)
		return nil
	})
	if err != nil {
		t.Fatalf("SendMessageStream failed: %v", err)
	}
	if len(states) != 2 || states[0] != TaskStateWorking || states[1] != TaskStateCompleted {
		t.Errorf("unexpected states %v", states)
	}
}

func TestGetWellKnownAgentCard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/agent.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(testAgentCard("http://agent.example.dev"))
	}))
	defer server.Close()

	resolver := NewAgentCardResolver(server.URL, nil)
	card, err := resolver.GetWellKnownAgentCard(context.Background())
	if err != nil {
		t.Fatalf("GetWellKnownAgentCard failed: %v", err)
	}
	if card.Name != "test-agent" {
		t.Errorf("unexpected card %+v", card)
	}
}

func TestResolverHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	resolver := NewAgentCardResolver(server.URL, nil)
	if _, err := resolver.GetWellKnownAgentCard(context.Background()); err == nil {
		t.Error("expected an error")
	}
}

func TestPartValidation(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"text part", `{"type":"text","text":"hello"}`, false},
		{"data part", `{"type":"data","data":{"action":"create"}}`, false},
		{"text part without text", `{"type":"text"}`, true},
		{"data part without data", `{"type":"data"}`, true},
		{"unknown type", `{"type":"audio"}`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var part Part
			err := json.Unmarshal([]byte(tc.payload), &part)
			if (err != nil) != tc.wantErr {
				t.Errorf("got err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestFirstDataPart(t *testing.T) {
	msg := NewDataMessage("msg-1", "user", map[string]any{"action": "create"})
	data := msg.FirstDataPart()
	if data == nil || data["action"] != "create" {
		t.Errorf("unexpected data %v", data)
	}

	text := NewTextMessage("msg-2", "user", "hello")
	if text.FirstDataPart() != nil {
		t.Error("text message should have no data part")
	}
}
