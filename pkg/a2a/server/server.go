// Package server exposes the orchestration agent as an A2A endpoint:
// JSON-RPC 2.0 over HTTP POST plus agent card discovery.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/agent-protocol/sandbox-orchestrator/internal/jsonrpc2"
	"github.com/agent-protocol/sandbox-orchestrator/pkg/a2a"
	"github.com/agent-protocol/sandbox-orchestrator/pkg/orchestrator"
)

// Inboxer accepts inbound peer messages for asynchronous processing.
type Inboxer interface {
	Deliver(peerID, endpoint string, message *a2a.Message) error
}

// EventSource exposes sandbox lifecycle events for task tracking.
type EventSource interface {
	Subscribe() (<-chan orchestrator.Event, func())
}

// Config holds configuration for the A2A server.
type Config struct {
	AgentCard *a2a.AgentCard
	Transport Inboxer
	Events    EventSource
	// StreamTimeout bounds how long a message/stream call may stay open.
	StreamTimeout time.Duration
}

// Server is the A2A endpoint of the orchestration agent. Inbound messages
// are acknowledged with a task immediately and handed to the orchestrator;
// results arrive at the peer as separate messages or stream events.
type Server struct {
	card      *a2a.AgentCard
	transport Inboxer
	events    EventSource
	rpc       *jsonrpc2.Server
	router    *mux.Router

	streamTimeout time.Duration

	mu    sync.RWMutex
	tasks map[string]*a2a.Task // task ID -> task
	byMsg map[string]string    // message ID -> task ID

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates an A2A server bound to a transport and event source.
func NewServer(config Config) (*Server, error) {
	if config.AgentCard == nil {
		return nil, fmt.Errorf("agent card is required")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	streamTimeout := config.StreamTimeout
	if streamTimeout == 0 {
		streamTimeout = 2 * time.Minute
	}

	s := &Server{
		card:          config.AgentCard,
		transport:     config.Transport,
		events:        config.Events,
		rpc:           jsonrpc2.NewServer(),
		streamTimeout: streamTimeout,
		tasks:         make(map[string]*a2a.Task),
		byMsg:         make(map[string]string),
		stop:          make(chan struct{}),
	}

	s.rpc.Register("message/send", s.handleSendMessage)
	s.rpc.Register("tasks/get", s.handleGetTask)
	s.rpc.Register("tasks/cancel", s.handleCancelTask)
	s.rpc.Register("agents/card", s.handleAgentCard)
	s.rpc.RegisterStreaming("message/stream", s.handleStreamMessage)

	router := mux.NewRouter()
	router.Handle("/", s.rpc).Methods(http.MethodPost)
	router.HandleFunc("/.well-known/agent.json", s.handleWellKnownCard).Methods(http.MethodGet)
	s.router = router

	if s.events != nil {
		s.wg.Add(1)
		go s.trackEvents()
	}

	return s, nil
}

// Handler returns the HTTP handler for the A2A endpoint, CORS included.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(s.router)
}

// Close stops background task tracking.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// handleWellKnownCard serves the discovery document.
func (s *Server) handleWellKnownCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.card); err != nil {
		slog.Error("Failed to encode agent card", "error", err)
	}
}

// handleAgentCard handles the agents/card method.
func (s *Server) handleAgentCard(ctx context.Context, req *jsonrpc2.Request) (any, *jsonrpc2.Error) {
	return s.card, nil
}

// handleSendMessage accepts a message, hands it to the orchestrator, and
// acknowledges with a submitted task.
func (s *Server) handleSendMessage(ctx context.Context, req *jsonrpc2.Request) (any, *jsonrpc2.Error) {
	params, peerID, endpoint, rpcErr := s.parseMessageParams(req)
	if rpcErr != nil {
		return nil, rpcErr
	}

	task := s.registerTask(&params.Message)

	if err := s.transport.Deliver(peerID, endpoint, &params.Message); err != nil {
		s.completeTask(task.ID, a2a.TaskStateFailed)
		rpcErr := jsonrpc2.NewError(jsonrpc2.CodeInternalError, "Failed to accept message")
		rpcErr.Data = err.Error()
		return nil, rpcErr
	}

	return task, nil
}

// handleStreamMessage accepts a message and streams task status updates as
// Server-Sent Events until the request resolves.
func (s *Server) handleStreamMessage(ctx context.Context, req *jsonrpc2.Request, w http.ResponseWriter) error {
	params, peerID, endpoint, rpcErr := s.parseMessageParams(req)
	if rpcErr != nil {
		writeSSEResponse(w, &a2a.SendMessageStreamingResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &a2a.JSONRPCError{Code: rpcErr.Code, Message: rpcErr.Message, Data: rpcErr.Data},
		})
		return nil
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	// Subscribe before delivering so no transition is missed.
	var events <-chan orchestrator.Event
	var cancel func()
	if s.events != nil {
		events, cancel = s.events.Subscribe()
		defer cancel()
	}

	task := s.registerTask(&params.Message)

	if err := s.transport.Deliver(peerID, endpoint, &params.Message); err != nil {
		s.completeTask(task.ID, a2a.TaskStateFailed)
		return fmt.Errorf("failed to accept message: %w", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sendUpdate := func(state a2a.TaskState, final bool, metadata map[string]any) {
		writeSSEResponse(w, &a2a.SendMessageStreamingResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: &a2a.TaskStatusUpdateEvent{
				ID:       task.ID,
				Status:   a2a.TaskStatus{State: state},
				Final:    final,
				Metadata: metadata,
			},
		})
		flusher.Flush()
	}

	sendUpdate(a2a.TaskStateSubmitted, false, nil)

	if events == nil {
		sendUpdate(a2a.TaskStateCompleted, true, nil)
		return nil
	}

	timeout := time.NewTimer(s.streamTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case <-timeout.C:
			sendUpdate(a2a.TaskStateFailed, true, map[string]any{"error": "stream timeout"})
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.RequestID != params.Message.MessageID {
				continue
			}

			state, final := taskStateFor(event.State)
			metadata := map[string]any{"sandbox_id": event.SandboxID, "state": string(event.State)}
			if event.URL != "" {
				metadata["url"] = event.URL
			}
			if event.Error != "" {
				metadata["error"] = event.Error
			}

			sendUpdate(state, final, metadata)
			if final {
				s.completeTask(task.ID, state)
				return nil
			}
		}
	}
}

// handleGetTask handles the tasks/get method.
func (s *Server) handleGetTask(ctx context.Context, req *jsonrpc2.Request) (any, *jsonrpc2.Error) {
	var params a2a.TaskQueryParams
	if rpcErr := jsonrpc2.UnmarshalParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	s.mu.RLock()
	task, exists := s.tasks[params.ID]
	s.mu.RUnlock()

	if !exists {
		return nil, jsonrpc2.NewError(a2a.CodeTaskNotFound, fmt.Sprintf("Task not found: %s", params.ID))
	}
	return task, nil
}

// handleCancelTask handles the tasks/cancel method. The underlying sandbox
// operation is not interrupted; the task is only marked canceled if it has
// not already resolved.
func (s *Server) handleCancelTask(ctx context.Context, req *jsonrpc2.Request) (any, *jsonrpc2.Error) {
	var params a2a.TaskIdParams
	if rpcErr := jsonrpc2.UnmarshalParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[params.ID]
	if !exists {
		return nil, jsonrpc2.NewError(a2a.CodeTaskNotFound, fmt.Sprintf("Task not found: %s", params.ID))
	}

	if !isFinalTaskState(task.Status.State) {
		now := time.Now()
		task.Status = a2a.TaskStatus{State: a2a.TaskStateCanceled, Timestamp: &now}
	}
	return task, nil
}

// parseMessageParams decodes message/send parameters and extracts the peer
// identity and callback endpoint from the message metadata.
func (s *Server) parseMessageParams(req *jsonrpc2.Request) (*a2a.MessageSendParams, string, string, *jsonrpc2.Error) {
	var params a2a.MessageSendParams
	if rpcErr := jsonrpc2.UnmarshalParams(req, &params); rpcErr != nil {
		return nil, "", "", rpcErr
	}

	if params.Message.MessageID == "" {
		return nil, "", "", jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, "messageId is required")
	}

	peerID, _ := params.Message.Metadata["agent_id"].(string)
	if peerID == "" {
		return nil, "", "", jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, "message metadata missing agent_id")
	}
	endpoint, _ := params.Message.Metadata["endpoint"].(string)

	return &params, peerID, endpoint, nil
}

// registerTask records a new submitted task for an inbound message.
func (s *Server) registerTask(msg *a2a.Message) *a2a.Task {
	now := time.Now()
	task := &a2a.Task{
		ID:     "task_" + uuid.NewString(),
		Status: a2a.TaskStatus{State: a2a.TaskStateSubmitted, Timestamp: &now},
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.byMsg[msg.MessageID] = task.ID
	s.mu.Unlock()

	return task
}

// completeTask moves a task to a final state unless it already resolved.
func (s *Server) completeTask(taskID string, state a2a.TaskState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists || isFinalTaskState(task.Status.State) {
		return
	}
	now := time.Now()
	task.Status = a2a.TaskStatus{State: state, Timestamp: &now}
}

// trackEvents updates task states from orchestrator lifecycle events so
// tasks/get reflects request progress.
func (s *Server) trackEvents() {
	defer s.wg.Done()

	events, cancel := s.events.Subscribe()
	defer cancel()

	for {
		select {
		case <-s.stop:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.RequestID == "" {
				continue
			}

			s.mu.Lock()
			if taskID, ok := s.byMsg[event.RequestID]; ok {
				if task, ok := s.tasks[taskID]; ok && !isFinalTaskState(task.Status.State) {
					state, _ := taskStateFor(event.State)
					now := time.Now()
					task.Status = a2a.TaskStatus{State: state, Timestamp: &now}
				}
			}
			s.mu.Unlock()
		}
	}
}

// taskStateFor maps a sandbox lifecycle state to the A2A task state for
// the request that triggered it, and whether the request has resolved.
func taskStateFor(state orchestrator.State) (a2a.TaskState, bool) {
	switch state {
	case orchestrator.StateCreating, orchestrator.StateDeleting:
		return a2a.TaskStateWorking, false
	case orchestrator.StateReady, orchestrator.StateInUse, orchestrator.StateDeleted:
		return a2a.TaskStateCompleted, true
	case orchestrator.StateError:
		return a2a.TaskStateFailed, true
	default:
		return a2a.TaskStateWorking, false
	}
}

func isFinalTaskState(state a2a.TaskState) bool {
	switch state {
	case a2a.TaskStateCompleted, a2a.TaskStateCanceled, a2a.TaskStateFailed:
		return true
	}
	return false
}

// writeSSEResponse writes one JSON-RPC response as a Server-Sent Event.
func writeSSEResponse(w http.ResponseWriter, resp *a2a.SendMessageStreamingResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Failed to encode stream event", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
