// Package jsonrpc2 provides the JSON-RPC 2.0 server plumbing used by the
// A2A endpoint: envelope parsing, validation, batch handling, and error
// responses with standard codes.
package jsonrpc2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// NewError builds an Error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Request is a decoded JSON-RPC request with parameters left raw for the
// method handler to unmarshal.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// HandlerFunc processes a single request and returns a result or an error.
type HandlerFunc func(ctx context.Context, req *Request) (any, *Error)

// StreamingHandlerFunc handles a method that writes its own streaming
// response (e.g. Server-Sent Events) directly to the ResponseWriter.
type StreamingHandlerFunc func(ctx context.Context, req *Request, w http.ResponseWriter) error

// Server dispatches JSON-RPC requests to registered method handlers.
type Server struct {
	methods   map[string]HandlerFunc
	streaming map[string]StreamingHandlerFunc
}

// NewServer creates an empty JSON-RPC server.
func NewServer() *Server {
	return &Server{
		methods:   make(map[string]HandlerFunc),
		streaming: make(map[string]StreamingHandlerFunc),
	}
}

// Register binds a method name to a handler.
func (s *Server) Register(method string, fn HandlerFunc) {
	s.methods[method] = fn
}

// RegisterStreaming binds a method name to a streaming handler. Streaming
// methods are rejected inside batch requests.
func (s *Server) RegisterStreaming(method string, fn StreamingHandlerFunc) {
	s.streaming[method] = fn
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if isBatch(body) {
		s.handleBatch(r.Context(), w, body)
		return
	}
	s.handleSingle(r.Context(), w, r, body)
}

// isBatch reports whether the payload is a JSON array.
func isBatch(body []byte) bool {
	for _, c := range body {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return c == '['
		}
	}
	return false
}

// handleSingle processes one JSON-RPC request.
func (s *Server) handleSingle(ctx context.Context, w http.ResponseWriter, r *http.Request, body []byte) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, &Response{
			JSONRPC: "2.0",
			Error:   NewError(CodeParseError, "Invalid JSON payload"),
		})
		return
	}

	if rpcErr := validateRequest(&req); rpcErr != nil {
		writeResponse(w, &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}

	if fn, ok := s.streaming[req.Method]; ok {
		if err := fn(ctx, &req, w); err != nil {
			slog.Error("Streaming handler failed", "method", req.Method, "error", err)
		}
		return
	}

	writeResponse(w, s.dispatch(ctx, &req))
}

// handleBatch processes a batch of JSON-RPC requests.
func (s *Server) handleBatch(ctx context.Context, w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		writeResponse(w, &Response{
			JSONRPC: "2.0",
			Error:   NewError(CodeParseError, "Invalid JSON payload"),
		})
		return
	}

	if len(requests) == 0 {
		writeResponse(w, &Response{
			JSONRPC: "2.0",
			Error:   NewError(CodeInvalidRequest, "Empty batch"),
		})
		return
	}

	responses := make([]*Response, 0, len(requests))
	for i := range requests {
		req := &requests[i]
		if rpcErr := validateRequest(req); rpcErr != nil {
			responses = append(responses, &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
			continue
		}
		if _, ok := s.streaming[req.Method]; ok {
			responses = append(responses, &Response{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   NewError(CodeInvalidRequest, "Streaming method not allowed in batch"),
			})
			continue
		}
		responses = append(responses, s.dispatch(ctx, req))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(responses); err != nil {
		slog.Error("Failed to encode batch response", "error", err)
	}
}

// dispatch routes a validated request to its handler.
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	fn, ok := s.methods[req.Method]
	if !ok {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   NewError(CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method)),
		}
	}

	result, rpcErr := fn(ctx, req)
	if rpcErr != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// validateRequest checks the JSON-RPC envelope.
func validateRequest(req *Request) *Error {
	if req.JSONRPC != "2.0" {
		err := NewError(CodeInvalidRequest, "Request payload validation error")
		err.Data = "jsonrpc must be '2.0'"
		return err
	}
	if req.Method == "" {
		return NewError(CodeInvalidRequest, "Missing method")
	}
	return nil
}

// writeResponse encodes a single JSON-RPC response. Per spec, errors still
// go out with HTTP 200.
func writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// UnmarshalParams decodes request params into target, mapping failures to
// an invalid-params error.
func UnmarshalParams(req *Request, target any) *Error {
	if len(req.Params) == 0 {
		return NewError(CodeInvalidParams, "Missing parameters")
	}
	if err := json.Unmarshal(req.Params, target); err != nil {
		rpcErr := NewError(CodeInvalidParams, "Invalid parameters")
		rpcErr.Data = err.Error()
		return rpcErr
	}
	return nil
}
