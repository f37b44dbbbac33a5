package a2a

import "fmt"

// JSON-RPC error codes used on the wire.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeTaskNotFound   = -32001
)

// Error implements the error interface for JSONRPCError.
func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// AgentUnreachableError indicates a peer agent could not be resolved or
// its connection dropped.
type AgentUnreachableError struct {
	AgentID string
	Cause   error
}

// Error implements the error interface for AgentUnreachableError.
func (e *AgentUnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agent %s unreachable: %v", e.AgentID, e.Cause)
	}
	return fmt.Sprintf("agent %s unreachable", e.AgentID)
}

// Unwrap returns the underlying cause.
func (e *AgentUnreachableError) Unwrap() error {
	return e.Cause
}

// TaskNotFoundError indicates the requested task ID was not found.
type TaskNotFoundError struct {
	TaskID string
}

// Error implements the error interface for TaskNotFoundError.
func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}
