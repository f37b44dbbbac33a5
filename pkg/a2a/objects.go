// Package a2a implements the agent-to-agent messaging protocol: wire
// objects, a JSON-RPC client, and a connection-oriented transport.
package a2a

import (
	"encoding/json"
	"fmt"
	"time"
)

// AgentAuthentication defines authentication details for an agent.
type AgentAuthentication struct {
	Schemes     []string `json:"schemes"`
	Credentials *string  `json:"credentials,omitempty"`
}

// AgentCapabilities defines the capabilities of an agent.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming,omitempty"`
	PushNotifications      bool `json:"pushNotifications,omitempty"`
	StateTransitionHistory bool `json:"stateTransitionHistory,omitempty"`
}

// AgentCard provides metadata about an agent. Peers discover each other
// by fetching the card from /.well-known/agent.json.
type AgentCard struct {
	Name               string               `json:"name"`
	Description        *string              `json:"description,omitempty"`
	URL                string               `json:"url"`
	Provider           *AgentProvider       `json:"provider,omitempty"`
	Version            string               `json:"version"`
	DocumentationURL   *string              `json:"documentationUrl,omitempty"`
	Capabilities       AgentCapabilities    `json:"capabilities"`
	Authentication     *AgentAuthentication `json:"authentication,omitempty"`
	DefaultInputModes  []string             `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string             `json:"defaultOutputModes,omitempty"`
	Skills             []AgentSkill         `json:"skills"`
}

// AgentProvider provides information about the agent's provider.
type AgentProvider struct {
	Organization string  `json:"organization"`
	URL          *string `json:"url,omitempty"`
}

// AgentSkill describes a specific skill or capability of the agent.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}

// FileContent represents the content of a file, either inline or via URI.
type FileContent struct {
	Name     *string `json:"name,omitempty"`
	MimeType *string `json:"mimeType,omitempty"`
	Bytes    *string `json:"bytes,omitempty"` // Base64 encoded content
	URI      *string `json:"uri,omitempty"`
}

// Validate ensures that FileContent has either Bytes or URI but not both.
func (fc *FileContent) Validate() error {
	if (fc.Bytes == nil && fc.URI == nil) || (fc.Bytes != nil && fc.URI != nil) {
		return fmt.Errorf("FileContent must have either Bytes or URI field, but not both")
	}
	return nil
}

// Part represents a component of a message.
// It's a union type (text, file, or data) discriminated by the Type field.
type Part struct {
	Type     string         `json:"type"` // "text", "file", or "data"
	Text     *string        `json:"text,omitempty"`
	File     *FileContent   `json:"file,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UnmarshalJSON implements custom unmarshaling for Part to ensure data consistency.
func (p *Part) UnmarshalJSON(data []byte) error {
	type PartAlias Part
	var temp struct {
		Type string `json:"type"`
		*PartAlias
	}
	temp.PartAlias = (*PartAlias)(p)

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	switch temp.Type {
	case "text":
		if temp.Text == nil {
			return fmt.Errorf("text part missing 'text' field")
		}
	case "file":
		if temp.File == nil {
			return fmt.Errorf("file part missing 'file' field")
		}
	case "data":
		if temp.Data == nil {
			return fmt.Errorf("data part missing 'data' field")
		}
	default:
		return fmt.Errorf("unknown part type: %s", temp.Type)
	}

	return nil
}

// Message represents a single message exchanged between two agents.
type Message struct {
	MessageID string         `json:"messageId"`
	TaskID    *string        `json:"taskId,omitempty"`
	Role      string         `json:"role"` // "user" or "agent"
	Parts     []Part         `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FirstDataPart returns the payload of the first data part, or nil.
func (m *Message) FirstDataPart() map[string]any {
	for _, part := range m.Parts {
		if part.Type == "data" {
			return part.Data
		}
	}
	return nil
}

// JSONRPCError represents a standard JSON-RPC error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSONRPCRequest is a base structure for JSON-RPC requests.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"` // "2.0"
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse is a base structure for JSON-RPC responses.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc,omitempty"` // "2.0"
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// MessageSendConfiguration carries optional delivery settings for message/send.
type MessageSendConfiguration struct {
	AcceptedOutputModes []string `json:"acceptedOutputModes,omitempty"`
	Blocking            *bool    `json:"blocking,omitempty"`
}

// MessageSendParams provides parameters for the message/send method.
type MessageSendParams struct {
	Message       Message                   `json:"message"`
	Configuration *MessageSendConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any            `json:"metadata,omitempty"`
}

// SendMessageResponse is a JSON-RPC response for a message/send request.
type SendMessageResponse struct {
	JSONRPC string        `json:"jsonrpc,omitempty"` // "2.0"
	ID      any           `json:"id"`
	Result  *Task         `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// SendMessageStreamingResponse is a JSON-RPC response/event during a
// message/stream exchange. Result contains a TaskStatusUpdateEvent.
type SendMessageStreamingResponse struct {
	JSONRPC string                 `json:"jsonrpc,omitempty"` // "2.0"
	ID      any                    `json:"id"`
	Result  *TaskStatusUpdateEvent `json:"result,omitempty"`
	Error   *JSONRPCError          `json:"error,omitempty"`
}

// TaskIdParams provides parameters containing just a task ID.
type TaskIdParams struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskQueryParams provides parameters for querying a task.
type TaskQueryParams struct {
	ID            string         `json:"id"`
	HistoryLength *int           `json:"historyLength,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// GetTaskResponse is a JSON-RPC response containing task details.
type GetTaskResponse struct {
	JSONRPC string        `json:"jsonrpc,omitempty"` // "2.0"
	ID      any           `json:"id"`
	Result  *Task         `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// CancelTaskResponse is a JSON-RPC response for a cancel task request.
type CancelTaskResponse struct {
	JSONRPC string        `json:"jsonrpc,omitempty"` // "2.0"
	ID      any           `json:"id"`
	Result  *Task         `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// TaskState represents the possible states of a task.
type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateCanceled  TaskState = "canceled"
	TaskStateFailed    TaskState = "failed"
	TaskStateUnknown   TaskState = "unknown"
)

// TaskStatus represents the current status of a task.
type TaskStatus struct {
	State     TaskState  `json:"state"`
	Message   *Message   `json:"message,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Task represents the state and data associated with one request handled
// by a remote agent.
type Task struct {
	ID        string         `json:"id"`
	ContextID *string        `json:"contextId,omitempty"`
	Status    TaskStatus     `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatusUpdateEvent represents an event indicating a change in task status.
type TaskStatusUpdateEvent struct {
	ID       string         `json:"id"`
	Status   TaskStatus     `json:"status"`
	Final    bool           `json:"final,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewTextMessage builds a message from plain text.
func NewTextMessage(messageID, role, text string) *Message {
	return &Message{
		MessageID: messageID,
		Role:      role,
		Parts:     []Part{{Type: "text", Text: &text}},
	}
}

// NewDataMessage builds a message carrying a structured payload.
func NewDataMessage(messageID, role string, data map[string]any) *Message {
	return &Message{
		MessageID: messageID,
		Role:      role,
		Parts:     []Part{{Type: "data", Data: data}},
	}
}
