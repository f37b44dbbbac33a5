// Package orchestrator maps inbound peer requests to sandbox API calls
// and relays results back over the A2A transport. It owns the live-sandbox
// table and the per-sandbox lifecycle state machine.
package orchestrator

import (
	"sync"
	"time"

	"github.com/agent-protocol/sandbox-orchestrator/pkg/daytona"
)

// State is a sandbox lifecycle state.
type State string

const (
	StateRequested State = "requested"
	StateCreating  State = "creating"
	StateReady     State = "ready"
	StateInUse     State = "in-use"
	StateDeleting  State = "deleting"
	StateDeleted   State = "deleted"
	StateError     State = "error"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDeleted || s == StateError
}

// Error kinds reported back to peers in status messages.
const (
	ErrKindNotFound         = "not_found"
	ErrKindInvalidState     = "invalid_state"
	ErrKindRemoteService    = "remote_service_error"
	ErrKindAgentUnreachable = "agent_unreachable"
	ErrKindInvalidRequest   = "invalid_request"
)

// Request is the structured payload of an inbound environment request.
type Request struct {
	// Action is one of: create, configure, delete, claim, release, list.
	Action string `json:"action"`
	// Template names a catalog preset; required for create.
	Template string `json:"template,omitempty"`
	// Resources names a size preset (small, medium, large).
	Resources string `json:"resources,omitempty"`
	// SandboxID targets an existing sandbox for configure/delete/claim/release.
	SandboxID string `json:"sandbox_id,omitempty"`
	// Name optionally labels the sandbox at creation time.
	Name string `json:"name,omitempty"`
	// Env vars applied on create or configure.
	Env map[string]string `json:"env,omitempty"`
}

// StatusUpdate is the structured payload of an outbound status message.
type StatusUpdate struct {
	// RequestID echoes the message ID of the request this update answers.
	RequestID string `json:"request_id,omitempty"`
	SandboxID string `json:"sandbox_id,omitempty"`
	Status    string `json:"status"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SandboxRecord is a read-only view of one live-sandbox table entry.
type SandboxRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	State     State     `json:"state"`
	Owner     string    `json:"owner,omitempty"`
	Template  string    `json:"template,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Event is a lifecycle transition published to subscribers.
type Event struct {
	SandboxID string    `json:"sandbox_id"`
	RequestID string    `json:"request_id,omitempty"`
	State     State     `json:"state"`
	Owner     string    `json:"owner,omitempty"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// entry is one row of the live-sandbox table.
//
// opMu serializes lifecycle operations: it is held for the full duration
// of a transition including the remote call, so at most one transition is
// in flight per sandbox and later operations queue behind it. stateMu
// guards the fields below for readers and is never held across a remote
// call.
type entry struct {
	opMu    chan struct{} // 1-slot semaphore, context-aware
	stateMu sync.Mutex

	id       string // canonical key; remote ID once known, name before that
	name     string
	state    State
	owner    string
	template string
	sandbox  *daytona.Sandbox
	created  time.Time
}

func newEntry(name, owner, template string) *entry {
	e := &entry{
		opMu:     make(chan struct{}, 1),
		id:       name,
		name:     name,
		state:    StateRequested,
		owner:    owner,
		template: template,
		created:  time.Now(),
	}
	return e
}

// lockOp acquires the operation slot, respecting context cancellation.
func (e *entry) lockOp(done <-chan struct{}) bool {
	select {
	case e.opMu <- struct{}{}:
		return true
	case <-done:
		return false
	}
}

// unlockOp releases the operation slot.
func (e *entry) unlockOp() {
	<-e.opMu
}

// record builds a read-only snapshot of the entry.
func (e *entry) record() *SandboxRecord {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	rec := &SandboxRecord{
		ID:        e.id,
		Name:      e.name,
		State:     e.state,
		Owner:     e.owner,
		Template:  e.template,
		CreatedAt: e.created,
	}
	if e.sandbox != nil {
		rec.URL = e.sandbox.URL
	}
	return rec
}
