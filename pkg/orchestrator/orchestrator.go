package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-protocol/sandbox-orchestrator/pkg/a2a"
	"github.com/agent-protocol/sandbox-orchestrator/pkg/config"
	"github.com/agent-protocol/sandbox-orchestrator/pkg/daytona"
)

// SandboxAPI is the subset of the Daytona client the orchestrator uses.
type SandboxAPI interface {
	CreateSandbox(ctx context.Context, req *daytona.CreateSandboxRequest) (*daytona.Sandbox, error)
	ConfigureSandbox(ctx context.Context, sandboxID string, cfg *daytona.SandboxConfiguration) (*daytona.Sandbox, error)
	DeleteSandbox(ctx context.Context, sandboxID string) error
}

// MessageSender delivers outbound status messages to peer agents.
type MessageSender interface {
	Send(ctx context.Context, agentID string, message *a2a.Message) (*a2a.Task, error)
}

// Orchestrator reacts to inbound A2A messages, drives the per-sandbox
// lifecycle state machine, and reports results to the requesting peer.
// A failure of one sandbox never affects other in-flight sandboxes, and
// no failure is fatal to the process.
type Orchestrator struct {
	api     SandboxAPI
	sender  MessageSender
	catalog *config.Catalog

	mu      sync.Mutex
	entries map[string]*entry // keyed by canonical sandbox ID
	aliases map[string]string // creation name -> canonical ID

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int

	wg sync.WaitGroup
}

// New creates an orchestrator over the given sandbox API and sender.
func New(api SandboxAPI, sender MessageSender, catalog *config.Catalog) *Orchestrator {
	if catalog == nil {
		catalog = config.DefaultCatalog()
	}
	return &Orchestrator{
		api:     api,
		sender:  sender,
		catalog: catalog,
		entries: make(map[string]*entry),
		aliases: make(map[string]string),
		subs:    make(map[int]chan Event),
	}
}

// Catalog returns the template catalog in use.
func (o *Orchestrator) Catalog() *config.Catalog {
	return o.catalog
}

// Run consumes the transport inbox until ctx is canceled or the inbox
// closes. Every inbound event is handled in its own goroutine so one
// peer's blocking remote call never stalls another peer's requests.
func (o *Orchestrator) Run(ctx context.Context, inbox <-chan *a2a.Inbound) {
	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return
		case in, ok := <-inbox:
			if !ok {
				o.wg.Wait()
				return
			}
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				o.handleInbound(ctx, in)
			}()
		}
	}
}

// handleInbound routes one transport event.
func (o *Orchestrator) handleInbound(ctx context.Context, in *a2a.Inbound) {
	switch in.Kind {
	case a2a.InboundPeerClosed:
		o.reclaimPeer(ctx, in.PeerID)
	case a2a.InboundMessage:
		o.handleMessage(ctx, in.PeerID, in.Message)
	default:
		slog.Warn("Unknown inbound event kind", "kind", in.Kind)
	}
}

// handleMessage parses and dispatches a single peer message. Each message
// triggers at most one state transition and at most one remote call.
func (o *Orchestrator) handleMessage(ctx context.Context, peerID string, msg *a2a.Message) {
	req, err := parseRequest(msg)
	if err != nil {
		o.replyError(ctx, peerID, msg.MessageID, "", ErrKindInvalidRequest, err.Error())
		return
	}

	slog.Debug("Handling peer request", "peer_id", peerID, "action", req.Action, "sandbox_id", req.SandboxID)

	switch req.Action {
	case "create":
		o.handleCreate(ctx, peerID, msg.MessageID, req)
	case "configure":
		o.handleConfigure(ctx, peerID, msg.MessageID, req)
	case "delete":
		o.handleDelete(ctx, peerID, msg.MessageID, req)
	case "claim":
		o.handleClaim(ctx, peerID, msg.MessageID, req)
	case "release":
		o.handleRelease(ctx, peerID, msg.MessageID, req)
	case "list":
		o.handleList(ctx, peerID, msg.MessageID)
	default:
		o.replyError(ctx, peerID, msg.MessageID, "", ErrKindInvalidRequest, fmt.Sprintf("unknown action: %q", req.Action))
	}
}

// parseRequest extracts the structured request from a message's data part.
func parseRequest(msg *a2a.Message) (*Request, error) {
	data := msg.FirstDataPart()
	if data == nil {
		return nil, fmt.Errorf("message has no data part")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("invalid request payload: %w", err)
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid request payload: %w", err)
	}
	if req.Action == "" {
		return nil, fmt.Errorf("request missing action")
	}
	return &req, nil
}

// handleCreate provisions a sandbox from a template and reports the
// resulting identifier and access URL to the requester.
func (o *Orchestrator) handleCreate(ctx context.Context, peerID, msgID string, req *Request) {
	tmpl, ok := o.catalog.Get(req.Template)
	if !ok {
		o.replyError(ctx, peerID, msgID, "", ErrKindNotFound, fmt.Sprintf("unknown template: %q", req.Template))
		return
	}

	var resources *daytona.ResourceConfig
	if req.Resources != "" {
		resources, ok = config.ResourcePreset(req.Resources)
		if !ok {
			o.replyError(ctx, peerID, msgID, "", ErrKindNotFound, fmt.Sprintf("unknown resource preset: %q", req.Resources))
			return
		}
	}

	name := req.Name
	if name == "" {
		name = "sb-" + uuid.NewString()[:8]
	}

	o.mu.Lock()
	if _, exists := o.lookupLocked(name); exists {
		o.mu.Unlock()
		o.replyError(ctx, peerID, msgID, name, ErrKindInvalidState, fmt.Sprintf("sandbox name already in use: %q", name))
		return
	}
	e := newEntry(name, peerID, tmpl.ID)
	o.entries[name] = e
	o.mu.Unlock()

	if !e.lockOp(ctx.Done()) {
		return
	}
	defer e.unlockOp()

	o.transition(e, msgID, StateCreating, "")

	sb, err := o.api.CreateSandbox(ctx, &daytona.CreateSandboxRequest{
		Name:      name,
		Template:  tmpl.ID,
		Image:     tmpl.BaseImage,
		Resources: resources,
		Env:       req.Env,
		Labels:    map[string]string{"owner": peerID},
	})
	if err != nil {
		o.transition(e, msgID, StateError, errorKind(err))
		o.replyError(ctx, peerID, msgID, name, errorKind(err), err.Error())
		return
	}

	// Re-key the entry under the service-assigned ID; the creation name
	// stays valid as an alias.
	o.mu.Lock()
	delete(o.entries, name)
	o.entries[sb.ID] = e
	o.aliases[name] = sb.ID
	o.mu.Unlock()

	e.stateMu.Lock()
	e.id = sb.ID
	e.sandbox = sb
	e.stateMu.Unlock()

	o.transition(e, msgID, StateReady, "")
	o.reply(ctx, peerID, &StatusUpdate{
		RequestID: msgID,
		SandboxID: sb.ID,
		Status:    string(StateReady),
		URL:       sb.URL,
	})
}

// handleConfigure applies configuration to an existing sandbox. A
// configure issued while the sandbox is still creating queues behind the
// in-flight create and is applied once it resolves.
func (o *Orchestrator) handleConfigure(ctx context.Context, peerID, msgID string, req *Request) {
	e := o.lookup(req.SandboxID)
	if e == nil {
		o.replyError(ctx, peerID, msgID, req.SandboxID, ErrKindNotFound, fmt.Sprintf("unknown sandbox: %q", req.SandboxID))
		return
	}

	if !e.lockOp(ctx.Done()) {
		return
	}
	defer e.unlockOp()

	e.stateMu.Lock()
	id, state, owner := e.id, e.state, e.owner
	e.stateMu.Unlock()

	if owner != peerID {
		o.replyError(ctx, peerID, msgID, id, ErrKindInvalidState, "sandbox is owned by another peer")
		return
	}
	if state != StateReady && state != StateInUse {
		o.replyError(ctx, peerID, msgID, id, ErrKindInvalidState, fmt.Sprintf("cannot configure sandbox in state %q", state))
		return
	}

	var resources *daytona.ResourceConfig
	if req.Resources != "" {
		preset, ok := config.ResourcePreset(req.Resources)
		if !ok {
			o.replyError(ctx, peerID, msgID, id, ErrKindNotFound, fmt.Sprintf("unknown resource preset: %q", req.Resources))
			return
		}
		resources = preset
	}

	sb, err := o.api.ConfigureSandbox(ctx, id, &daytona.SandboxConfiguration{
		Resources: resources,
		Env:       req.Env,
	})
	if err != nil {
		o.transition(e, msgID, StateError, errorKind(err))
		o.replyError(ctx, peerID, msgID, id, errorKind(err), err.Error())
		return
	}

	e.stateMu.Lock()
	e.sandbox = sb
	e.stateMu.Unlock()

	o.reply(ctx, peerID, &StatusUpdate{
		RequestID: msgID,
		SandboxID: id,
		Status:    string(state),
		URL:       sb.URL,
		Message:   "configuration applied",
	})
}

// handleDelete tears down a sandbox. Delete is idempotent: deleting an
// unknown or already-deleted sandbox succeeds. A delete issued while the
// sandbox is still creating queues behind the in-flight create.
func (o *Orchestrator) handleDelete(ctx context.Context, peerID, msgID string, req *Request) {
	e := o.lookup(req.SandboxID)
	if e == nil {
		o.reply(ctx, peerID, &StatusUpdate{
			RequestID: msgID,
			SandboxID: req.SandboxID,
			Status:    string(StateDeleted),
			Message:   "sandbox already deleted",
		})
		return
	}

	e.stateMu.Lock()
	owner := e.owner
	e.stateMu.Unlock()
	if owner != peerID {
		o.replyError(ctx, peerID, msgID, req.SandboxID, ErrKindInvalidState, "sandbox is owned by another peer")
		return
	}

	if err := o.deleteEntry(ctx, e, msgID); err != nil {
		o.replyError(ctx, peerID, msgID, req.SandboxID, errorKind(err), err.Error())
		return
	}

	o.reply(ctx, peerID, &StatusUpdate{
		RequestID: msgID,
		SandboxID: req.SandboxID,
		Status:    string(StateDeleted),
	})
}

// deleteEntry runs the Deleting -> Deleted transition for an entry and
// removes it from the live-sandbox table. Shared by peer deletes, admin
// deletes, and orphan reclamation.
func (o *Orchestrator) deleteEntry(ctx context.Context, e *entry, reqID string) error {
	if !e.lockOp(ctx.Done()) {
		return ctx.Err()
	}
	defer e.unlockOp()

	e.stateMu.Lock()
	id, state := e.id, e.state
	provisioned := e.sandbox != nil
	e.stateMu.Unlock()

	if state == StateDeleted {
		return nil
	}

	o.transition(e, reqID, StateDeleting, "")

	// An entry with no remote sandbox (create never resolved or failed)
	// has nothing to tear down; the remote delete is itself idempotent.
	if provisioned {
		if err := o.api.DeleteSandbox(ctx, id); err != nil {
			o.transition(e, reqID, StateError, errorKind(err))
			return err
		}
	}

	o.transition(e, reqID, StateDeleted, "")
	o.removeEntry(e)
	return nil
}

// handleClaim marks a Ready sandbox as claimed by its owner. A second
// concurrent claim on the same sandbox is rejected.
func (o *Orchestrator) handleClaim(ctx context.Context, peerID, msgID string, req *Request) {
	e := o.lookup(req.SandboxID)
	if e == nil {
		o.replyError(ctx, peerID, msgID, req.SandboxID, ErrKindNotFound, fmt.Sprintf("unknown sandbox: %q", req.SandboxID))
		return
	}

	if !e.lockOp(ctx.Done()) {
		return
	}
	defer e.unlockOp()

	e.stateMu.Lock()
	id, state, owner := e.id, e.state, e.owner
	e.stateMu.Unlock()

	if owner != peerID {
		o.replyError(ctx, peerID, msgID, id, ErrKindInvalidState, "sandbox is owned by another peer")
		return
	}
	if state != StateReady {
		o.replyError(ctx, peerID, msgID, id, ErrKindInvalidState, fmt.Sprintf("cannot claim sandbox in state %q", state))
		return
	}

	o.transition(e, msgID, StateInUse, "")
	o.reply(ctx, peerID, &StatusUpdate{RequestID: msgID, SandboxID: id, Status: string(StateInUse)})
}

// handleRelease returns an in-use sandbox to Ready.
func (o *Orchestrator) handleRelease(ctx context.Context, peerID, msgID string, req *Request) {
	e := o.lookup(req.SandboxID)
	if e == nil {
		o.replyError(ctx, peerID, msgID, req.SandboxID, ErrKindNotFound, fmt.Sprintf("unknown sandbox: %q", req.SandboxID))
		return
	}

	if !e.lockOp(ctx.Done()) {
		return
	}
	defer e.unlockOp()

	e.stateMu.Lock()
	id, state, owner := e.id, e.state, e.owner
	e.stateMu.Unlock()

	if owner != peerID {
		o.replyError(ctx, peerID, msgID, id, ErrKindInvalidState, "sandbox is owned by another peer")
		return
	}
	if state != StateInUse {
		o.replyError(ctx, peerID, msgID, id, ErrKindInvalidState, fmt.Sprintf("cannot release sandbox in state %q", state))
		return
	}

	o.transition(e, msgID, StateReady, "")
	o.reply(ctx, peerID, &StatusUpdate{RequestID: msgID, SandboxID: id, Status: string(StateReady)})
}

// handleList reports the requesting peer's sandboxes.
func (o *Orchestrator) handleList(ctx context.Context, peerID, msgID string) {
	var owned []*SandboxRecord
	for _, rec := range o.Sandboxes() {
		if rec.Owner == peerID {
			owned = append(owned, rec)
		}
	}

	reply := a2a.NewDataMessage("msg_"+uuid.NewString(), "agent", map[string]any{
		"request_id": msgID,
		"status":     "ok",
		"sandboxes":  owned,
	})
	if _, err := o.sender.Send(ctx, peerID, reply); err != nil {
		slog.Warn("Failed to send list reply", "peer_id", peerID, "error", err)
	}
}

// reclaimPeer tears down every sandbox owned by a disconnected peer.
// The owning connection is gone, so no status messages are sent.
func (o *Orchestrator) reclaimPeer(ctx context.Context, peerID string) {
	o.mu.Lock()
	var orphaned []*entry
	for _, e := range o.entries {
		e.stateMu.Lock()
		if e.owner == peerID && e.state != StateDeleted {
			orphaned = append(orphaned, e)
		}
		e.stateMu.Unlock()
	}
	o.mu.Unlock()

	if len(orphaned) == 0 {
		return
	}

	slog.Info("Reclaiming sandboxes of disconnected peer", "peer_id", peerID, "count", len(orphaned))
	for _, e := range orphaned {
		if err := o.deleteEntry(ctx, e, ""); err != nil {
			slog.Error("Failed to reclaim sandbox", "sandbox_id", e.record().ID, "error", err)
		}
	}
}

// Sandboxes returns a snapshot of the live-sandbox table ordered by
// creation time.
func (o *Orchestrator) Sandboxes() []*SandboxRecord {
	o.mu.Lock()
	records := make([]*SandboxRecord, 0, len(o.entries))
	for _, e := range o.entries {
		records = append(records, e.record())
	}
	o.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

// Sandbox returns one live-sandbox table entry by ID or creation name.
func (o *Orchestrator) Sandbox(id string) (*SandboxRecord, bool) {
	e := o.lookup(id)
	if e == nil {
		return nil, false
	}
	return e.record(), true
}

// Delete tears down a sandbox on behalf of an operator, regardless of
// ownership. Unknown IDs are success, mirroring peer-initiated deletes.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	e := o.lookup(id)
	if e == nil {
		return nil
	}
	return o.deleteEntry(ctx, e, "")
}

// Subscribe registers a lifecycle event listener. The returned cancel
// function must be called to release the subscription.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()

	id := o.nextSub
	o.nextSub++
	ch := make(chan Event, 16)
	o.subs[id] = ch

	cancel := func() {
		o.subsMu.Lock()
		defer o.subsMu.Unlock()
		if _, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// transition moves an entry to a new state and publishes the event.
func (o *Orchestrator) transition(e *entry, reqID string, state State, errKind string) {
	e.stateMu.Lock()
	e.state = state
	event := Event{
		SandboxID: e.id,
		RequestID: reqID,
		State:     state,
		Owner:     e.owner,
		Error:     errKind,
		Timestamp: time.Now(),
	}
	if e.sandbox != nil {
		event.URL = e.sandbox.URL
	}
	e.stateMu.Unlock()

	slog.Info("Sandbox state transition", "sandbox_id", event.SandboxID, "state", state)
	o.publish(event)
}

// publish fans an event out to all subscribers without blocking; slow
// subscribers miss events rather than stalling lifecycle handling.
func (o *Orchestrator) publish(event Event) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// reply sends a status update message to a peer.
func (o *Orchestrator) reply(ctx context.Context, peerID string, update *StatusUpdate) {
	raw, err := json.Marshal(update)
	if err != nil {
		slog.Error("Failed to marshal status update", "error", err)
		return
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		slog.Error("Failed to convert status update", "error", err)
		return
	}

	msg := a2a.NewDataMessage("msg_"+uuid.NewString(), "agent", data)
	if _, err := o.sender.Send(ctx, peerID, msg); err != nil {
		slog.Warn("Failed to deliver status update", "peer_id", peerID, "error", err)
	}
}

// replyError sends an error status update to a peer.
func (o *Orchestrator) replyError(ctx context.Context, peerID, msgID, sandboxID, kind, detail string) {
	o.reply(ctx, peerID, &StatusUpdate{
		RequestID: msgID,
		SandboxID: sandboxID,
		Status:    string(StateError),
		Error:     kind,
		Message:   detail,
	})
}

// lookup resolves a sandbox by canonical ID or creation-name alias.
func (o *Orchestrator) lookup(id string) *entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, _ := o.lookupLocked(id)
	return e
}

func (o *Orchestrator) lookupLocked(id string) (*entry, bool) {
	if e, ok := o.entries[id]; ok {
		return e, true
	}
	if canonical, ok := o.aliases[id]; ok {
		if e, ok := o.entries[canonical]; ok {
			return e, true
		}
	}
	return nil, false
}

// removeEntry drops an entry and its alias from the table.
func (o *Orchestrator) removeEntry(e *entry) {
	e.stateMu.Lock()
	id, name := e.id, e.name
	e.stateMu.Unlock()

	o.mu.Lock()
	delete(o.entries, id)
	delete(o.entries, name)
	delete(o.aliases, name)
	o.mu.Unlock()
}

// errorKind maps an error to the wire error kind reported to peers.
func errorKind(err error) string {
	if daytona.IsNotFound(err) {
		return ErrKindNotFound
	}
	var unreachable *a2a.AgentUnreachableError
	if errors.As(err, &unreachable) {
		return ErrKindAgentUnreachable
	}
	return ErrKindRemoteService
}
