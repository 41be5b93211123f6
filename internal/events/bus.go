// Package events provides in-memory pub/sub for workflow and session
// events, with per-scope ring-buffer replay so late subscribers and UIs
// polling with a last-seen sequence can catch up.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types emitted by the engine.
const (
	TypeTaskScheduled    = "task_scheduled"
	TypeTaskDelegated    = "task_delegated"
	TypeWorkflowStarted  = "workflow_started"
	TypeStepCompleted    = "step_completed"
	TypeStepFailed       = "step_failed"
	TypeWorkflowFinished = "workflow_finished"
	TypeHandoff          = "handoff"
	TypeSessionMessage   = "session_message"
	TypeStateChanged     = "state_changed"
)

// Event is one observable engine occurrence scoped to a workflow or
// session id.
type Event struct {
	Scope     string                 `json:"scope"`
	Type      string                 `json:"type"`
	AgentRole string                 `json:"agent_role,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal returns the event as JSON for SSE payloads or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Bus is an in-memory event broker. Instances are injected, not global,
// so independent engines can coexist. All methods are safe for
// concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewBus creates a bus whose per-scope replay buffers hold capacity
// events each.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe registers a channel for a scope. The caller must drain it
// and call Unsubscribe when done.
func (b *Bus) Subscribe(scope string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[scope]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		b.subscribers[scope] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(scope string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[scope]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(b.subscribers, scope)
		}
	}
}

// Publish assigns a sequence number, records the event in the scope's
// replay buffer, and fans out to subscribers without blocking. Slow
// subscribers drop events.
func (b *Bus) Publish(scope string, evt Event) {
	evt.Scope = scope
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	rg := b.history[scope]
	if rg == nil {
		rg = newRing(b.capacity)
		b.history[scope] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	targets := make([]chan Event, 0, len(b.subscribers[scope]))
	for ch := range b.subscribers[scope] {
		targets = append(targets, ch)
	}
	// Empty-scope subscribers receive every event as a firehose.
	if scope != "" {
		for ch := range b.subscribers[""] {
			targets = append(targets, ch)
		}
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns buffered events with Seq greater than since,
// best-effort within the ring capacity.
func (b *Bus) ReplaySince(scope string, since uint64) []Event {
	b.mu.RLock()
	rg := b.history[scope]
	b.mu.RUnlock()

	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
