// Package events is a publish/subscribe bus for dispatch observability.
// The agent publishes state transitions; the API streams them to
// administrators. Publish on a nil *Bus is a no-op, so publishers need
// no guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	// SourceAgent identifies events from the dispatch loop.
	SourceAgent = "agent"
	// SourceAPI identifies events from the HTTP surface.
	SourceAPI = "api"
	// SourceConnwatch identifies model provider reachability changes.
	SourceConnwatch = "connwatch"
)

// Kinds.
const (
	// KindTurnStart signals a chat turn entered the dispatch loop.
	// Data: run_id, thread_id, role.
	KindTurnStart = "turn_start"
	// KindLLMCall signals a model call is about to be made.
	// Data: run_id, round, model, attempt.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals a model call returned.
	// Data: run_id, round, model, tokens_in, tokens_out, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall signals a tool execution started.
	// Data: run_id, round, tool, call_id.
	KindToolCall = "tool_call"
	// KindToolDone signals a tool execution finished.
	// Data: run_id, tool, call_id, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindTurnComplete signals the loop reached a terminal answer.
	// Data: run_id, thread_id, rounds, degraded, exhaust_reason,
	// elapsed_ms.
	KindTurnComplete = "turn_complete"

	// KindThreadDeleted signals a caller deleted one of their threads.
	// Data: thread_id.
	KindThreadDeleted = "thread_deleted"

	// KindModelStatus signals the model provider became reachable or
	// unreachable. Data: service, ready, error.
	KindModelStatus = "model_status"
)

// Event is a single operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend lets Unsubscribe accept the receive-only view handed
	// out by Subscribe.
	recvToSend map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends e to every subscriber whose buffer has room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit stamps and publishes an event.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel of published events. Callers must
// Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Repeated
// calls are no-ops.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
