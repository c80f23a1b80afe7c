// Package events fans operational events out from the connection
// bridge, the tool executor and the agent to whoever is watching: the
// WebSocket stream, the metrics collector and the MQTT publisher.
//
// A nil *Bus discards everything, so components emit unconditionally.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceBridge identifies events from the connection bridge.
	SourceBridge = "bridge"
	// SourceTools identifies events from the tool executor.
	SourceTools = "tools"
	// SourceAgent identifies events from the chat agent.
	SourceAgent = "agent"
)

// Kind constants describe the type of event within a source.
const (
	// KindStatusChange signals a bridge state transition.
	// Data: old, new, consecutive_failures.
	KindStatusChange = "status_change"
	// KindMessageQueued signals a prompt was buffered while offline.
	// Data: queue_size, evicted.
	KindMessageQueued = "message_queued"
	// KindMessageDelivered signals a prompt reached the backend.
	// Data: via (live or drain), duration_ms.
	KindMessageDelivered = "message_delivered"
	// KindMessageFailed signals a live dispatch failed.
	// Data: error, retryable.
	KindMessageFailed = "message_failed"
	// KindQueueDrained signals a drain delivered at least one entry.
	// Data: delivered, remaining.
	KindQueueDrained = "queue_drained"

	// KindToolCall signals the start of a tool execution.
	// Data: tool, tier.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: tool, tier, ok, needs_confirm, duration_ms.
	KindToolDone = "tool_done"

	// KindRequestStart signals the beginning of an agent request.
	// Data: session, model.
	KindRequestStart = "request_start"
	// KindRequestComplete signals the end of an agent request.
	// Data: session, model, tool_calls, elapsed_ms.
	KindRequestComplete = "request_complete"
)

// Event is one thing that happened. Data keys per kind are listed
// with the Kind constants.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus broadcasts events to buffered subscriber channels. Publishing
// never waits: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    []chan Event
	dropped atomic.Uint64
}

func New() *Bus {
	return &Bus{}
}

// Publish delivers e to every subscriber with buffer room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.RUnlock()
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a channel buffering up to size events. Pair it
// with [Bus.Unsubscribe].
func (b *Bus) Subscribe(size int) <-chan Event {
	ch := make(chan Event, size)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe detaches and closes ch. Unknown or already detached
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if (<-chan Event)(sub) != ch {
			continue
		}
		b.subs = append(b.subs[:i], b.subs[i+1:]...)
		close(sub)
		return
	}
}

func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
