// Package telemetry publishes operational events and Prometheus metrics
// for the oracle pipeline.
package telemetry

import (
	"sync"
	"time"
)

// Event kinds emitted by the oracle.
const (
	EventQueryCompleted    = "query_completed"
	EventQueryFailed       = "query_failed"
	EventAuditFlushed      = "audit_flushed"
	EventAuditDropped      = "audit_dropped"
	EventProviderUnhealthy = "provider_unhealthy"
)

// Event is a single operational occurrence with free-form fields.
type Event struct {
	Kind   string                 `json:"kind"`
	At     time.Time              `json:"at"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Hub fans events out to subscribers. Publishing never blocks: subscribers
// with full buffers miss events rather than stalling the pipeline.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Publish delivers an event to every subscriber that has buffer room.
// A zero At is stamped with the current time.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Emit is shorthand for publishing a kind with fields.
func (h *Hub) Emit(kind string, fields map[string]interface{}) {
	h.Publish(Event{Kind: kind, Fields: fields})
}

// Subscribe registers a buffered receiver. The returned cancel function
// removes the subscription and closes the channel; it is safe to call
// more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount reports the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
