package events

import (
	"sync"

	"grimm.is/rse/internal/clock"
)

// Hub is the central event bus.
// It provides pub/sub semantics with typed events and non-blocking fan-out.
// A nil *Hub is valid and drops everything.
type Hub struct {
	mu    sync.RWMutex
	subs  map[EventType][]chan Event
	clock clock.Clock

	// Global subscribers receive all events
	global []chan Event

	published uint64
	dropped   uint64
}

// NewHub creates a new event hub.
func NewHub(clk clock.Clock) *Hub {
	return &Hub{
		subs:  make(map[EventType][]chan Event),
		clock: clock.OrReal(clk),
	}
}

// Publish sends an event to all subscribers of that event type.
// This is non-blocking - if a subscriber's channel is full, the event is dropped.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = h.clock.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.published++
	for _, ch := range h.subs[e.Type] {
		h.send(ch, e)
	}
	for _, ch := range h.global {
		h.send(ch, e)
	}
}

func (h *Hub) send(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		h.dropped++
	}
}

// Subscribe returns a channel that receives events of the specified types.
// If no types are specified, subscribes to all events.
// The caller is responsible for draining the channel to avoid drops.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(types) == 0 {
		h.global = append(h.global, ch)
	} else {
		for _, t := range types {
			h.subs[t] = append(h.subs[t], ch)
		}
	}
	return ch
}

// Unsubscribe removes a channel from all subscriptions.
// The channel is NOT closed by this method.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.global = removeFromSlice(h.global, ch)
	for t, subs := range h.subs {
		h.subs[t] = removeFromSlice(subs, ch)
	}
}

// Stats returns publish/drop counts for monitoring.
func (h *Hub) Stats() (published, dropped uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.published, h.dropped
}

func removeFromSlice(slice []chan Event, target <-chan Event) []chan Event {
	result := make([]chan Event, 0, len(slice))
	for _, ch := range slice {
		if ch != target {
			result = append(result, ch)
		}
	}
	return result
}

// ──────────────────────────────────────────────────────────────────────────────
// Convenience Methods
// ──────────────────────────────────────────────────────────────────────────────

// EmitPool publishes a pool event.
func (h *Hub) EmitPool(t EventType, data PoolData) {
	h.Publish(Event{Type: t, Source: "manager", Data: data})
}

// EmitFilter publishes a filter event.
func (h *Hub) EmitFilter(t EventType, data FilterData) {
	h.Publish(Event{Type: t, Source: "manager", Data: data})
}

// EmitProfile publishes a profile event.
func (h *Hub) EmitProfile(t EventType, profile, snapshotID string) {
	h.Publish(Event{
		Type:   t,
		Source: "profile",
		Data:   ProfileData{Profile: profile, SnapshotID: snapshotID},
	})
}

// EmitReferenceBroken publishes a broken-reference event.
func (h *Hub) EmitReferenceBroken(consumer, reference string) {
	h.Publish(Event{
		Type:   EventReferenceBroken,
		Source: "reference",
		Data:   ReferenceData{Consumer: consumer, Reference: reference},
	})
}
