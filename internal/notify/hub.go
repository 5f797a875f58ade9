// Package notify implements the Notification Hub: subscription by
// resource URI, non-blocking publish to bounded per-subscriber queues,
// and WebSocket fan-out. Adapted from the teacher's pkg/resources.Manager
// (a sync.Map keyed registry with a per-entry update channel, there used
// for service-health fan-out) generalized from one update channel per
// service to a set of subscriber sinks per resource URI.
package notify

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType enumerates the WebSocket push message kinds from the wire spec.
type EventType string

const (
	EventMessageAdded  EventType = "message_added"
	EventSessionUpdate EventType = "session_updated"
	EventPing          EventType = "ping"
	EventOverflow      EventType = "overflow"
)

// Event is the payload delivered to every live subscriber of a URI.
type Event struct {
	Type    EventType       `json:"type"`
	URI     string          `json:"uri"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Sink is anything that can receive Events for a subscription: a bounded
// channel feeding a WebSocket writer, or (in tests) a plain channel.
type Sink interface {
	// Send attempts a non-blocking delivery of ev. It returns false if
	// the event could not be delivered (the sink is closed, or its queue
	// is full and it does not handle overflow itself), signalling the
	// hub to prune the subscription.
	Send(ev Event) bool
	// Closed reports whether the sink has been torn down and should be
	// pruned from the hub at the next publish.
	Closed() bool
}

type subscription struct {
	sink Sink
}

// Hub is the process-wide registry of resource-URI subscriptions.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]*subscription

	drainTimeout time.Duration
}

// New builds an empty Hub. drainTimeout (5s when <= 0) is stored on the
// Hub but Publish does not read it: Publish never waits for a full queue
// to drain.
func New(drainTimeout time.Duration) *Hub {
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}
	return &Hub{subs: make(map[string][]*subscription), drainTimeout: drainTimeout}
}

// Subscribe registers sink for uri and returns an unsubscribe function.
func (h *Hub) Subscribe(uri string, sink Sink) func() {
	h.mu.Lock()
	sub := &subscription{sink: sink}
	h.subs[uri] = append(h.subs[uri], sub)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		list := h.subs[uri]
		for i, s := range list {
			if s == sub {
				h.subs[uri] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(h.subs[uri]) == 0 {
			delete(h.subs, uri)
		}
	}
}

// Publish delivers ev to every live subscriber of ev.URI, in the order
// each subscription was registered (commit order within this process).
// A sink that is closed, or whose Send returns false, is pruned on that
// same publish; there is no grace period for a full queue.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	subs := append([]*subscription(nil), h.subs[ev.URI]...)
	h.mu.RUnlock()

	var dead []*subscription
	for _, s := range subs {
		if s.sink.Closed() {
			dead = append(dead, s)
			continue
		}
		if !s.sink.Send(ev) {
			dead = append(dead, s)
		}
	}

	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.subs[ev.URI]
	for _, d := range dead {
		for i, s := range list {
			if s == d {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	if len(list) == 0 {
		delete(h.subs, ev.URI)
	} else {
		h.subs[ev.URI] = list
	}
}

// SubscriberCount reports how many live subscriptions exist for uri,
// used by tests and diagnostics.
func (h *Hub) SubscriberCount(uri string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[uri])
}
