package notify

import "encoding/json"

// PublishSession is the adapter engines use to publish a domain event
// under the session://<id> resource URI without importing notify.Event
// directly, keeping message/memory free of a dependency on this package's
// wire shape.
func (h *Hub) PublishSession(sessionID string, eventType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	h.Publish(Event{
		Type:    EventType(eventType),
		URI:     "session://" + sessionID,
		Payload: raw,
	})
}

// PublishAgentMemory publishes under the agent://<id>/memory resource URI.
func (h *Hub) PublishAgentMemory(agentID string, eventType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	h.Publish(Event{
		Type:    EventType(eventType),
		URI:     "agent://" + agentID + "/memory",
		Payload: raw,
	})
}
