// Package audit implements the append-only Audit Log: every
// authentication, authorization decision, and data-mutating operation
// records an Event. Adapted from the teacher's pkg/audit (Entry,
// builder-style construction, SQL-backed storage) trimmed of its
// blockchain-style chain-id/prev-hash fields, which the spec does not
// call for (see DESIGN.md).
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shared-context/mcp-server/internal/storage"
)

// EventType enumerates the audit event kinds the spec names.
type EventType string

const (
	EventAuthentication   EventType = "authentication"
	EventAuthorization    EventType = "authorization"
	EventSessionCreated   EventType = "session_created"
	EventMessageAdded     EventType = "message_added"
	EventMessageAddFailed EventType = "message_add_failed"
	EventMemorySet        EventType = "memory_set"
	EventMemoryDeleted    EventType = "memory_deleted"
	EventTokenRefreshed   EventType = "token_refreshed"
	EventTokenRevoked     EventType = "token_revoked"
)

// Event is one append-only audit record.
type Event struct {
	Timestamp time.Time       `db:"timestamp" json:"timestamp"`
	EventType EventType       `db:"event_type" json:"event_type"`
	AgentID   string          `db:"agent_id" json:"agent_id"`
	SessionID *string         `db:"session_id" json:"session_id,omitempty"`
	Resource  *string         `db:"resource" json:"resource,omitempty"`
	Action    *string         `db:"action" json:"action,omitempty"`
	Result    string          `db:"result" json:"result"`
	Metadata  json.RawMessage `db:"metadata" json:"metadata,omitempty"`
}

// Log appends Events to the Storage Backend. No PII beyond agent ids is
// ever recorded.
type Log struct {
	backend *storage.Backend
}

// New builds a Log over backend.
func New(backend *storage.Backend) *Log {
	return &Log{backend: backend}
}

// Record appends ev. Callers discard the returned error, so a failure to
// audit never blocks the operation being audited (audit is a side
// channel, not a transactional participant).
func (l *Log) Record(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = storage.Now()
	}
	if ev.Metadata == nil {
		ev.Metadata = json.RawMessage(`{}`)
	}
	_, err := l.backend.Execute(ctx, `
		INSERT INTO audit_events (timestamp, event_type, agent_id, session_id, resource, action, result, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp, ev.EventType, ev.AgentID, ev.SessionID, ev.Resource, ev.Action, ev.Result, string(ev.Metadata))
	return err
}

// Recent returns the most recent events for an agent, newest first; used
// by admin diagnostics tooling, not exposed as a client-facing tool.
func (l *Log) Recent(ctx context.Context, agentID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []Event
	err := l.backend.Query(ctx, &events, `
		SELECT timestamp, event_type, agent_id, session_id, resource, action, result, metadata
		FROM audit_events WHERE agent_id = ? ORDER BY timestamp DESC LIMIT ?`, agentID, limit)
	return events, err
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StrPtr exposes strPtr for callers outside this package constructing Events.
func StrPtr(s string) *string { return strPtr(s) }
