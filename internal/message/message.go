// Package message implements the Message Engine: append-only storage of
// session messages, visibility-filtered retrieval, offset and cursor
// pagination, and parent-message threading. Grounded on the teacher's
// pkg/token.Manager for the append/lookup shape (create, get-by-id,
// list-with-filter over a backing store) generalized from tokens to
// thread messages.
package message

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shared-context/mcp-server/internal/apierr"
	"github.com/shared-context/mcp-server/internal/audit"
	"github.com/shared-context/mcp-server/internal/authz"
	"github.com/shared-context/mcp-server/internal/cache"
	"github.com/shared-context/mcp-server/internal/identity"
	"github.com/shared-context/mcp-server/internal/session"
	"github.com/shared-context/mcp-server/internal/storage"
)

const maxContentBytes = 100 * 1024
const maxMetadataBytes = 8 * 1024
const defaultPageSize = 50
const maxPageSize = 200

// Message is the persisted, append-only record.
type Message struct {
	ID              int64            `db:"id" json:"id"`
	SessionID       string           `db:"session_id" json:"session_id"`
	Sender          string           `db:"sender" json:"sender"`
	Content         string           `db:"content" json:"content"`
	Visibility      string           `db:"visibility" json:"visibility"`
	MessageType     string           `db:"message_type" json:"message_type"`
	Metadata        json.RawMessage  `db:"metadata" json:"metadata"`
	Timestamp       time.Time        `db:"timestamp" json:"timestamp"`
	ParentMessageID *int64           `db:"parent_message_id" json:"parent_message_id,omitempty"`
}

func (m Message) asRef(caller string) authz.MessageRef {
	return authz.MessageRef{Sender: m.Sender, Visibility: authz.Visibility(m.Visibility)}
}

// Notifier is the narrow interface the Message Engine needs to publish
// live updates; satisfied by *notify.Hub without message importing notify.
type Notifier interface {
	PublishSession(sessionID string, eventType string, payload interface{})
}

type noopNotifier struct{}

func (noopNotifier) PublishSession(string, string, interface{}) {}

// Engine implements Append/Get/GetByID over the storage backend, enforcing
// visibility via authz.Policy and coordinating the session, cache, audit,
// and notification side effects of a successful append.
type Engine struct {
	backend  *storage.Backend
	sessions *session.Engine
	policy   *authz.Policy
	cache    *cache.Cache
	audit    *audit.Log
	notifier Notifier
}

// New builds a Message Engine. notifier may be nil, in which case
// publishes are silently dropped (useful in tests).
func New(backend *storage.Backend, sessions *session.Engine, policy *authz.Policy, c *cache.Cache, auditLog *audit.Log, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Engine{backend: backend, sessions: sessions, policy: policy, cache: c, audit: auditLog, notifier: notifier}
}

func messagePagesPrefix(sessionID string) string {
	return "messages:" + sessionID + ":"
}

// Append validates, sanitizes, and persists a new message in sessionID,
// then touches the session, invalidates cached pages, records an audit
// event, and publishes a notification.
func (e *Engine) Append(ctx context.Context, caller identity.Identity, sessionID string, content string, visibility string, messageType string, metadata json.RawMessage, parentMessageID *int64) (*Message, error) {
	if !authz.RequireWrite(caller) {
		e.recordFailure(ctx, caller.AgentID, sessionID, "permission_denied")
		return nil, apierr.New(apierr.PermissionDenied, "write permission required")
	}

	exists, err := e.sessions.Exists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		e.recordFailure(ctx, caller.AgentID, sessionID, "session_not_found")
		return nil, apierr.New(apierr.NotFound, "session not found")
	}

	content = SanitizeContent(content)
	if content == "" {
		return nil, apierr.New(apierr.ValidationError, "content must not be empty after sanitization").WithDetail("content", "required")
	}
	if len(content) > maxContentBytes {
		return nil, apierr.New(apierr.ValidationError, "content too large").WithDetail("content", "max 100KB")
	}

	if visibility == "" {
		visibility = string(authz.VisibilityPublic)
	}
	if !validVisibility(visibility) {
		return nil, apierr.New(apierr.ValidationError, "invalid visibility").WithDetail("visibility", visibility)
	}
	if messageType == "" {
		messageType = string(MessageTypeAgentResponse)
	}
	if !validMessageType(messageType) {
		return nil, apierr.New(apierr.ValidationError, "invalid message_type").WithDetail("message_type", messageType)
	}

	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}
	metadata = RedactMetadata(metadata)
	if len(metadata) > maxMetadataBytes {
		return nil, apierr.New(apierr.ValidationError, "metadata too large").WithDetail("metadata", "max 8KB")
	}

	if parentMessageID != nil {
		parent, err := e.GetByID(ctx, caller, sessionID, *parentMessageID)
		if err != nil {
			return nil, apierr.New(apierr.ValidationError, "parent message not found in this session").WithCause(err)
		}
		_ = parent
	}

	msg := &Message{
		SessionID:       sessionID,
		Sender:          caller.AgentID,
		Content:         content,
		Visibility:      visibility,
		MessageType:     messageType,
		Metadata:        metadata,
		Timestamp:       storage.Now(),
		ParentMessageID: parentMessageID,
	}

	id, err := e.backend.Insert(ctx, `
		INSERT INTO messages (session_id, sender, content, visibility, message_type, metadata, timestamp, parent_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Sender, msg.Content, msg.Visibility, msg.MessageType, string(msg.Metadata), msg.Timestamp, msg.ParentMessageID)
	if err != nil {
		e.recordFailure(ctx, caller.AgentID, sessionID, "storage_error")
		return nil, apierr.New(apierr.Internal, "failed to append message").WithCause(err)
	}
	msg.ID = id

	if err := e.sessions.Touch(ctx, sessionID); err != nil {
		return nil, err
	}
	e.cache.InvalidatePrefix(cache.ClassMessagePages, messagePagesPrefix(sessionID))

	if e.audit != nil {
		_ = e.audit.Record(ctx, audit.Event{
			EventType: audit.EventMessageAdded,
			AgentID:   caller.AgentID,
			SessionID: audit.StrPtr(sessionID),
			Result:    "success",
		})
	}

	e.notifier.PublishSession(sessionID, "message_added", msg)

	return msg, nil
}

func (e *Engine) recordFailure(ctx context.Context, agentID, sessionID, reason string) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Record(ctx, audit.Event{
		EventType: audit.EventMessageAddFailed,
		AgentID:   agentID,
		SessionID: audit.StrPtr(sessionID),
		Result:    reason,
	})
}

// Cursor encodes an opaque "id:timestamp_unixnano" pagination position.
func encodeCursor(id int64, ts time.Time) string {
	raw := fmt.Sprintf("%d:%d", id, ts.UnixNano())
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (id int64, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, apierr.New(apierr.ValidationError, "invalid cursor")
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return 0, apierr.New(apierr.ValidationError, "invalid cursor")
	}
	id, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, apierr.New(apierr.ValidationError, "invalid cursor")
	}
	return id, nil
}

// Page is a visibility-filtered, paginated slice of a session's messages.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}

// Get returns a page of messages in sessionID visible to caller, ordered
// oldest-first, optionally filtered to a single visibility class and
// starting after cursor (cursor takes precedence over offset when set).
func (e *Engine) Get(ctx context.Context, caller identity.Identity, sessionID string, limit int, offset int, cursor string, visibilityFilter string) (*Page, error) {
	if !authz.RequireRead(caller) {
		return nil, apierr.New(apierr.PermissionDenied, "read permission required")
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	cacheKey := fmt.Sprintf("%s%s:%s:%d:%d:%s", messagePagesPrefix(sessionID), caller.AgentID, visibilityFilter, limit, offset, cursor)
	if cached, ok := e.cache.Get(cache.ClassMessagePages, cacheKey); ok {
		if page, ok := cached.(*Page); ok {
			return page, nil
		}
	}

	var afterID int64 = -1
	if cursor != "" {
		id, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		afterID = id
	}

	var rows []Message
	var err error
	// fetch one extra row past the page boundary to compute HasMore
	fetchLimit := limit + 1
	if afterID >= 0 {
		err = e.backend.Query(ctx, &rows, `
			SELECT id, session_id, sender, content, visibility, message_type, metadata, timestamp, parent_message_id
			FROM messages WHERE session_id = ? AND id > ?
			ORDER BY id ASC LIMIT ?`, sessionID, afterID, fetchLimit)
	} else {
		err = e.backend.Query(ctx, &rows, `
			SELECT id, session_id, sender, content, visibility, message_type, metadata, timestamp, parent_message_id
			FROM messages WHERE session_id = ?
			ORDER BY id ASC LIMIT ? OFFSET ?`, sessionID, fetchLimit, offset)
	}
	if err != nil {
		return nil, apierr.New(apierr.Internal, "failed to fetch messages").WithCause(err)
	}

	visible := make([]Message, 0, len(rows))
	for _, m := range rows {
		if !e.policy.CanReadWithFilter(caller, m.asRef(caller.AgentID), authz.Visibility(visibilityFilter)) {
			continue
		}
		visible = append(visible, m)
	}

	page := &Page{}
	hasMore := len(visible) > limit
	if hasMore {
		visible = visible[:limit]
	}
	page.Messages = visible
	page.HasMore = hasMore
	if hasMore && len(visible) > 0 {
		last := visible[len(visible)-1]
		page.NextCursor = encodeCursor(last.ID, last.Timestamp)
	}

	e.cache.Set(cache.ClassMessagePages, cacheKey, page)
	return page, nil
}

// GetByID fetches a single message by id within sessionID, enforcing
// visibility for caller.
func (e *Engine) GetByID(ctx context.Context, caller identity.Identity, sessionID string, id int64) (*Message, error) {
	var m Message
	err := e.backend.Get(ctx, &m, `
		SELECT id, session_id, sender, content, visibility, message_type, metadata, timestamp, parent_message_id
		FROM messages WHERE session_id = ? AND id = ?`, sessionID, id)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Code == apierr.NotFound {
			return nil, apierr.New(apierr.NotFound, "message not found")
		}
		return nil, err
	}
	if !e.policy.CanRead(caller, m.asRef(caller.AgentID)) {
		return nil, apierr.New(apierr.NotFound, "message not found")
	}
	return &m, nil
}

func validVisibility(v string) bool {
	switch authz.Visibility(v) {
	case authz.VisibilityPublic, authz.VisibilityPrivate, authz.VisibilityAgentOnly, authz.VisibilityAdminOnly:
		return true
	default:
		return false
	}
}

// MessageType enumerates the kinds of content a message can carry.
type MessageType string

const (
	MessageTypeAgentResponse MessageType = "agent_response"
	MessageTypeHumanInput    MessageType = "human_input"
	MessageTypeSystemStatus  MessageType = "system_status"
	MessageTypeToolOutput    MessageType = "tool_output"
	MessageTypeCoordination  MessageType = "coordination"
)

func validMessageType(v string) bool {
	switch MessageType(v) {
	case MessageTypeAgentResponse, MessageTypeHumanInput, MessageTypeSystemStatus, MessageTypeToolOutput, MessageTypeCoordination:
		return true
	default:
		return false
	}
}
