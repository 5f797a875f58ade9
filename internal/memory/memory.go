// Package memory implements the Memory Engine: per-agent, optionally
// per-session key/value storage with TTL expiry and strict write-conflict
// semantics. Grounded on the teacher's pkg/tokenstore (a keyed store with
// expiry-aware get/set and a sweep for expired rows), generalized from
// tokens to arbitrary JSON values.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shared-context/mcp-server/internal/apierr"
	"github.com/shared-context/mcp-server/internal/audit"
	"github.com/shared-context/mcp-server/internal/authz"
	"github.com/shared-context/mcp-server/internal/cache"
	"github.com/shared-context/mcp-server/internal/identity"
	"github.com/shared-context/mcp-server/internal/storage"
)

const maxKeyLen = 256
const maxValueBytes = 16 * 1024

// Entry is the persisted record. SessionID is nil for agent-global entries.
type Entry struct {
	AgentID   string          `db:"agent_id" json:"agent_id"`
	SessionID *string         `db:"session_id" json:"session_id,omitempty"`
	Key       string          `db:"key" json:"key"`
	Value     json.RawMessage `db:"value" json:"value"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
	ExpiresAt *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
}

// Notifier is the narrow interface the Memory Engine needs to publish live
// updates; satisfied by *notify.Hub without memory importing notify.
type Notifier interface {
	PublishAgentMemory(agentID string, eventType string, payload interface{})
}

type noopNotifier struct{}

func (noopNotifier) PublishAgentMemory(string, string, interface{}) {}

// Engine implements set/get/list/delete over the storage backend.
type Engine struct {
	backend  *storage.Backend
	cache    *cache.Cache
	audit    *audit.Log
	notifier Notifier
}

// New builds a Memory Engine. notifier may be nil to disable publishing;
// auditLog may be nil to disable audit recording (tests).
func New(backend *storage.Backend, c *cache.Cache, auditLog *audit.Log, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Engine{backend: backend, cache: c, audit: auditLog, notifier: notifier}
}

func cacheKey(agentID string, sessionID *string, key string) string {
	scope := "-"
	if sessionID != nil {
		scope = *sessionID
	}
	return "memory:" + agentID + ":" + scope + ":" + key
}

// Set writes a key for caller, scoped to sessionID when non-nil. When
// overwrite is false and a live (non-expired) entry already exists, Set
// fails with apierr.Conflict rather than silently replacing it.
func (e *Engine) Set(ctx context.Context, caller identity.Identity, sessionID *string, key string, value json.RawMessage, ttl time.Duration, overwrite bool) (*Entry, error) {
	if !authz.RequireWrite(caller) {
		return nil, apierr.New(apierr.PermissionDenied, "write permission required")
	}
	key = strings.TrimSpace(key)
	if key == "" || len(key) > maxKeyLen {
		return nil, apierr.New(apierr.ValidationError, "key must be 1-256 characters").WithDetail("key", key)
	}
	if value == nil {
		value = json.RawMessage(`null`)
	}
	if len(value) > maxValueBytes {
		return nil, apierr.New(apierr.ValidationError, "value too large").WithDetail("value", "max 16KB")
	}
	existing, err := e.getRow(ctx, caller.AgentID, sessionID, key)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	now := storage.Now()
	var expiresAt *time.Time
	if ttl > 0 {
		expires := now.Add(ttl)
		expiresAt = &expires
	}

	if existing != nil && !overwrite {
		return nil, apierr.New(apierr.Conflict, "memory key already exists").WithDetail("key", key)
	}

	entry := &Entry{
		AgentID:   caller.AgentID,
		SessionID: sessionID,
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: expiresAt,
	}
	if existing != nil {
		entry.CreatedAt = existing.CreatedAt
		_, err = e.backend.Execute(ctx, `
			UPDATE agent_memory SET value = ?, updated_at = ?, expires_at = ?
			WHERE agent_id = ? AND session_id IS ? AND key = ?`,
			string(entry.Value), entry.UpdatedAt, entry.ExpiresAt, entry.AgentID, entry.SessionID, entry.Key)
	} else {
		_, err = e.backend.Execute(ctx, `
			INSERT INTO agent_memory (agent_id, session_id, key, value, created_at, updated_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.AgentID, entry.SessionID, entry.Key, string(entry.Value), entry.CreatedAt, entry.UpdatedAt, entry.ExpiresAt)
	}
	if err != nil {
		return nil, apierr.New(apierr.Internal, "failed to write memory entry").WithCause(err)
	}

	e.cache.Invalidate(cache.ClassAgentMemory, cacheKey(caller.AgentID, sessionID, key))
	e.notifier.PublishAgentMemory(caller.AgentID, "memory_set", entry)
	if e.audit != nil {
		_ = e.audit.Record(ctx, audit.Event{
			EventType: audit.EventMemorySet,
			AgentID:   caller.AgentID,
			SessionID: sessionID,
			Resource:  audit.StrPtr(key),
			Result:    "success",
		})
	}
	return entry, nil
}

// Get reads a key for caller, scoped to sessionID when non-nil. Expired
// entries behave as not-found (and are lazily deleted).
func (e *Engine) Get(ctx context.Context, caller identity.Identity, sessionID *string, key string) (*Entry, error) {
	if !authz.RequireRead(caller) {
		return nil, apierr.New(apierr.PermissionDenied, "read permission required")
	}
	ck := cacheKey(caller.AgentID, sessionID, key)
	if cached, ok := e.cache.Get(cache.ClassAgentMemory, ck); ok {
		if entry, ok := cached.(*Entry); ok && (entry.ExpiresAt == nil || !entry.ExpiresAt.Before(storage.Now())) {
			return entry, nil
		}
	}

	entry, err := e.getRow(ctx, caller.AgentID, sessionID, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apierr.New(apierr.NotFound, "memory key not found")
	}
	e.cache.Set(cache.ClassAgentMemory, ck, entry)
	return entry, nil
}

// getRow fetches the raw row, translating expiry into a lazy delete and a
// nil, non-error result (distinct from a storage error).
func (e *Engine) getRow(ctx context.Context, agentID string, sessionID *string, key string) (*Entry, error) {
	var entry Entry
	err := e.backend.Get(ctx, &entry, `
		SELECT agent_id, session_id, key, value, created_at, updated_at, expires_at
		FROM agent_memory WHERE agent_id = ? AND session_id IS ? AND key = ?`, agentID, sessionID, key)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, apierr.New(apierr.Internal, "failed to read memory entry").WithCause(err)
	}
	if entry.ExpiresAt != nil && entry.ExpiresAt.Before(storage.Now()) {
		_, _ = e.backend.Execute(ctx, `DELETE FROM agent_memory WHERE agent_id = ? AND session_id IS ? AND key = ?`, agentID, sessionID, key)
		return nil, nil
	}
	return &entry, nil
}

// List returns all live entries for caller, optionally scoped to sessionID.
func (e *Engine) List(ctx context.Context, caller identity.Identity, sessionID *string) ([]Entry, error) {
	if !authz.RequireRead(caller) {
		return nil, apierr.New(apierr.PermissionDenied, "read permission required")
	}
	var rows []Entry
	var err error
	if sessionID != nil {
		err = e.backend.Query(ctx, &rows, `
			SELECT agent_id, session_id, key, value, created_at, updated_at, expires_at
			FROM agent_memory WHERE agent_id = ? AND session_id = ? ORDER BY key ASC`, caller.AgentID, *sessionID)
	} else {
		err = e.backend.Query(ctx, &rows, `
			SELECT agent_id, session_id, key, value, created_at, updated_at, expires_at
			FROM agent_memory WHERE agent_id = ? ORDER BY key ASC`, caller.AgentID)
	}
	if err != nil {
		return nil, apierr.New(apierr.Internal, "failed to list memory entries").WithCause(err)
	}

	now := storage.Now()
	live := make([]Entry, 0, len(rows))
	for _, r := range rows {
		if r.ExpiresAt != nil && r.ExpiresAt.Before(now) {
			continue
		}
		live = append(live, r)
	}
	return live, nil
}

// Delete removes a key for caller, scoped to sessionID when non-nil.
func (e *Engine) Delete(ctx context.Context, caller identity.Identity, sessionID *string, key string) error {
	if !authz.RequireWrite(caller) {
		return apierr.New(apierr.PermissionDenied, "write permission required")
	}
	n, err := e.backend.Execute(ctx, `DELETE FROM agent_memory WHERE agent_id = ? AND session_id IS ? AND key = ?`, caller.AgentID, sessionID, key)
	if err != nil {
		return apierr.New(apierr.Internal, "failed to delete memory entry").WithCause(err)
	}
	if n == 0 {
		return apierr.New(apierr.NotFound, "memory key not found")
	}
	e.cache.Invalidate(cache.ClassAgentMemory, cacheKey(caller.AgentID, sessionID, key))
	e.notifier.PublishAgentMemory(caller.AgentID, "memory_deleted", map[string]string{"key": key})
	if e.audit != nil {
		_ = e.audit.Record(ctx, audit.Event{
			EventType: audit.EventMemoryDeleted,
			AgentID:   caller.AgentID,
			SessionID: sessionID,
			Resource:  audit.StrPtr(key),
			Result:    "success",
		})
	}
	return nil
}

// SweepExpired deletes every entry past its expires_at, run periodically
// from the cron-scheduled background sweep job.
func (e *Engine) SweepExpired(ctx context.Context) (int64, error) {
	n, err := e.backend.Execute(ctx, `DELETE FROM agent_memory WHERE expires_at < ?`, storage.Now())
	if err != nil {
		return 0, apierr.New(apierr.Internal, "failed to sweep expired memory").WithCause(err)
	}
	return n, nil
}

func isNotFound(err error) bool {
	apiErr, ok := apierr.As(err)
	return ok && apiErr.Code == apierr.NotFound
}
