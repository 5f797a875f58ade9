// Package session implements the Session Engine: create/list/get/touch,
// session-id format, and ownership metadata.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/shared-context/mcp-server/internal/apierr"
	"github.com/shared-context/mcp-server/internal/authz"
	"github.com/shared-context/mcp-server/internal/identity"
	"github.com/shared-context/mcp-server/internal/storage"
)

var idPattern = regexp.MustCompile(`^session_[0-9a-f]{16}$`)

const maxPurposeLen = 1000
const maxMetadataBytes = 8 * 1024

// Session is the persisted record.
type Session struct {
	ID        string          `db:"id" json:"id"`
	Purpose   string          `db:"purpose" json:"purpose"`
	CreatedBy string          `db:"created_by" json:"created_by"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	Metadata  json.RawMessage `db:"metadata" json:"metadata"`
}

// Engine implements the session operations.
type Engine struct {
	backend *storage.Backend
}

// New builds a session Engine over backend.
func New(backend *storage.Backend) *Engine {
	return &Engine{backend: backend}
}

// Create persists a new session owned by caller.
func (e *Engine) Create(ctx context.Context, caller identity.Identity, purpose string, metadata json.RawMessage) (*Session, error) {
	if !authz.RequireWrite(caller) {
		return nil, apierr.New(apierr.PermissionDenied, "write permission required")
	}

	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return nil, apierr.New(apierr.ValidationError, "purpose must not be empty").WithDetail("purpose", "required")
	}
	if len(purpose) > maxPurposeLen {
		return nil, apierr.New(apierr.ValidationError, "purpose too long").WithDetail("purpose", "max 1000 chars")
	}
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}
	if len(metadata) > maxMetadataBytes {
		return nil, apierr.New(apierr.ValidationError, "metadata too large").WithDetail("metadata", "max 8KB")
	}

	id, err := generateID()
	if err != nil {
		return nil, apierr.New(apierr.Internal, "failed to generate session id").WithCause(err)
	}

	now := storage.Now()
	sess := &Session{
		ID:        id,
		Purpose:   purpose,
		CreatedBy: caller.AgentID,
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
		Metadata:  metadata,
	}

	_, err = e.backend.Execute(ctx, `
		INSERT INTO sessions (id, purpose, created_by, created_at, updated_at, is_active, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Purpose, sess.CreatedBy, sess.CreatedAt, sess.UpdatedAt, sess.IsActive, string(sess.Metadata))
	if err != nil {
		return nil, apierr.New(apierr.Internal, "failed to create session").WithCause(err)
	}

	return sess, nil
}

// Get fetches a session by id.
func (e *Engine) Get(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := e.backend.Get(ctx, &sess, `
		SELECT id, purpose, created_by, created_at, updated_at, is_active, metadata
		FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Code == apierr.NotFound {
			return nil, apierr.New(apierr.NotFound, "session not found")
		}
		return nil, err
	}
	return &sess, nil
}

// List returns sessions caller created or has exchanged messages in,
// newest-updated first.
func (e *Engine) List(ctx context.Context, caller identity.Identity, limit, offset int) ([]Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var sessions []Session
	err := e.backend.Query(ctx, &sessions, `
		SELECT DISTINCT s.id, s.purpose, s.created_by, s.created_at, s.updated_at, s.is_active, s.metadata
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.id AND m.sender = ?
		WHERE s.created_by = ? OR m.sender IS NOT NULL
		ORDER BY s.updated_at DESC
		LIMIT ? OFFSET ?`,
		caller.AgentID, caller.AgentID, limit, offset)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "failed to list sessions").WithCause(err)
	}
	return sessions, nil
}

// Touch bumps updated_at to now; called internally by the message engine
// after every successful append, never exposed as a standalone tool.
func (e *Engine) Touch(ctx context.Context, sessionID string) error {
	_, err := e.backend.Execute(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, storage.Now(), sessionID)
	if err != nil {
		return apierr.New(apierr.Internal, "failed to touch session").WithCause(err)
	}
	return nil
}

// Exists is a light existence probe used by other engines to validate
// foreign references without pulling the full row.
func (e *Engine) Exists(ctx context.Context, sessionID string) (bool, error) {
	var count int
	err := e.backend.Get(ctx, &count, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return false, apierr.New(apierr.Internal, "failed to check session").WithCause(err)
	}
	return count > 0, nil
}

func generateID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "session_" + hex.EncodeToString(buf), nil
}

// ValidID reports whether id matches the session-id format.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
