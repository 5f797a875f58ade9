package surface

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shared-context/mcp-server/internal/apierr"
	"github.com/shared-context/mcp-server/internal/authz"
	"github.com/shared-context/mcp-server/internal/identity"
	"github.com/shared-context/mcp-server/internal/memory"
	"github.com/shared-context/mcp-server/internal/message"
	"github.com/shared-context/mcp-server/internal/search"
	"github.com/shared-context/mcp-server/internal/session"
)

// Engines bundles every engine the tool handlers dispatch into. Built
// once by internal/app and handed to RegisterTools.
type Engines struct {
	Sessions *session.Engine
	Messages *message.Engine
	Memory   *memory.Engine
	Search   *search.Engine
	Identity *identity.Service
}

func decode(raw json.RawMessage, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return apierr.New(apierr.ValidationError, "malformed arguments").WithCause(err)
	}
	return nil
}

// RegisterTools wires every tool name from the external interface table
// into r against the given engines.
func RegisterTools(r *Registry, e *Engines) {
	r.Register("create_session", createSessionHandler(e))
	r.Register("add_message", addMessageHandler(e))
	r.Register("get_messages", getMessagesHandler(e))
	r.Register("get_message", getMessageHandler(e))
	r.Register("search_context", searchContextHandler(e))
	r.Register("get_session", getSessionHandler(e))
	r.Register("list_sessions", listSessionsHandler(e))
	r.Register("set_memory", setMemoryHandler(e))
	r.Register("get_memory", getMemoryHandler(e))
	r.Register("list_memory", listMemoryHandler(e))
	r.Register("delete_memory", deleteMemoryHandler(e))
	r.Register("authenticate_agent", authenticateAgentHandler(e))
	r.Register("refresh_token", refreshTokenHandler(e))
	r.Register("get_usage_guidance", getUsageGuidanceHandler(e, r))
}

type createSessionRequest struct {
	Purpose  string          `json:"purpose"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func createSessionHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req createSessionRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return e.Sessions.Create(ctx, caller, req.Purpose, req.Metadata)
	}
}

type addMessageRequest struct {
	SessionID       string          `json:"session_id"`
	Content         string          `json:"content"`
	Visibility      string          `json:"visibility,omitempty"`
	MessageType     string          `json:"message_type,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	ParentMessageID *int64          `json:"parent_message_id,omitempty"`
}

func addMessageHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req addMessageRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		if req.SessionID == "" {
			return nil, apierr.New(apierr.ValidationError, "session_id is required")
		}
		return e.Messages.Append(ctx, caller, req.SessionID, req.Content, req.Visibility, req.MessageType, req.Metadata, req.ParentMessageID)
	}
}

type getMessagesRequest struct {
	SessionID        string `json:"session_id"`
	Limit            int    `json:"limit,omitempty"`
	Offset           int    `json:"offset,omitempty"`
	Cursor           string `json:"cursor,omitempty"`
	VisibilityFilter string `json:"visibility_filter,omitempty"`
}

func getMessagesHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req getMessagesRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		if req.SessionID == "" {
			return nil, apierr.New(apierr.ValidationError, "session_id is required")
		}
		return e.Messages.Get(ctx, caller, req.SessionID, req.Limit, req.Offset, req.Cursor, req.VisibilityFilter)
	}
}

type getMessageRequest struct {
	SessionID string `json:"session_id"`
	MessageID int64  `json:"message_id"`
}

func getMessageHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req getMessageRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return e.Messages.GetByID(ctx, caller, req.SessionID, req.MessageID)
	}
}

type searchContextRequest struct {
	SessionID      string `json:"session_id"`
	Query          string `json:"query"`
	FuzzyThreshold int    `json:"fuzzy_threshold,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	SearchMetadata bool   `json:"search_metadata,omitempty"`
	SearchScope    string `json:"search_scope,omitempty"`
}

func searchContextHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req searchContextRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		scope := search.ScopeAll
		if req.SearchScope != "" {
			scope = search.Scope(req.SearchScope)
		}
		return e.Search.Search(ctx, caller, req.SessionID, req.Query, req.FuzzyThreshold, req.Limit, req.SearchMetadata, scope)
	}
}

type getSessionRequest struct {
	SessionID string `json:"session_id"`
}

// SessionSnapshot is the get_session response: session header plus the
// first page (up to 200) of messages visible to the caller, in id order.
type SessionSnapshot struct {
	Session  *session.Session  `json:"session"`
	Messages []message.Message `json:"messages"`
}

func getSessionHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req getSessionRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		sess, err := e.Sessions.Get(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		page, err := e.Messages.Get(ctx, caller, req.SessionID, 200, 0, "", "")
		if err != nil {
			return nil, err
		}
		return &SessionSnapshot{Session: sess, Messages: page.Messages}, nil
	}
}

type listSessionsRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func listSessionsHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req listSessionsRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return e.Sessions.List(ctx, caller, req.Limit, req.Offset)
	}
}

type memoryKeyRequest struct {
	Key       string `json:"key"`
	SessionID string `json:"session_id,omitempty"`
}

type setMemoryRequest struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	SessionID string          `json:"session_id,omitempty"`
	ExpiresIn int             `json:"expires_in,omitempty"`
	Overwrite bool            `json:"overwrite,omitempty"`
}

func sessionPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func setMemoryHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req setMemoryRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		var ttl time.Duration
		if req.ExpiresIn > 0 {
			ttl = time.Duration(req.ExpiresIn) * time.Second
		}
		return e.Memory.Set(ctx, caller, sessionPtr(req.SessionID), req.Key, req.Value, ttl, req.Overwrite)
	}
}

func getMemoryHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req memoryKeyRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return e.Memory.Get(ctx, caller, sessionPtr(req.SessionID), req.Key)
	}
}

type listMemoryRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

func listMemoryHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req listMemoryRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return e.Memory.List(ctx, caller, sessionPtr(req.SessionID))
	}
}

func deleteMemoryHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req memoryKeyRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		if err := e.Memory.Delete(ctx, caller, sessionPtr(req.SessionID), req.Key); err != nil {
			return nil, err
		}
		return map[string]bool{"deleted": true}, nil
	}
}

type authenticateAgentRequest struct {
	AgentID     string   `json:"agent_id"`
	AgentType   string   `json:"agent_type"`
	Permissions []string `json:"permissions,omitempty"`
}

func authenticateAgentHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req authenticateAgentRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		perms := make([]identity.Permission, 0, len(req.Permissions))
		for _, p := range req.Permissions {
			perms = append(perms, identity.Permission(p))
		}
		return e.Identity.Issue(ctx, req.AgentID, req.AgentType, perms, 0)
	}
}

type refreshTokenRequest struct {
	Token string `json:"token"`
}

func refreshTokenHandler(e *Engines) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		var req refreshTokenRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		if req.Token == "" {
			return nil, apierr.New(apierr.ValidationError, "token is required")
		}
		return e.Identity.Refresh(ctx, req.Token)
	}
}

// UsageGuidance is a capability-scoped hint payload describing which
// tools and visibility classes the calling identity may use.
type UsageGuidance struct {
	AgentID         string   `json:"agent_id"`
	AgentType       string   `json:"agent_type"`
	CanRead         bool     `json:"can_read"`
	CanWrite        bool     `json:"can_write"`
	IsAdmin         bool     `json:"is_admin"`
	AvailableTools  []string `json:"available_tools"`
	VisibleClasses  []string `json:"visible_classes"`
}

func getUsageGuidanceHandler(e *Engines, r *Registry) Handler {
	return func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error) {
		classes := []string{string(authz.VisibilityPublic)}
		if !caller.IsAdmin() {
			classes = append(classes, string(authz.VisibilityPrivate), string(authz.VisibilityAgentOnly))
		} else {
			classes = append(classes, string(authz.VisibilityPrivate), string(authz.VisibilityAgentOnly), string(authz.VisibilityAdminOnly))
		}
		return &UsageGuidance{
			AgentID:        caller.AgentID,
			AgentType:      caller.AgentType,
			CanRead:        authz.RequireRead(caller),
			CanWrite:       authz.RequireWrite(caller),
			IsAdmin:        caller.IsAdmin(),
			AvailableTools: r.Names(),
			VisibleClasses: classes,
		}, nil
	}
}
