package surface

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shared-context/mcp-server/internal/audit"
	"github.com/shared-context/mcp-server/internal/authz"
	"github.com/shared-context/mcp-server/internal/cache"
	"github.com/shared-context/mcp-server/internal/identity"
	"github.com/shared-context/mcp-server/internal/memory"
	"github.com/shared-context/mcp-server/internal/message"
	"github.com/shared-context/mcp-server/internal/search"
	"github.com/shared-context/mcp-server/internal/session"
	"github.com/shared-context/mcp-server/internal/storage"
)

// buildTestSurface wires every engine over one in-memory backend the way
// internal/app does, without the HTTP layer or background cron jobs, so
// tool dispatch can be exercised directly.
func buildTestSurface(t *testing.T) (*Registry, *identity.Service) {
	t.Helper()
	backend := storage.OpenTest(t)

	idSvc, err := identity.New(identity.Config{
		SigningSecret: "surface-test-secret",
		EncryptionKey: make([]byte, 32),
		Backend:       backend,
	})
	require.NoError(t, err)

	c := cache.New(cache.DefaultConfig())
	auditLog := audit.New(backend)
	policy := authz.New()
	sessions := session.New(backend)
	messages := message.New(backend, sessions, policy, c, auditLog, nil)
	memories := memory.New(backend, c, auditLog, nil)
	searchEngine := search.New(backend, policy, c)

	registry := NewRegistry()
	RegisterTools(registry, &Engines{
		Sessions: sessions,
		Messages: messages,
		Memory:   memories,
		Search:   searchEngine,
		Identity: idSvc,
	})
	return registry, idSvc
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func identityFor(agentID string, perms ...identity.Permission) identity.Identity {
	m := make(map[identity.Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return identity.Identity{AgentID: agentID, Permissions: m}
}

// TestVisibilityIsolationScenario exercises a full tool-surface round trip:
// one agent writes messages at every visibility level, and a second agent
// dispatching get_messages and search_context over the same registry must
// only ever observe the public one.
func TestVisibilityIsolationScenario(t *testing.T) {
	registry, _ := buildTestSurface(t)
	ctx := context.Background()

	owner := identityFor("agent-owner", identity.PermRead, identity.PermWrite)
	other := identityFor("agent-other", identity.PermRead, identity.PermWrite)

	sessRaw, err := registry.Dispatch(ctx, owner, "create_session", mustJSON(t, map[string]string{"purpose": "visibility scenario"}))
	require.NoError(t, err)
	sess := sessRaw.(*session.Session)

	for _, vis := range []string{"public", "private", "agent_only", "admin_only"} {
		_, err := registry.Dispatch(ctx, owner, "add_message", mustJSON(t, map[string]interface{}{
			"session_id": sess.ID,
			"content":    vis + " message body",
			"visibility": vis,
		}))
		require.NoError(t, err)
	}

	ownerPageRaw, err := registry.Dispatch(ctx, owner, "get_messages", mustJSON(t, map[string]string{"session_id": sess.ID}))
	require.NoError(t, err)
	ownerPage := ownerPageRaw.(*message.Page)
	assert.Len(t, ownerPage.Messages, 4, "the sender must see all four visibility levels")

	otherPageRaw, err := registry.Dispatch(ctx, other, "get_messages", mustJSON(t, map[string]string{"session_id": sess.ID}))
	require.NoError(t, err)
	otherPage := otherPageRaw.(*message.Page)
	require.Len(t, otherPage.Messages, 1, "a different agent must only see the public message")
	assert.Equal(t, "public", otherPage.Messages[0].Visibility)

	searchRaw, err := registry.Dispatch(ctx, other, "search_context", mustJSON(t, map[string]interface{}{
		"session_id": sess.ID,
		"query":      "message body",
	}))
	require.NoError(t, err)
	results := searchRaw.([]search.Result)
	for _, r := range results {
		assert.Equal(t, "public", r.Message.Visibility, "search must never surface a message the caller cannot read")
	}
}

// TestTokenRefreshScenario exercises authenticate_agent then refresh_token
// over the dispatch surface, confirming the rotated token supersedes the
// original and the original stops validating.
func TestTokenRefreshScenario(t *testing.T) {
	registry, idSvc := buildTestSurface(t)
	ctx := context.Background()
	admin := identityFor("agent-admin")

	issuedRaw, err := registry.Dispatch(ctx, admin, "authenticate_agent", mustJSON(t, map[string]interface{}{
		"agent_id":    "agent-worker",
		"agent_type":  "worker",
		"permissions": []string{"read", "write", "refresh_token"},
	}))
	require.NoError(t, err)
	issued := issuedRaw.(*identity.IssuedToken)
	require.NotEmpty(t, issued.PlaintextToken)

	firstIdentity, err := idSvc.Validate(ctx, issued.PlaintextToken)
	require.NoError(t, err)
	assert.Equal(t, "agent-worker", firstIdentity.AgentID)

	refreshedRaw, err := registry.Dispatch(ctx, admin, "refresh_token", mustJSON(t, map[string]string{"token": issued.PlaintextToken}))
	require.NoError(t, err)
	refreshed := refreshedRaw.(*identity.IssuedToken)
	assert.NotEqual(t, issued.PlaintextToken, refreshed.PlaintextToken)

	_, err = idSvc.Validate(ctx, issued.PlaintextToken)
	require.Error(t, err, "the pre-refresh token must no longer validate")

	secondIdentity, err := idSvc.Validate(ctx, refreshed.PlaintextToken)
	require.NoError(t, err)
	assert.Equal(t, "agent-worker", secondIdentity.AgentID)
}

func TestUsageGuidanceReflectsPermissions(t *testing.T) {
	registry, _ := buildTestSurface(t)
	ctx := context.Background()
	reader := identityFor("agent-reader", identity.PermRead)

	raw, err := registry.Dispatch(ctx, reader, "get_usage_guidance", nil)
	require.NoError(t, err)
	guidance := raw.(*UsageGuidance)
	assert.True(t, guidance.CanRead)
	assert.False(t, guidance.CanWrite)
	assert.False(t, guidance.IsAdmin)
	assert.Contains(t, guidance.AvailableTools, "add_message")
}

func TestMemoryRoundTripThroughDispatch(t *testing.T) {
	registry, _ := buildTestSurface(t)
	ctx := context.Background()
	caller := identityFor("agent-a", identity.PermRead, identity.PermWrite)

	_, err := registry.Dispatch(ctx, caller, "set_memory", mustJSON(t, map[string]interface{}{
		"key":   "progress",
		"value": json.RawMessage(`{"done":3}`),
	}))
	require.NoError(t, err)

	gotRaw, err := registry.Dispatch(ctx, caller, "get_memory", mustJSON(t, map[string]string{"key": "progress"}))
	require.NoError(t, err)
	got := gotRaw.(*memory.Entry)
	assert.JSONEq(t, `{"done":3}`, string(got.Value))
}
