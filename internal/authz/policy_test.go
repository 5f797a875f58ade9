package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shared-context/mcp-server/internal/identity"
)

func admin() identity.Identity {
	return identity.Identity{AgentID: "agent-admin", AgentType: "admin"}
}

func agent(id string) identity.Identity {
	return identity.Identity{AgentID: id}
}

func TestCanReadVisibilityMatrix(t *testing.T) {
	policy := New()
	sender := agent("agent-sender")
	other := agent("agent-other")

	cases := []struct {
		name       string
		caller     identity.Identity
		visibility Visibility
		want       bool
	}{
		{"public visible to anyone", other, VisibilityPublic, true},
		{"public visible to sender", sender, VisibilityPublic, true},
		{"private visible to sender", sender, VisibilityPrivate, true},
		{"private hidden from others", other, VisibilityPrivate, false},
		{"agent_only visible to sender", sender, VisibilityAgentOnly, true},
		{"agent_only hidden from others", other, VisibilityAgentOnly, false},
		{"admin_only visible to sender", sender, VisibilityAdminOnly, true},
		{"admin_only hidden from others", other, VisibilityAdminOnly, false},
		{"admin sees everything", admin(), VisibilityAdminOnly, true},
		{"admin sees private", admin(), VisibilityPrivate, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := MessageRef{Sender: "agent-sender", Visibility: tc.visibility}
			assert.Equal(t, tc.want, policy.CanRead(tc.caller, msg))
		})
	}
}

func TestCanReadWithFilter(t *testing.T) {
	policy := New()
	sender := agent("agent-sender")
	msg := MessageRef{Sender: "agent-sender", Visibility: VisibilityPublic}

	assert.True(t, policy.CanReadWithFilter(sender, msg, ""))
	assert.True(t, policy.CanReadWithFilter(sender, msg, VisibilityPublic))
	assert.False(t, policy.CanReadWithFilter(sender, msg, VisibilityPrivate))
}

func TestRequireWriteAndRead(t *testing.T) {
	writer := identity.Identity{AgentID: "agent-w", Permissions: map[identity.Permission]bool{identity.PermWrite: true}}
	reader := identity.Identity{AgentID: "agent-r", Permissions: map[identity.Permission]bool{identity.PermRead: true}}
	bare := identity.Identity{AgentID: "agent-b"}

	assert.True(t, RequireWrite(writer))
	assert.False(t, RequireWrite(reader))

	assert.True(t, RequireRead(reader))
	assert.True(t, RequireRead(writer))
	assert.False(t, RequireRead(bare))
	assert.True(t, RequireRead(admin()))
}
