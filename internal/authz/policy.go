// Package authz derives the caller's visibility scope from a validated
// Identity, adapted from the teacher's Subject/Action/Resource policy
// evaluator (pkg/authz) down to the single concrete rule this spec
// defines rather than a general policy-condition engine.
package authz

import (
	"github.com/shared-context/mcp-server/internal/identity"
)

// Visibility mirrors the message visibility enum.
type Visibility string

const (
	VisibilityPublic     Visibility = "public"
	VisibilityPrivate    Visibility = "private"
	VisibilityAgentOnly  Visibility = "agent_only"
	VisibilityAdminOnly  Visibility = "admin_only"
)

// MessageRef is the minimal shape CanRead needs from a message row.
type MessageRef struct {
	Sender     string
	Visibility Visibility
}

// Policy evaluates the read-visibility rule from the authorization
// specification.
type Policy struct{}

// New returns the single stock Policy; it carries no state because the
// rule is fixed, not configurable per deployment.
func New() *Policy {
	return &Policy{}
}

// CanRead reports whether caller may observe msg under the visibility
// rule: admins see everything; otherwise public messages are visible to
// anyone, and private/agent_only/admin_only messages are visible only to
// their sender (admin_only doubly so: sender or an admin).
func (p *Policy) CanRead(caller identity.Identity, msg MessageRef) bool {
	if caller.IsAdmin() {
		return true
	}
	switch msg.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityPrivate, VisibilityAgentOnly, VisibilityAdminOnly:
		return msg.Sender == caller.AgentID
	default:
		return false
	}
}

// CanReadWithFilter applies CanRead and, when filter is non-empty,
// additionally restricts to that single visibility class (the caller
// must still be authorized to see it under CanRead).
func (p *Policy) CanReadWithFilter(caller identity.Identity, msg MessageRef, filter Visibility) bool {
	if !p.CanRead(caller, msg) {
		return false
	}
	if filter == "" {
		return true
	}
	return msg.Visibility == filter
}

// RequireWrite returns an error-free bool; engines translate a false
// result into apierr.PermissionDenied at their own boundary so the
// error carries operation-specific context.
func RequireWrite(caller identity.Identity) bool {
	return caller.Has(identity.PermWrite)
}

// RequireRead reports whether caller holds the baseline read permission
// needed to call any read-returning tool.
func RequireRead(caller identity.Identity) bool {
	return caller.Has(identity.PermRead) || caller.Has(identity.PermWrite) || caller.IsAdmin()
}
