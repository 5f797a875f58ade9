package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shared-context/mcp-server/internal/apierr"
	"github.com/shared-context/mcp-server/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	backend := storage.OpenTest(t)
	key := make([]byte, 32)
	svc, err := New(Config{SigningSecret: "test-signing-secret", EncryptionKey: key, Backend: backend})
	require.NoError(t, err)
	return svc
}

func TestIssueAndValidate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "agent-a", "worker", []Permission{PermRead, PermWrite}, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.PlaintextToken)

	id, err := svc.Validate(ctx, issued.PlaintextToken)
	require.NoError(t, err)
	assert.Equal(t, "agent-a", id.AgentID)
	assert.Equal(t, "worker", id.AgentType)
	assert.True(t, id.Has(PermRead))
	assert.True(t, id.Has(PermWrite))
	assert.False(t, id.Has(PermAdmin))
}

func TestValidateRejectsMalformedToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Validate(ctx, "not-a-valid-token")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Unauthenticated, apiErr.Code)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "agent-a", "worker", []Permission{PermRead}, time.Nanosecond)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)

	_, err = svc.Validate(ctx, issued.PlaintextToken)
	require.Error(t, err)
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "agent-a", "worker", []Permission{PermRead, PermRefreshToken}, time.Hour)
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, issued.PlaintextToken)
	require.NoError(t, err)
	assert.NotEqual(t, issued.PlaintextToken, refreshed.PlaintextToken)

	// the old token must no longer validate once refresh completes
	_, err = svc.Validate(ctx, issued.PlaintextToken)
	require.Error(t, err)

	id, err := svc.Validate(ctx, refreshed.PlaintextToken)
	require.NoError(t, err)
	assert.Equal(t, "agent-a", id.AgentID)
}

func TestRefreshRequiresPermission(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "agent-a", "worker", []Permission{PermRead}, time.Hour)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, issued.PlaintextToken)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.PermissionDenied, apiErr.Code)
}

func TestRevoke(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "agent-a", "worker", []Permission{PermRead}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, issued.TokenID))

	_, err = svc.Validate(ctx, issued.PlaintextToken)
	require.Error(t, err)
}

func TestSweepExpired(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "agent-a", "worker", []Permission{PermRead}, time.Nanosecond)
	require.NoError(t, err)
	_, err = svc.Issue(ctx, "agent-b", "worker", []Permission{PermRead}, time.Hour)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)

	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAdminAgentTypeImpliesAdminPermission(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "agent-root", "admin", nil, time.Hour)
	require.NoError(t, err)

	id, err := svc.Validate(ctx, issued.PlaintextToken)
	require.NoError(t, err)
	assert.True(t, id.IsAdmin())
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(32)
	require.NoError(t, err)
	b, err := GenerateSecret(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}
