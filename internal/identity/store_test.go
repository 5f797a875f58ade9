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

func TestTokenStoreInsertAndGet(t *testing.T) {
	backend := storage.OpenTest(t)
	store := newTokenStore(backend)
	ctx := context.Background()

	row := tokenRow{
		TokenID:      "tok_1",
		EncryptedJWT: "ciphertext",
		AgentID:      "agent-a",
		ExpiresAt:    storage.Now().Add(time.Hour),
		CreatedAt:    storage.Now(),
	}
	require.NoError(t, store.insert(ctx, row))

	got, err := store.get(ctx, "tok_1")
	require.NoError(t, err)
	assert.Equal(t, row.EncryptedJWT, got.EncryptedJWT)
	assert.Equal(t, row.AgentID, got.AgentID)
}

func TestTokenStoreGetUnknownIsUnauthenticated(t *testing.T) {
	backend := storage.OpenTest(t)
	store := newTokenStore(backend)

	_, err := store.get(context.Background(), "missing")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Unauthenticated, apiErr.Code)
}

func TestTokenStoreDelete(t *testing.T) {
	backend := storage.OpenTest(t)
	store := newTokenStore(backend)
	ctx := context.Background()

	require.NoError(t, store.insert(ctx, tokenRow{
		TokenID:      "tok_2",
		EncryptedJWT: "ciphertext",
		AgentID:      "agent-a",
		ExpiresAt:    storage.Now().Add(time.Hour),
		CreatedAt:    storage.Now(),
	}))
	require.NoError(t, store.delete(ctx, "tok_2"))

	_, err := store.get(ctx, "tok_2")
	require.Error(t, err)
}

func TestTokenStoreSweepExpired(t *testing.T) {
	backend := storage.OpenTest(t)
	store := newTokenStore(backend)
	ctx := context.Background()

	require.NoError(t, store.insert(ctx, tokenRow{
		TokenID:      "tok_expired",
		EncryptedJWT: "ciphertext",
		AgentID:      "agent-a",
		ExpiresAt:    storage.Now().Add(-time.Hour),
		CreatedAt:    storage.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, store.insert(ctx, tokenRow{
		TokenID:      "tok_live",
		EncryptedJWT: "ciphertext",
		AgentID:      "agent-a",
		ExpiresAt:    storage.Now().Add(time.Hour),
		CreatedAt:    storage.Now(),
	}))

	affected, err := store.sweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	_, err = store.get(ctx, "tok_expired")
	assert.Error(t, err)
	_, err = store.get(ctx, "tok_live")
	assert.NoError(t, err)
}
