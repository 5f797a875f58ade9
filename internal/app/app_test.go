package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shared-context/mcp-server/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	key := make([]byte, 32)
	return &config.Config{
		DatabaseURL:         fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		JWTSecretKey:        "test-signing-secret",
		JWTEncryptionKey:    base64.RawURLEncoding.EncodeToString(key),
		LogLevel:            "info",
		HTTPAddr:            ":0",
		CacheCapacitySess:   10,
		CacheCapacityMsg:    10,
		CacheCapacitySearch: 10,
		CacheCapacityMemory: 10,
	}
}

func TestNewBuildsFullDependencyGraph(t *testing.T) {
	ctx := testConfig(t)
	appCtx, err := New(context.Background(), ctx)
	require.NoError(t, err)
	defer appCtx.Close()

	assert.NotNil(t, appCtx.Backend)
	assert.NotNil(t, appCtx.Identity)
	assert.NotNil(t, appCtx.Sessions)
	assert.NotNil(t, appCtx.Messages)
	assert.NotNil(t, appCtx.Memory)
	assert.NotNil(t, appCtx.Search)
	assert.NotNil(t, appCtx.Registry)
}

func TestNewRejectsUndersizedEncryptionKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTEncryptionKey = base64.RawURLEncoding.EncodeToString([]byte("too-short"))

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestDecodeEncryptionKeyAcceptsURLAndStdBase64(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	urlEncoded := base64.RawURLEncoding.EncodeToString(key)
	got, err := decodeEncryptionKey(urlEncoded)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	stdEncoded := base64.StdEncoding.EncodeToString(key)
	got, err = decodeEncryptionKey(stdEncoded)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestDecodeEncryptionKeyRejectsGarbage(t *testing.T) {
	_, err := decodeEncryptionKey("not-base64-!!!")
	assert.Error(t, err)
}

func TestCloseSucceedsAfterNew(t *testing.T) {
	appCtx, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	assert.NoError(t, appCtx.Close())
}

func TestTracerOnlyBuiltWhenEnabled(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		appCtx, err := New(context.Background(), testConfig(t))
		require.NoError(t, err)
		defer appCtx.Close()
		assert.Nil(t, appCtx.Tracer, "tracer must stay unbuilt when OTEL_TRACING_ENABLED is false")
	})

	t.Run("enabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.TracingEnabled = true
		appCtx, err := New(context.Background(), cfg)
		require.NoError(t, err)
		defer appCtx.Close()
		assert.NotNil(t, appCtx.Tracer)
	})
}
