package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("JWT_ENCRYPTION_KEY", "some-key")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET_KEY")
}

func TestLoadRequiresEncryptionKey(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "some-secret")
	t.Setenv("JWT_ENCRYPTION_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_ENCRYPTION_KEY")
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "some-secret")
	t.Setenv("JWT_ENCRYPTION_KEY", "some-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "file:shared_context.db", cfg.DatabaseURL)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.WSHeartbeat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8787", cfg.HTTPAddr)
	assert.Equal(t, "", cfg.RedisAddr)
	assert.Equal(t, 500, cfg.CacheCapacityMemory)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadTracingEnabledOverride(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "some-secret")
	t.Setenv("JWT_ENCRYPTION_KEY", "some-key")
	t.Setenv("OTEL_TRACING_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.TracingEnabled)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "some-secret")
	t.Setenv("JWT_ENCRYPTION_KEY", "some-key")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("TOKEN_TTL_SECONDS", "60")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, time.Minute, cfg.TokenTTL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}
