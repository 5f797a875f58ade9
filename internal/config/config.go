// Package config loads the process-wide configuration from environment
// variables, following the recognized keys in the external interface
// specification (DATABASE_URL, JWT_SECRET_KEY, ...).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every startup-time setting the server needs. It is read
// once at process start and never mutated afterward.
type Config struct {
	DatabaseURL        string
	JWTSecretKey       string
	JWTEncryptionKey   string
	APIKey             string
	TokenTTL           time.Duration
	WSHeartbeat        time.Duration
	RequestDeadline    time.Duration
	SubscriptionDrain  time.Duration
	LogLevel           string
	CI                 bool
	HTTPAddr           string
	CacheCapacitySess  int
	CacheTTLSess       time.Duration
	CacheCapacityMsg   int
	CacheTTLMsg        time.Duration
	CacheCapacitySearch int
	CacheTTLSearch      time.Duration
	CacheCapacityMemory int
	CacheTTLMemory      time.Duration
	RedisAddr          string
	TracingEnabled     bool
}

// Load reads configuration from the process environment using the keys
// documented in the external interface spec, applying defaults for
// anything left unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "file:shared_context.db")
	v.SetDefault("TOKEN_TTL_SECONDS", 1800)
	v.SetDefault("WS_HEARTBEAT_SECONDS", 30)
	v.SetDefault("REQUEST_DEADLINE_SECONDS", 30)
	v.SetDefault("SUBSCRIPTION_DRAIN_SECONDS", 5)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8787")
	v.SetDefault("CACHE_CAPACITY_SESSIONS", 50)
	v.SetDefault("CACHE_TTL_SESSIONS_SECONDS", 60)
	v.SetDefault("CACHE_CAPACITY_MESSAGES", 100)
	v.SetDefault("CACHE_TTL_MESSAGES_SECONDS", 30)
	v.SetDefault("CACHE_CAPACITY_SEARCH", 200)
	v.SetDefault("CACHE_TTL_SEARCH_SECONDS", 120)
	v.SetDefault("CACHE_CAPACITY_MEMORY", 500)
	v.SetDefault("CACHE_TTL_MEMORY_SECONDS", 300)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("OTEL_TRACING_ENABLED", false)

	cfg := &Config{
		DatabaseURL:         v.GetString("DATABASE_URL"),
		JWTSecretKey:        v.GetString("JWT_SECRET_KEY"),
		JWTEncryptionKey:    v.GetString("JWT_ENCRYPTION_KEY"),
		APIKey:              v.GetString("API_KEY"),
		TokenTTL:            time.Duration(v.GetInt("TOKEN_TTL_SECONDS")) * time.Second,
		WSHeartbeat:         time.Duration(v.GetInt("WS_HEARTBEAT_SECONDS")) * time.Second,
		RequestDeadline:     time.Duration(v.GetInt("REQUEST_DEADLINE_SECONDS")) * time.Second,
		SubscriptionDrain:   time.Duration(v.GetInt("SUBSCRIPTION_DRAIN_SECONDS")) * time.Second,
		LogLevel:            v.GetString("LOG_LEVEL"),
		CI:                  v.GetBool("CI"),
		HTTPAddr:            v.GetString("HTTP_ADDR"),
		CacheCapacitySess:   v.GetInt("CACHE_CAPACITY_SESSIONS"),
		CacheTTLSess:        time.Duration(v.GetInt("CACHE_TTL_SESSIONS_SECONDS")) * time.Second,
		CacheCapacityMsg:    v.GetInt("CACHE_CAPACITY_MESSAGES"),
		CacheTTLMsg:         time.Duration(v.GetInt("CACHE_TTL_MESSAGES_SECONDS")) * time.Second,
		CacheCapacitySearch: v.GetInt("CACHE_CAPACITY_SEARCH"),
		CacheTTLSearch:      time.Duration(v.GetInt("CACHE_TTL_SEARCH_SECONDS")) * time.Second,
		CacheCapacityMemory: v.GetInt("CACHE_CAPACITY_MEMORY"),
		CacheTTLMemory:      time.Duration(v.GetInt("CACHE_TTL_MEMORY_SECONDS")) * time.Second,
		RedisAddr:           v.GetString("REDIS_ADDR"),
		TracingEnabled:      v.GetBool("OTEL_TRACING_ENABLED"),
	}

	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if cfg.JWTEncryptionKey == "" {
		return nil, fmt.Errorf("JWT_ENCRYPTION_KEY is required")
	}

	return cfg, nil
}
