// Package app owns the process-lifetime singletons (signing secret, AEAD
// key, storage pool, cache, notification hub, audit sink, cron sweeps)
// and builds/tears them down in the fixed order the resource model
// specifies, grounded on the teacher's cmd/web/main.go
// initConfig/initLogger/setupRouter sequencing generalized into a single
// struct so tests can build the same graph without a running process.
package app

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/shared-context/mcp-server/internal/audit"
	"github.com/shared-context/mcp-server/internal/authz"
	"github.com/shared-context/mcp-server/internal/cache"
	"github.com/shared-context/mcp-server/internal/config"
	"github.com/shared-context/mcp-server/internal/identity"
	"github.com/shared-context/mcp-server/internal/logging"
	"github.com/shared-context/mcp-server/internal/memory"
	"github.com/shared-context/mcp-server/internal/message"
	"github.com/shared-context/mcp-server/internal/notify"
	"github.com/shared-context/mcp-server/internal/observability"
	"github.com/shared-context/mcp-server/internal/search"
	"github.com/shared-context/mcp-server/internal/session"
	"github.com/shared-context/mcp-server/internal/storage"
	"github.com/shared-context/mcp-server/internal/surface"
)

// Context bundles every process-lifetime singleton. Built once by New,
// torn down once by Close, in reverse construction order.
type Context struct {
	Config  *config.Config
	Log     *logrus.Logger
	Backend *storage.Backend
	Cache   *cache.Cache
	Hub     *notify.Hub
	Audit   *audit.Log
	Metrics *observability.Metrics

	Identity *identity.Service
	Sessions *session.Engine
	Messages *message.Engine
	Memory   *memory.Engine
	Search   *search.Engine

	Registry *surface.Registry
	Tracer   *observability.TracerProvider

	cron *cron.Cron
}

// New builds the full dependency graph: config -> secrets -> storage ->
// cache -> hub -> audit -> engines -> cron sweep jobs -> tool registry.
func New(ctx context.Context, cfg *config.Config) (*Context, error) {
	log := logging.New(cfg.LogLevel)

	encKey, err := decodeEncryptionKey(cfg.JWTEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode JWT_ENCRYPTION_KEY: %w", err)
	}

	backend, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	idSvc, err := identity.New(identity.Config{
		SigningSecret: cfg.JWTSecretKey,
		EncryptionKey: encKey,
		Backend:       backend,
	})
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("build identity service: %w", err)
	}

	cacheCfg := cache.Config{
		SessionsCapacity: cfg.CacheCapacitySess, SessionsTTL: cfg.CacheTTLSess,
		MessagesCapacity: cfg.CacheCapacityMsg, MessagesTTL: cfg.CacheTTLMsg,
		SearchCapacity: cfg.CacheCapacitySearch, SearchTTL: cfg.CacheTTLSearch,
		MemoryCapacity: cfg.CacheCapacityMemory, MemoryTTL: cfg.CacheTTLMemory,
	}
	c := cache.New(cacheCfg)
	hub := notify.New(cfg.SubscriptionDrain)
	auditLog := audit.New(backend)
	metrics := observability.New()
	policy := authz.New()

	sessions := session.New(backend)
	messages := message.New(backend, sessions, policy, c, auditLog, hub)
	mem := memory.New(backend, c, auditLog, hub)
	searchEngine := search.New(backend, policy, c)

	registry := surface.NewRegistry()
	surface.RegisterTools(registry, &surface.Engines{
		Sessions: sessions,
		Messages: messages,
		Memory:   mem,
		Search:   searchEngine,
		Identity: idSvc,
	})

	var tracer *observability.TracerProvider
	if cfg.TracingEnabled {
		tracer, err = observability.NewTracerProvider(observability.TracingConfig{
			Enabled:        true,
			ServiceName:    "shared-context-mcp-server",
			ServiceVersion: "dev",
			Environment:    environmentFor(cfg),
		})
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("build tracer provider: %w", err)
		}
	}

	appCtx := &Context{
		Config: cfg, Log: log, Backend: backend, Cache: c, Hub: hub, Audit: auditLog, Metrics: metrics,
		Identity: idSvc, Sessions: sessions, Messages: messages, Memory: mem, Search: searchEngine,
		Registry: registry, Tracer: tracer,
	}

	appCtx.startCron()
	return appCtx, nil
}

// startCron registers the token and memory sweep jobs on one process-wide
// scheduler, generalizing the teacher's single stopCleanup-channel sweep
// loop to multiple registered jobs sharing one cron instance.
func (a *Context) startCron() {
	a.cron = cron.New()
	_, _ = a.cron.AddFunc("@every 1m", func() {
		ctx := context.Background()
		if n, err := a.Identity.SweepExpired(ctx); err != nil {
			a.Log.WithError(err).Warn("token sweep failed")
		} else if n > 0 {
			a.Log.WithField("count", n).Debug("swept expired tokens")
		}
	})
	_, _ = a.cron.AddFunc("@every 5m", func() {
		ctx := context.Background()
		if n, err := a.Memory.SweepExpired(ctx); err != nil {
			a.Log.WithError(err).Warn("memory sweep failed")
		} else if n > 0 {
			a.Log.WithField("count", n).Debug("swept expired memory entries")
		}
	})
	a.cron.Start()
}

// Close tears down the singletons in reverse construction order.
func (a *Context) Close() error {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.Tracer != nil {
		if err := a.Tracer.Shutdown(context.Background()); err != nil {
			a.Log.WithError(err).Warn("tracer shutdown failed")
		}
	}
	return a.Backend.Close()
}

// environmentFor derives the OTel "environment" resource attribute from
// the config the teacher's CI flag already distinguishes prod from test.
func environmentFor(cfg *config.Config) string {
	if cfg.CI {
		return "ci"
	}
	return "production"
}

func decodeEncryptionKey(raw string) ([]byte, error) {
	key, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("must be URL-safe or standard base64: %w", err)
		}
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("decoded key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
