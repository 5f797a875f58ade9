package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shared-context/mcp-server/internal/app"
	"github.com/shared-context/mcp-server/internal/config"
	"github.com/shared-context/mcp-server/internal/ratelimit"
	"github.com/shared-context/mcp-server/internal/surface"
)

var serveStdio bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tool/resource surface, over HTTP+WebSocket or stdio",
	RunE: func(_ *cobra.Command, _ []string) error {
		if serveStdio {
			return runServeStdio()
		}
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "serve framed JSON requests over stdin/stdout instead of HTTP+WebSocket (the transport an MCP client like Claude Desktop speaks)")
	rootCmd.AddCommand(serveCmd)
}

// runServeStdio runs the same dependency graph as runServe but serves the
// stdio half of the wire contract instead of binding an HTTP listener.
func runServeStdio() error {
	cfg, err := config.Load()
	if err != nil {
		return configError{err}
	}

	ctx := context.Background()
	appCtx, err := app.New(ctx, cfg)
	if err != nil {
		return configError{err}
	}
	defer func() {
		if cerr := appCtx.Close(); cerr != nil {
			appCtx.Log.WithError(cerr).Error("error during shutdown")
		}
	}()

	stdioServer := surface.NewStdioServer(appCtx.Registry, appCtx.Identity, appCtx.Metrics, cfg.APIKey, appCtx.Tracer, appCtx.Log)
	appCtx.Log.Info("shared-context server started in stdio mode")
	return stdioServer.Serve(ctx, os.Stdin, os.Stdout)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return configError{err}
	}

	ctx := context.Background()
	appCtx, err := app.New(ctx, cfg)
	if err != nil {
		return configError{err}
	}
	defer func() {
		if cerr := appCtx.Close(); cerr != nil {
			appCtx.Log.WithError(cerr).Error("error during shutdown")
		}
	}()

	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		limiter = ratelimit.New(cfg.RedisAddr, time.Minute, 120)
		defer limiter.Close()
	}

	httpServer := surface.NewServer(appCtx.Registry, appCtx.Identity, appCtx.Sessions, appCtx.Hub, appCtx.Metrics, limiter, cfg.APIKey, appCtx.Tracer, appCtx.Log)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpServer.Handler(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appCtx.Log.WithError(err).Fatal("server failed to start")
		}
	}()
	appCtx.Log.WithField("addr", cfg.HTTPAddr).Info("shared-context server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appCtx.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	appCtx.Log.Info("server exited")
	return nil
}

// configError marks an error as a configuration failure (exit code 2).
type configError struct{ error }

func (e configError) Unwrap() error { return e.error }
