// Package surface is the Tool/Resource Surface: a name-to-handler
// registry exposed over HTTP+WebSocket (and, from cmd/mcp-server, framed
// JSON over stdio), grounded on the teacher's cmd/web gin router
// (middleware stack, route grouping) generalized from REST endpoints per
// concept to one dispatch endpoint per tool name plus two resource
// routes.
package surface

import (
	"context"
	"encoding/json"

	"github.com/shared-context/mcp-server/internal/apierr"
	"github.com/shared-context/mcp-server/internal/identity"
)

// Handler executes one tool call. raw is the tool's argument object,
// still encoded as JSON; the handler is responsible for unmarshaling into
// its own typed request struct and validating it.
type Handler func(ctx context.Context, caller identity.Identity, raw json.RawMessage) (interface{}, error)

// Registry maps tool name to Handler. No decorators: metrics and tracing
// are applied by the transports around Dispatch (Server.dispatchTool,
// StdioServer.handleLine) and audit inside the engines, not
// per-registration.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under name. Registering the same name twice is
// a programmer error and panics, matching the spec's "panics reserved for
// programmer errors" design note.
func (r *Registry) Register(name string, h Handler) {
	if _, exists := r.handlers[name]; exists {
		panic("surface: tool already registered: " + name)
	}
	r.handlers[name] = h
}

// Lookup returns the handler for name, or false if no such tool exists.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns every registered tool name, used by get_usage_guidance.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch runs name's handler against raw args, translating a missing
// tool into apierr.NotFound so callers get the same error envelope shape
// as every other failure.
func (r *Registry) Dispatch(ctx context.Context, caller identity.Identity, name string, raw json.RawMessage) (interface{}, error) {
	h, ok := r.Lookup(name)
	if !ok {
		return nil, apierr.New(apierr.NotFound, "unknown tool").WithDetail("tool", name)
	}
	return h(ctx, caller, raw)
}
