package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider wraps an OpenTelemetry SDK provider, adapted from the
// teacher's internal/tracing.TracerProvider (there rooted at
// service/auth/token spans) retargeted at tool-call and storage spans.
// Tracing is off by default; app.New builds a provider only when
// config.Config.TracingEnabled is set.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TracingConfig controls whether and how tracing is enabled.
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// NewTracerProvider builds a stdout-exporting tracer provider and installs
// it as the global provider.
func NewTracerProvider(cfg TracingConfig) (*TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}, nil
}

// StartSpan starts a span named name with the given attributes.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...), trace.WithTimestamp(time.Now()))
}

// Shutdown flushes and stops the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// Span name constants. The server starts only SpanToolCall spans (around
// each tool dispatch over HTTP and stdio); the others are not started
// anywhere.
const (
	SpanToolCall     = "mcp.tool.call"
	SpanStorageQuery = "mcp.storage.query"
	SpanAuthenticate = "mcp.authenticate"
	SpanSearch       = "mcp.search"
)

// Attribute keys shared across spans.
var (
	AttributeAgentID   = attribute.Key("mcp.agent.id")
	AttributeSessionID = attribute.Key("mcp.session.id")
	AttributeTool      = attribute.Key("mcp.tool.name")
	AttributeStatus    = attribute.Key("mcp.status")
)
