package surface

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/shared-context/mcp-server/internal/apierr"
	"github.com/shared-context/mcp-server/internal/identity"
	"github.com/shared-context/mcp-server/internal/observability"
)

// StdioServer is the stdio half of the wire contract http.go serves over
// HTTP+WebSocket: one framed JSON request per input line, one framed
// JSON response per output line. Grounded on the teacher's cmd/web
// request/response cycle, with gin's routing and middleware stack
// replaced by a trivial read-dispatch-write loop since there is no
// method/path to route on, only a tool name.
type StdioServer struct {
	registry *Registry
	identity *identity.Service
	metrics  *observability.Metrics
	tracer   *observability.TracerProvider
	apiKey   string
	log      *logrus.Logger
}

// NewStdioServer builds a StdioServer. apiKey gates authenticate_agent the
// same way bootstrapAuthenticate gates it over HTTP; metrics and tracer may
// be nil (tracer is nil unless OTEL_TRACING_ENABLED=true).
func NewStdioServer(registry *Registry, identitySvc *identity.Service, metrics *observability.Metrics, apiKey string, tracer *observability.TracerProvider, log *logrus.Logger) *StdioServer {
	return &StdioServer{registry: registry, identity: identitySvc, metrics: metrics, tracer: tracer, apiKey: apiKey, log: log}
}

// stdioRequest is one line of input. Token carries the bearer credential
// stdio has no header to hold; APIKey carries the bootstrap credential
// for authenticate_agent, mirroring X-API-Key over HTTP.
type stdioRequest struct {
	ID     string          `json:"id"`
	Tool   string          `json:"tool"`
	Token  string          `json:"token,omitempty"`
	APIKey string          `json:"api_key,omitempty"`
	Args   json.RawMessage `json:"args"`
}

type stdioResponse struct {
	ID      string      `json:"id"`
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	*apierr.Envelope    `json:",omitempty"`
}

// Serve reads framed requests from in and writes framed responses to out
// until in reaches EOF or ctx is canceled. Each line is handled
// synchronously and in order, matching the teacher's single-connection
// request loop rather than HTTP's one-goroutine-per-request model.
func (s *StdioServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handleLine(ctx, line)
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

func (s *StdioServer) handleLine(ctx context.Context, line []byte) stdioResponse {
	var req stdioRequest
	if err := json.Unmarshal(line, &req); err != nil {
		apiErr := apierr.New(apierr.ValidationError, "malformed request frame").WithDetail("frame", "must be a JSON object")
		env := apiErr.ToEnvelope()
		return stdioResponse{Success: false, Envelope: &env}
	}

	caller, err := s.authenticate(ctx, req)
	if err != nil {
		apiErr, ok := apierr.As(err)
		if !ok {
			apiErr = apierr.New(apierr.Internal, "internal error").WithCause(err)
		}
		env := apiErr.ToEnvelope()
		return stdioResponse{ID: req.ID, Success: false, Envelope: &env}
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartSpan(ctx, observability.SpanToolCall,
			observability.AttributeTool.String(req.Tool),
			observability.AttributeAgentID.String(caller.AgentID),
		)
		defer span.End()
	}

	start := time.Now()
	result, err := s.registry.Dispatch(ctx, caller, req.Tool, req.Args)
	status := "success"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordToolCall(req.Tool, status, time.Since(start))
	}
	if err != nil {
		apiErr, ok := apierr.As(err)
		if !ok {
			apiErr = apierr.New(apierr.Internal, "internal error").WithCause(err)
		}
		env := apiErr.ToEnvelope()
		return stdioResponse{ID: req.ID, Success: false, Envelope: &env}
	}
	return stdioResponse{ID: req.ID, Success: true, Result: result}
}

// authenticate resolves the caller identity for one stdio request.
// authenticate_agent is exempted and checked against the bootstrap API
// key instead, matching bootstrapAuthenticate's HTTP behavior.
func (s *StdioServer) authenticate(ctx context.Context, req stdioRequest) (identity.Identity, error) {
	if req.Tool == "authenticate_agent" {
		if s.apiKey == "" || req.APIKey != s.apiKey {
			return identity.Identity{}, apierr.New(apierr.Unauthenticated, "missing or invalid bootstrap API key")
		}
		return identity.Identity{}, nil
	}
	if req.Token == "" {
		return identity.Identity{}, apierr.New(apierr.Unauthenticated, "missing bearer token")
	}
	return s.identity.Validate(ctx, req.Token)
}
