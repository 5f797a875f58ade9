package surface

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/shared-context/mcp-server/internal/apierr"
	"github.com/shared-context/mcp-server/internal/identity"
	"github.com/shared-context/mcp-server/internal/memory"
	"github.com/shared-context/mcp-server/internal/message"
	"github.com/shared-context/mcp-server/internal/notify"
	"github.com/shared-context/mcp-server/internal/observability"
	"github.com/shared-context/mcp-server/internal/ratelimit"
	"github.com/shared-context/mcp-server/internal/session"
)

// Server wires the Registry to an HTTP+WebSocket surface, in the
// middleware/route-grouping style of the teacher's cmd/web router.
type Server struct {
	registry  *Registry
	identity  *identity.Service
	sessions  *session.Engine
	hub       *notify.Hub
	metrics   *observability.Metrics
	tracer    *observability.TracerProvider
	log       *logrus.Logger
	limiter   *ratelimit.Limiter
	apiKey    string
	upgrader  websocket.Upgrader

	engine *gin.Engine
}

// NewServer builds the gin engine and registers every route. limiter may
// be nil, in which case every caller is allowed through unthrottled (the
// CI/offline configuration, which never points at a Redis instance).
// apiKey is the bootstrap credential (Config.APIKey / "API_KEY") that gates
// the one route reachable before an agent holds a token: authenticate_agent.
// tracer may be nil; when set (OTEL_TRACING_ENABLED=true) every tool
// dispatch is wrapped in a span.
func NewServer(registry *Registry, identitySvc *identity.Service, sessions *session.Engine, hub *notify.Hub, metrics *observability.Metrics, limiter *ratelimit.Limiter, apiKey string, tracer *observability.TracerProvider, log *logrus.Logger) *Server {
	s := &Server{
		registry: registry,
		identity: identitySvc,
		sessions: sessions,
		hub:      hub,
		metrics:  metrics,
		tracer:   tracer,
		limiter:  limiter,
		apiKey:   apiKey,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	// authenticate_agent is the one tool an agent with no token yet must be
	// able to reach, so it is exempted from the bearer-token middleware
	// below and gated on the bootstrap API key instead.
	bootstrap := router.Group("/api/v1")
	bootstrap.Use(s.bootstrapAuthenticate())
	{
		bootstrap.POST("/tools/authenticate_agent", s.handleAuthenticateAgent)
	}

	api := router.Group("/api/v1")
	api.Use(s.authenticate())
	api.Use(s.rateLimit())
	{
		api.POST("/tools/:name", s.handleTool)
		api.GET("/resources/session/:id", s.handleSessionResource)
		api.GET("/resources/agent/:id/memory", s.handleAgentMemoryResource)
		api.GET("/ws", s.handleWebSocket)
	}

	s.engine = router
	return s
}

// Handler exposes the underlying http.Handler for use with an http.Server
// (and for tests via httptest).
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("request handled")
	}
}

const identityContextKey = "mcp.identity"

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(c, apierr.New(apierr.Unauthenticated, "missing bearer token"))
			c.Abort()
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		id, err := s.identity.Validate(c.Request.Context(), token)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(identityContextKey, id)
		c.Next()
	}
}

// bootstrapAuthenticate gates the authenticate_agent route on a shared
// X-API-Key header matching Config.APIKey, since a caller with no token
// yet has no bearer credential to present.
func (s *Server) bootstrapAuthenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiKey == "" || c.GetHeader("X-API-Key") != s.apiKey {
			writeError(c, apierr.New(apierr.Unauthenticated, "missing or invalid bootstrap API key"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// rateLimit throttles each authenticated agent independently once a
// Limiter is configured; with none, every request passes through.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		caller := callerFrom(c)
		allowed, retryAfter, err := s.limiter.Allow(c.Request.Context(), caller.AgentID)
		if err != nil {
			s.log.WithError(err).Warn("rate limiter unavailable, allowing request through")
			c.Next()
			return
		}
		if !allowed {
			writeError(c, apierr.New(apierr.RateLimited, "rate limit exceeded").WithRetryAfter(retryAfter))
			c.Abort()
			return
		}
		c.Next()
	}
}

func callerFrom(c *gin.Context) identity.Identity {
	v, _ := c.Get(identityContextKey)
	id, _ := v.(identity.Identity)
	return id
}

func writeError(c *gin.Context, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.New(apierr.Internal, "internal error").WithCause(err)
	}
	env := apiErr.ToEnvelope()
	status := statusForCode(apiErr.Code)
	c.JSON(status, env)
}

func statusForCode(code apierr.Code) int {
	switch code {
	case apierr.Unauthenticated:
		return http.StatusUnauthorized
	case apierr.PermissionDenied:
		return http.StatusForbidden
	case apierr.ValidationError:
		return http.StatusBadRequest
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.Conflict:
		return http.StatusConflict
	case apierr.StorageBusy, apierr.RateLimited:
		return http.StatusTooManyRequests
	case apierr.StorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleTool(c *gin.Context) {
	s.dispatchTool(c, c.Param("name"), callerFrom(c))
}

// handleAuthenticateAgent serves the bootstrap route: the caller has no
// token yet, so it dispatches with a zero Identity (authenticate_agent's
// handler never reads one).
func (s *Server) handleAuthenticateAgent(c *gin.Context) {
	s.dispatchTool(c, "authenticate_agent", identity.Identity{})
}

func (s *Server) dispatchTool(c *gin.Context, name string, caller identity.Identity) {
	raw, err := c.GetRawData()
	if err != nil {
		writeError(c, apierr.New(apierr.ValidationError, "could not read request body"))
		return
	}

	ctx := c.Request.Context()
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartSpan(ctx, observability.SpanToolCall,
			observability.AttributeTool.String(name),
			observability.AttributeAgentID.String(caller.AgentID),
		)
		defer span.End()
	}

	start := time.Now()
	result, err := s.registry.Dispatch(ctx, caller, name, json.RawMessage(raw))
	status := "success"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordToolCall(name, status, time.Since(start))
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (s *Server) handleSessionResource(c *gin.Context) {
	id := c.Param("id")
	caller := callerFrom(c)

	sess, err := s.sessions.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	h, ok := s.registry.Lookup("get_messages")
	if !ok {
		writeError(c, apierr.New(apierr.Internal, "get_messages handler missing"))
		return
	}
	args, _ := json.Marshal(getMessagesRequest{SessionID: id, Limit: 200})
	result, err := h(c.Request.Context(), caller, args)
	if err != nil {
		writeError(c, err)
		return
	}
	page, _ := result.(*message.Page)
	var messages []message.Message
	if page != nil {
		messages = page.Messages
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": &SessionSnapshot{Session: sess, Messages: messages}})
}

func (s *Server) handleAgentMemoryResource(c *gin.Context) {
	agentID := c.Param("id")
	caller := callerFrom(c)
	if caller.AgentID != agentID && !caller.IsAdmin() {
		writeError(c, apierr.New(apierr.PermissionDenied, "may only read your own memory"))
		return
	}

	h, ok := s.registry.Lookup("list_memory")
	if !ok {
		writeError(c, apierr.New(apierr.Internal, "list_memory handler missing"))
		return
	}
	result, err := h(c.Request.Context(), caller, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	entries, _ := result.([]memory.Entry)
	c.JSON(http.StatusOK, gin.H{"success": true, "result": entries})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	uri := c.Query("uri")
	if uri == "" {
		writeError(c, apierr.New(apierr.ValidationError, "uri query parameter is required"))
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Error("websocket upgrade failed")
		return
	}

	sink := notify.NewWebsocketSink(conn, s.log)
	if s.metrics != nil {
		s.metrics.IncWebsocketConnections(1)
	}
	unsubscribe := s.hub.Subscribe(uri, sink)
	go func() {
		for !sink.Closed() {
			time.Sleep(time.Second)
		}
		unsubscribe()
		if s.metrics != nil {
			s.metrics.IncWebsocketConnections(-1)
		}
	}()
}
