// Package observability carries the Prometheus metrics registry and the
// optional OpenTelemetry tracer, adapted from the teacher's
// pkg/metrics.MetricsCollector (there a flat collector of auth/authz/token
// metrics over global package vars) reworked as an instance-scoped
// collector keyed to this server's tool calls, storage, cache, and
// notification concerns instead of auth attempts.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the process-wide collector, constructed once at startup and
// handed to the HTTP and stdio surfaces, which record tool calls and
// WebSocket connections through it.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls      *prometheus.CounterVec
	toolLatency    *prometheus.HistogramVec
	storageOps     *prometheus.CounterVec
	storageLatency *prometheus.HistogramVec
	cacheOps       *prometheus.CounterVec
	activeTokens   prometheus.Gauge
	wsConnections  prometheus.Gauge
	notifyDrops    *prometheus.CounterVec
}

// New builds a Metrics collector and registers it on a fresh registry, so
// tests can construct independent instances without colliding on the
// global default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_tool_calls_total",
			Help: "Total number of tool invocations.",
		}, []string{"tool", "status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_tool_duration_seconds",
			Help:    "Tool invocation duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"tool"}),
		storageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_storage_operations_total",
			Help: "Total number of storage backend operations.",
		}, []string{"operation", "status"}),
		storageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_storage_duration_seconds",
			Help:    "Storage operation duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"operation"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_cache_operations_total",
			Help: "Total number of cache get/set operations by outcome.",
		}, []string{"class", "outcome"}),
		activeTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_active_tokens",
			Help: "Number of currently active issued tokens.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_websocket_connections",
			Help: "Number of currently open WebSocket subscriber connections.",
		}),
		notifyDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_notification_drops_total",
			Help: "Total number of dropped or overflowed notification sends.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.toolCalls, m.toolLatency,
		m.storageOps, m.storageLatency,
		m.cacheOps, m.activeTokens,
		m.wsConnections, m.notifyDrops,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordToolCall increments the call counter and observes latency.
func (m *Metrics) RecordToolCall(tool, status string, d time.Duration) {
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordStorageOp increments the storage counter and observes latency.
func (m *Metrics) RecordStorageOp(operation, status string, d time.Duration) {
	m.storageOps.WithLabelValues(operation, status).Inc()
	m.storageLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordCacheOp increments a cache hit/miss/set counter.
func (m *Metrics) RecordCacheOp(class, outcome string) {
	m.cacheOps.WithLabelValues(class, outcome).Inc()
}

// SetActiveTokens reports the current live token count.
func (m *Metrics) SetActiveTokens(n float64) { m.activeTokens.Set(n) }

// IncWebsocketConnections adjusts the open-connection gauge by delta.
func (m *Metrics) IncWebsocketConnections(delta float64) { m.wsConnections.Add(delta) }

// RecordNotifyDrop increments the drop counter for reason ("overflow",
// "closed", "drain_timeout").
func (m *Metrics) RecordNotifyDrop(reason string) {
	m.notifyDrops.WithLabelValues(reason).Inc()
}

// Timer measures a single operation's duration against one of the
// collector's histograms, mirroring the teacher's pkg/metrics.Timer.
type Timer struct {
	start time.Time
}

// StartTimer begins timing an operation.
func StartTimer() Timer { return Timer{start: time.Now()} }

// Elapsed returns the duration since StartTimer was called.
func (t Timer) Elapsed() time.Duration { return time.Since(t.start) }
