// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Backend 调用指标
	backendRequestsTotal   *prometheus.CounterVec
	backendRequestDuration *prometheus.HistogramVec
	backendAttempts        *prometheus.HistogramVec
	backendRejections      *prometheus.CounterVec
	backendReframes        *prometheus.CounterVec

	// Round 指标
	roundsTotal    *prometheus.CounterVec
	roundDuration  prometheus.Histogram
	roundResponses *prometheus.CounterVec

	// Session 指标
	sessionsActive  prometheus.Gauge
	sessionEvents   *prometheus.CounterVec
	sessionsStopped *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Backend 指标
	c.backendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_invocations_total",
			Help:      "Total number of backend invocations",
		},
		[]string{"provider", "model", "status"},
	)

	c.backendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_invocation_duration_seconds",
			Help:      "Backend invocation duration in seconds, retries included",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	c.backendAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_attempts",
			Help:      "Attempts used per backend invocation",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
		[]string{"provider"},
	)

	c.backendRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_rejections_total",
			Help:      "Backend replies rejected by content validation",
		},
		[]string{"provider", "reason"},
	)

	c.backendReframes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_reframes_total",
			Help:      "Academic reframing attempts after a refusal",
		},
		[]string{"provider", "outcome"},
	)

	// Round 指标
	c.roundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of synchronous rounds",
		},
		[]string{"directive"},
	)

	c.roundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Synchronous round duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	c.roundResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_responses_total",
			Help:      "Per-provider round outcomes",
		},
		[]string{"provider", "outcome"},
	)

	// Session 指标
	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of running streaming sessions",
		},
	)

	c.sessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Events emitted by streaming sessions",
		},
		[]string{"type"},
	)

	c.sessionsStopped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_stopped_total",
			Help:      "Streaming sessions stopped, by reason",
		},
		[]string{"reason"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 Backend 指标记录
// =============================================================================

// RecordBackendInvocation 记录一次完整的 Backend 调用（含重试）
func (c *Collector) RecordBackendInvocation(provider, model, status string, attempts int, duration time.Duration) {
	if c == nil {
		return
	}
	c.backendRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.backendRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.backendAttempts.WithLabelValues(provider).Observe(float64(attempts))
}

// RecordBackendRejection 记录内容校验拒绝
func (c *Collector) RecordBackendRejection(provider, reason string) {
	if c == nil {
		return
	}
	c.backendRejections.WithLabelValues(provider, reason).Inc()
}

// RecordBackendReframe 记录学术重构尝试，outcome 为 accepted / rejected / failed
func (c *Collector) RecordBackendReframe(provider, outcome string) {
	if c == nil {
		return
	}
	c.backendReframes.WithLabelValues(provider, outcome).Inc()
}

// =============================================================================
// 🔁 Round / Session 指标记录
// =============================================================================

// RecordRound 记录一次同步轮次
func (c *Collector) RecordRound(directive string, duration time.Duration) {
	if c == nil {
		return
	}
	c.roundsTotal.WithLabelValues(directive).Inc()
	c.roundDuration.Observe(duration.Seconds())
}

// RecordRoundResponse 记录单个 Provider 在轮次中的结果，outcome 为 ok / error
func (c *Collector) RecordRoundResponse(provider, outcome string) {
	if c == nil {
		return
	}
	c.roundResponses.WithLabelValues(provider, outcome).Inc()
}

// SessionStarted 活跃会话 +1
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

// SessionStopped 活跃会话 -1 并记录结束原因
func (c *Collector) SessionStopped(reason string) {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
	c.sessionsStopped.WithLabelValues(reason).Inc()
}

// RecordSessionEvent 记录流式会话发出的事件
func (c *Collector) RecordSessionEvent(eventType string) {
	if c == nil {
		return
	}
	c.sessionEvents.WithLabelValues(eventType).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
