// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 管线指标
	pipelineRequestsTotal   *prometheus.CounterVec
	pipelineDuration        *prometheus.HistogramVec
	routerDecisionsTotal    *prometheus.CounterVec
	emergencyOverridesTotal prometheus.Counter

	// 上游指标
	upstreamRequestsTotal  *prometheus.CounterVec
	upstreamDuration       *prometheus.HistogramVec
	breakerTransitionsTotal *prometheus.CounterVec
	retryAttemptsTotal     *prometheus.CounterVec

	// 缓存与限流指标
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	rateLimitRejections *prometheus.CounterVec

	// 检索指标
	retrievalCandidates *prometheus.HistogramVec
	retrievalEmpty      prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
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

	// 管线指标
	c.pipelineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_requests_total",
			Help:      "Total number of pipeline executions",
		},
		[]string{"path", "status"}, // path: fast, agent; status: ok, degraded, error
	)

	c.pipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end pipeline duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"path"},
	)

	c.routerDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_decisions_total",
			Help:      "Total number of complexity router decisions",
		},
		[]string{"path"}, // fast, agent
	)

	c.emergencyOverridesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_overrides_total",
			Help:      "Total number of emergency keyword overrides",
		},
	)

	// 上游指标
	c.upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of upstream service requests",
		},
		[]string{"upstream", "status"},
	)

	c.upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"upstream"},
	)

	c.breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"breaker", "from_state", "to_state"},
	)

	c.retryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of retry attempts after the first call",
		},
		[]string{"upstream"},
	)

	// 缓存与限流指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"}, // answer, embedding
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of rate limited requests",
		},
		[]string{"channel"},
	)

	// 检索指标
	c.retrievalCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_candidates",
			Help:      "Number of candidates returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"mode"}, // vector, hybrid
	)

	c.retrievalEmpty = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_empty_total",
			Help:      "Total number of retrievals that produced no candidates",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPipeline 记录一次管线执行
func (c *Collector) RecordPipeline(path, status string, duration time.Duration) {
	c.pipelineRequestsTotal.WithLabelValues(path, status).Inc()
	c.pipelineDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordRouterDecision 记录路由决策
func (c *Collector) RecordRouterDecision(agentPath bool, emergency bool) {
	path := "fast"
	if agentPath {
		path = "agent"
	}
	c.routerDecisionsTotal.WithLabelValues(path).Inc()
	if emergency {
		c.emergencyOverridesTotal.Inc()
	}
}

// RecordUpstreamRequest 记录一次上游调用
func (c *Collector) RecordUpstreamRequest(upstream, status string, duration time.Duration) {
	c.upstreamRequestsTotal.WithLabelValues(upstream, status).Inc()
	c.upstreamDuration.WithLabelValues(upstream).Observe(duration.Seconds())
}

// RecordBreakerTransition 记录熔断器状态转换
func (c *Collector) RecordBreakerTransition(breaker, fromState, toState string) {
	c.breakerTransitionsTotal.WithLabelValues(breaker, fromState, toState).Inc()
}

// RecordRetryAttempt 记录一次重试
func (c *Collector) RecordRetryAttempt(upstream string) {
	c.retryAttemptsTotal.WithLabelValues(upstream).Inc()
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordRateLimitRejection 记录限流拒绝
func (c *Collector) RecordRateLimitRejection(channel string) {
	c.rateLimitRejections.WithLabelValues(channel).Inc()
}

// RecordRetrieval 记录一次检索的候选数
func (c *Collector) RecordRetrieval(mode string, candidates int) {
	c.retrievalCandidates.WithLabelValues(mode).Observe(float64(candidates))
	if candidates == 0 {
		c.retrievalEmpty.Inc()
	}
}

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
