package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/cache"
	"github.com/swasthya-ai/sahayak/circuitbreaker"
	"github.com/swasthya-ai/sahayak/config"
	"github.com/swasthya-ai/sahayak/docstore"
	"github.com/swasthya-ai/sahayak/generator"
	"github.com/swasthya-ai/sahayak/inference"
	"github.com/swasthya-ai/sahayak/internal/metrics"
	"github.com/swasthya-ai/sahayak/internal/server"
	"github.com/swasthya-ai/sahayak/internal/telemetry"
	"github.com/swasthya-ai/sahayak/persistence"
	"github.com/swasthya-ai/sahayak/pipeline"
	"github.com/swasthya-ai/sahayak/ratelimit"
	"github.com/swasthya-ai/sahayak/retrieval"
	"github.com/swasthya-ai/sahayak/retry"
	"github.com/swasthya-ai/sahayak/router"
	"github.com/swasthya-ai/sahayak/types"
)

// Server Swasthya Sahayak 主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector    *metrics.Collector
	orchestrator *pipeline.Orchestrator
	infClient    *inference.Client
	store        *persistence.Store
	rdb          *redis.Client
	otel         *telemetry.Providers

	breakers map[string]*circuitbreaker.Breaker

	// 后台清理 goroutine 生命周期
	sweepCancel context.CancelFunc
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers, store *persistence.Store) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		otel:     otelProviders,
		store:    store,
		breakers: make(map[string]*circuitbreaker.Breaker),
	}
}

// Start 组装管线并启动 HTTP 与 Metrics 服务
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("sahayak", s.logger)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	s.sweepCancel = sweepCancel

	// 限流器：按来电标识的滑动窗口，后台独立清理
	limiter := ratelimit.NewSlidingLimiter(ratelimit.Config{
		MaxRequests: s.cfg.RateLimit.MaxRequests,
		Window:      s.cfg.RateLimit.Window,
	}, s.logger)
	limiter.StartSweeper(sweepCtx, s.cfg.RateLimit.SweepInterval)

	// 答案缓存：本地有界缓存 + 可选 Redis 二级
	local := cache.NewBounded[*types.Answer](s.cfg.Cache.AnswerCapacity, s.cfg.Cache.AnswerTTL, s.logger)
	local.StartSweeper(sweepCtx, s.cfg.Cache.SweepInterval)
	if s.cfg.Redis.Enabled {
		s.rdb = redis.NewClient(&redis.Options{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
		})
	}
	answers := cache.NewAnswerCache(local, s.rdb, s.cfg.Redis.TTL, s.logger)

	// 每个外部依赖一个熔断器实例
	infBreaker := s.newBreaker("inference")
	genBreaker := s.newBreaker("generator")
	storeBreaker := s.newBreaker("docstore")

	// 上游客户端
	s.infClient = inference.NewClient(inference.Config{
		BaseURL:        s.cfg.Inference.BaseURL,
		Timeout:        s.cfg.Inference.Timeout,
		EmbedModel:     s.cfg.Inference.EmbedModel,
		EmbedCacheSize: s.cfg.Inference.EmbedCacheSize,
		EmbedCacheTTL:  s.cfg.Inference.EmbedCacheTTL,
	}, infBreaker, s.newRetrier("inference"), s.logger)

	genClient := generator.NewClient(generator.Config{
		BaseURL:     s.cfg.Generator.BaseURL,
		APIKey:      s.cfg.Generator.APIKey,
		Model:       s.cfg.Generator.Model,
		Timeout:     s.cfg.Generator.Timeout,
		Temperature: s.cfg.Generator.Temperature,
		MaxTokens:   s.cfg.Generator.MaxTokens,
	}, genBreaker, s.newRetrier("generator"), s.logger)

	storeClient := docstore.NewClient(docstore.Config{
		BaseURL: s.cfg.DocStore.BaseURL,
		APIKey:  s.cfg.DocStore.APIKey,
		Timeout: s.cfg.DocStore.Timeout,
	})
	guardedStore := docstore.NewGuarded(storeClient, storeBreaker, s.newRetrier("docstore"))

	retriever := retrieval.NewRetriever(guardedStore, retrieval.Config{
		TopK:          s.cfg.Retrieval.TopK,
		MinSimilarity: s.cfg.Retrieval.MinSimilarity,
		KeywordBoost:  s.cfg.Retrieval.KeywordBoost,
	}, s.logger)

	reranker := retrieval.NewReranker(retrieval.RerankConfig{
		SourceWeights:       s.cfg.Rerank.SourceWeights,
		DefaultSourceWeight: s.cfg.Rerank.DefaultSourceWeight,
		LanguageMatchBoost:  s.cfg.Rerank.LanguageMatchBoost,
	}, s.logger)

	complexityRouter := router.New(router.Config{
		SignalPoints:       s.cfg.Router.SignalPoints,
		AgentThreshold:     s.cfg.Router.AgentThreshold,
		LengthThreshold:    s.cfg.Router.LengthThreshold,
		EntityHitThreshold: s.cfg.Router.EntityHitThreshold,
	}, s.logger)

	deps := pipeline.Deps{
		Limiter:   limiter,
		Router:    complexityRouter,
		Answers:   answers,
		Inference: s.infClient,
		Generator: genClient,
		Retriever: retriever,
		Reranker:  reranker,
		Metrics:   s.collector,
	}
	if s.store != nil {
		deps.Store = s.store
	}
	s.orchestrator = pipeline.New(pipeline.Config{
		MaxToolCalls:     s.cfg.Agent.MaxToolCalls,
		AgentDeadline:    s.cfg.Agent.Deadline,
		MaxPerCategory:   s.cfg.Rerank.MaxPerCategory,
		MaxContextTokens: s.cfg.Generator.ContextTokens,
	}, deps, s.logger)

	if err := s.startHTTPServer(sweepCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// newRetrier 创建命名重试执行器，重试次数进指标
func (s *Server) newRetrier(name string) *retry.Executor {
	return retry.NewExecutor(retry.Policy{
		MaxAttempts:  s.cfg.Retry.MaxAttempts,
		InitialDelay: s.cfg.Retry.InitialDelay,
		MaxDelay:     s.cfg.Retry.MaxDelay,
		Multiplier:   s.cfg.Retry.Multiplier,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.collector.RecordRetryAttempt(name)
		},
	}, s.logger)
}

// newBreaker 创建命名熔断器，状态转换进指标
func (s *Server) newBreaker(name string) *circuitbreaker.Breaker {
	b := circuitbreaker.New(name, circuitbreaker.Config{
		FailureThreshold:    s.cfg.Breaker.FailureThreshold,
		MonitorWindow:       s.cfg.Breaker.MonitorWindow,
		ResetTimeout:        s.cfg.Breaker.ResetTimeout,
		HalfOpenMaxAttempts: s.cfg.Breaker.HalfOpenMaxAttempts,
		OnStateChange: func(from, to circuitbreaker.State) {
			s.collector.RecordBreakerTransition(name, from.String(), to.String())
		},
	}, s.logger)
	s.breakers[name] = b
	return b
}

// startHTTPServer 注册路由并启动业务端口
func (s *Server) startHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/v1/query", s.handleQuery)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.AllowedOrigins),
		IPRateLimiter(ctx, s.cfg.Server.IPRatePerSecond, s.cfg.Server.IPRateBurst, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.httpManager.Start()
}

// startMetricsServer 启动独立的 Prometheus 端口
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.metricsManager.Start()
}

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有组件
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.sweepCancel != nil {
		s.sweepCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
