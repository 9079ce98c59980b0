// =============================================================================
// Sahayak 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Inference: DefaultInferenceConfig(),
		Generator: DefaultGeneratorConfig(),
		DocStore:  DefaultDocStoreConfig(),
		Cache:     DefaultCacheConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Breaker:   DefaultBreakerConfig(),
		Retry:     DefaultRetryConfig(),
		Router:    DefaultRouterConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Rerank:    DefaultRerankConfig(),
		Chunking:  DefaultChunkingConfig(),
		Agent:     DefaultAgentConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		IPRatePerSecond: 20,
		IPRateBurst:     40,
		AllowedOrigins:  nil,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		EnableCaller: true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  false,
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		TTL:      time.Hour,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Path:            "sahayak.db",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultInferenceConfig 返回默认推理服务配置
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		BaseURL:        "http://localhost:8000",
		Timeout:        10 * time.Second,
		EmbedModel:     "default",
		EmbedCacheSize: 2000,
		EmbedCacheTTL:  30 * time.Minute,
	}
}

// DefaultGeneratorConfig 返回默认生成模型配置
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		BaseURL:       "http://localhost:8001",
		Model:         "sahayak-chat",
		Timeout:       30 * time.Second,
		Temperature:   0.2,
		MaxTokens:     1024,
		ContextTokens: 1200,
	}
}

// DefaultDocStoreConfig 返回默认文档存储配置
func DefaultDocStoreConfig() DocStoreConfig {
	return DocStoreConfig{
		BaseURL: "http://localhost:8002",
		Timeout: 5 * time.Second,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		AnswerCapacity: 1000,
		AnswerTTL:      time.Hour,
		SweepInterval:  5 * time.Minute,
	}
}

// DefaultRateLimitConfig 返回默认限流配置
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests:   10,
		Window:        time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// DefaultBreakerConfig 返回默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		MonitorWindow:       time.Minute,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxAttempts: 2,
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// DefaultRouterConfig 返回默认路由配置
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		SignalPoints:       2,
		AgentThreshold:     5,
		LengthThreshold:    100,
		EntityHitThreshold: 2,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:          5,
		MinSimilarity: 0.45,
		KeywordBoost:  0.05,
	}
}

// DefaultRerankConfig 返回默认重排序配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		SourceWeights: map[string]float64{
			"who":        1.0,
			"mohfw":      1.0, // 卫生和家庭福利部
			"icmr":       0.95,
			"unicef":     0.9,
			"state_gov":  0.85,
			"ngo":        0.7,
			"community":  0.55,
		},
		DefaultSourceWeight: 0.5,
		LanguageMatchBoost:  0.1,
		MaxPerCategory:      2,
	}
}

// DefaultChunkingConfig 返回默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		MaxTokens:     512,
		OverlapTokens: 64,
	}
}

// DefaultAgentConfig 返回默认 Agent 路径配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxToolCalls: 4,
		Deadline:     20 * time.Second,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "sahayak",
		SampleRate:   0.1,
	}
}
