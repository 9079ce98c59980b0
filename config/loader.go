// =============================================================================
// Sahayak 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("SAHAYAK").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是 Sahayak 管线服务的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Redis 答案缓存二级存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 交互日志/机构目录数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Inference 推理服务（嵌入/分类/翻译）配置
	Inference InferenceConfig `yaml:"inference" env:"INFERENCE"`

	// Generator 生成模型配置
	Generator GeneratorConfig `yaml:"generator" env:"GENERATOR"`

	// DocStore 文档存储配置
	DocStore DocStoreConfig `yaml:"doc_store" env:"DOC_STORE"`

	// Cache 本地有界缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// RateLimit 每标识滑动窗口限流配置
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`

	// Breaker 熔断器配置
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`

	// Retry 重试策略配置
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Router 复杂度路由配置
	Router RouterConfig `yaml:"router" env:"ROUTER"`

	// Retrieval 检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Rerank 重排序配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Chunking 分块配置（离线摄取侧）
	Chunking ChunkingConfig `yaml:"chunking" env:"CHUNKING"`

	// Agent Agent 路径配置
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Webhook 层每 IP 限速（请求/秒）
	IPRatePerSecond float64 `yaml:"ip_rate_per_second" env:"IP_RATE_PER_SECOND"`
	// Webhook 层每 IP 突发量
	IPRateBurst int `yaml:"ip_rate_burst" env:"IP_RATE_BURST"`
	// 允许的跨域来源
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// RedisConfig Redis 配置（答案缓存二级存储，可选）
type RedisConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 二级缓存 TTL
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	// sqlite 文件路径（driver=sqlite 时生效）
	Path string `yaml:"path" env:"PATH"`
	// postgres DSN（driver=postgres 时生效）
	DSN string `yaml:"dsn" env:"DSN"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// InferenceConfig 推理服务配置
type InferenceConfig struct {
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 嵌入模型版本
	EmbedModel string `yaml:"embed_model" env:"EMBED_MODEL"`
	// 嵌入缓存容量
	EmbedCacheSize int `yaml:"embed_cache_size" env:"EMBED_CACHE_SIZE"`
	// 嵌入缓存 TTL
	EmbedCacheTTL time.Duration `yaml:"embed_cache_ttl" env:"EMBED_CACHE_TTL"`
}

// GeneratorConfig 生成模型配置
type GeneratorConfig struct {
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 生成温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大生成 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 提示词中检索段落的 token 估算预算
	ContextTokens int `yaml:"context_tokens" env:"CONTEXT_TOKENS"`
}

// DocStoreConfig 文档存储配置
type DocStoreConfig struct {
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CacheConfig 本地有界缓存配置
type CacheConfig struct {
	// 答案缓存容量
	AnswerCapacity int `yaml:"answer_capacity" env:"ANSWER_CAPACITY"`
	// 答案缓存 TTL
	AnswerTTL time.Duration `yaml:"answer_ttl" env:"ANSWER_TTL"`
	// 后台清理间隔
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// RateLimitConfig 滑动窗口限流配置
type RateLimitConfig struct {
	// 窗口内最大请求数
	MaxRequests int `yaml:"max_requests" env:"MAX_REQUESTS"`
	// 窗口时长
	Window time.Duration `yaml:"window" env:"WINDOW"`
	// 后台清理间隔
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// 滚动窗口内失败阈值
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 失败统计滚动窗口
	MonitorWindow time.Duration `yaml:"monitor_window" env:"MONITOR_WINDOW"`
	// Open → HalfOpen 等待时间
	ResetTimeout time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
	// 半开状态恢复所需成功次数
	HalfOpenMaxAttempts int `yaml:"half_open_max_attempts" env:"HALF_OPEN_MAX_ATTEMPTS"`
}

// RetryConfig 重试策略配置
type RetryConfig struct {
	// 最大尝试次数（含首次）
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 初始延迟
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 最大延迟
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 延迟倍增因子
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
}

// RouterConfig 复杂度路由配置。
// 各增量分值与阈值是手调常量，按配置对待，不做算法寻优。
type RouterConfig struct {
	// 每个信号的增量分值
	SignalPoints int `yaml:"signal_points" env:"SIGNAL_POINTS"`
	// Agent 路径阈值（score >= 阈值走 Agent）
	AgentThreshold int `yaml:"agent_threshold" env:"AGENT_THRESHOLD"`
	// 长查询字符数阈值
	LengthThreshold int `yaml:"length_threshold" env:"LENGTH_THRESHOLD"`
	// 领域实体关键词命中数阈值
	EntityHitThreshold int `yaml:"entity_hit_threshold" env:"ENTITY_HIT_THRESHOLD"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	// 候选数量上限
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 相似度下限
	MinSimilarity float64 `yaml:"min_similarity" env:"MIN_SIMILARITY"`
	// 关键词命中加成（每个命中关键词）
	KeywordBoost float64 `yaml:"keyword_boost" env:"KEYWORD_BOOST"`
}

// RerankConfig 重排序配置
type RerankConfig struct {
	// 来源可信度权重表
	SourceWeights map[string]float64 `yaml:"source_weights" env:"-"`
	// 未知来源的保守默认权重
	DefaultSourceWeight float64 `yaml:"default_source_weight" env:"DEFAULT_SOURCE_WEIGHT"`
	// 语言匹配加成
	LanguageMatchBoost float64 `yaml:"language_match_boost" env:"LANGUAGE_MATCH_BOOST"`
	// 每类别最大文档数
	MaxPerCategory int `yaml:"max_per_category" env:"MAX_PER_CATEGORY"`
}

// ChunkingConfig 分块配置
type ChunkingConfig struct {
	// 块大小（估算 tokens）
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 重叠大小（估算 tokens）
	OverlapTokens int `yaml:"overlap_tokens" env:"OVERLAP_TOKENS"`
}

// AgentConfig Agent 路径配置
type AgentConfig struct {
	// 工具调用次数硬上限
	MaxToolCalls int `yaml:"max_tool_calls" env:"MAX_TOOL_CALLS"`
	// 墙钟时间硬上限
	Deadline time.Duration `yaml:"deadline" env:"DEADLINE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SAHAYAK",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
