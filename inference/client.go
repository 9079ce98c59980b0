// Package inference 提供推理服务（嵌入 / 紧急分类 / 翻译）的 HTTP 客户端。
// 所有调用走熔断器包裹重试执行器的路径；嵌入结果带本地有界缓存。
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/cache"
	"github.com/swasthya-ai/sahayak/circuitbreaker"
	"github.com/swasthya-ai/sahayak/retry"
	"github.com/swasthya-ai/sahayak/types"
)

// Config 客户端配置
type Config struct {
	// BaseURL 推理服务地址
	BaseURL string
	// Timeout 单次请求超时
	Timeout time.Duration
	// EmbedModel 嵌入模型版本
	EmbedModel string
	// EmbedCacheSize 嵌入缓存容量
	EmbedCacheSize int
	// EmbedCacheTTL 嵌入缓存 TTL
	EmbedCacheTTL time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:8100",
		Timeout:        15 * time.Second,
		EmbedModel:     "paraphrase-multilingual-MiniLM-L12-v2",
		EmbedCacheSize: 2048,
		EmbedCacheTTL:  30 * time.Minute,
	}
}

// EmergencyPrediction 分类服务对单条文本的判定。
type EmergencyPrediction struct {
	IsEmergency     bool     `json:"is_emergency"`
	Confidence      float64  `json:"confidence"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// TranslationResult 翻译结果与检测到的源语言。
type TranslationResult struct {
	Text           string
	SourceLanguage types.Language
}

// Client 推理服务客户端
type Client struct {
	config     Config
	client     *http.Client
	breaker    *circuitbreaker.Breaker
	retrier    *retry.Executor
	embedCache *cache.BoundedCache[[]float64]
	logger     *zap.Logger
}

// NewClient 创建推理客户端。breaker 在最外层，retrier 在最内层：
// 熔断打开时直接拒绝，不消耗重试预算。
func NewClient(cfg Config, breaker *circuitbreaker.Breaker, retrier *retry.Executor, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8100"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.EmbedCacheSize <= 0 {
		cfg.EmbedCacheSize = 2048
	}
	if cfg.EmbedCacheTTL <= 0 {
		cfg.EmbedCacheTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config:     cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		retrier:    retrier,
		embedCache: cache.NewBounded[[]float64](cfg.EmbedCacheSize, cfg.EmbedCacheTTL, logger),
		logger:     logger.Named("inference"),
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
}

type classifyRequest struct {
	Texts    []string `json:"texts"`
	Language string   `json:"language,omitempty"`
}

type classifyResponse struct {
	Predictions []EmergencyPrediction `json:"predictions"`
}

type translateRequest struct {
	Texts          []string `json:"texts"`
	TargetLanguage string   `json:"target_language"`
}

type translateResponse struct {
	Translations      []string `json:"translations"`
	DetectedLanguages []string `json:"detected_languages"`
}

// Embed 批量生成嵌入向量。命中缓存的文本不再上送；
// 只有全部缺失的子集走一次上游调用。
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "no texts to embed")
	}

	result := make([][]float64, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if vec, ok := c.embedCache.Get(cache.NormalizeKey(t)); ok {
			result[i] = vec
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return result, nil
	}

	var resp embedResponse
	err := c.guarded(ctx, func(ctx context.Context) error {
		body, err := c.doRequest(ctx, http.MethodPost, "/embed", embedRequest{
			Texts: missing,
			Model: c.config.EmbedModel,
		})
		if err != nil {
			return err
		}
		return decodeResponse(body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(missing) {
		return nil, types.NewError(types.ErrUpstreamRejected,
			fmt.Sprintf("embedding count mismatch: sent %d got %d", len(missing), len(resp.Embeddings))).
			WithUpstream("inference")
	}

	for j, vec := range resp.Embeddings {
		result[missingIdx[j]] = vec
		c.embedCache.Set(cache.NormalizeKey(missing[j]), vec)
	}
	return result, nil
}

// EmbedOne 单条文本嵌入
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float64, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// ClassifyEmergency 批量紧急分类
func (c *Client) ClassifyEmergency(ctx context.Context, texts []string, lang types.Language) ([]EmergencyPrediction, error) {
	if len(texts) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "no texts to classify")
	}

	var resp classifyResponse
	err := c.guarded(ctx, func(ctx context.Context) error {
		body, err := c.doRequest(ctx, http.MethodPost, "/classify-emergency", classifyRequest{
			Texts:    texts,
			Language: string(lang),
		})
		if err != nil {
			return err
		}
		return decodeResponse(body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Predictions) != len(texts) {
		return nil, types.NewError(types.ErrUpstreamRejected,
			fmt.Sprintf("prediction count mismatch: sent %d got %d", len(texts), len(resp.Predictions))).
			WithUpstream("inference")
	}
	return resp.Predictions, nil
}

// Translate 批量翻译到目标语言，同时返回检测到的源语言。
func (c *Client) Translate(ctx context.Context, texts []string, target types.Language) ([]TranslationResult, error) {
	if len(texts) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "no texts to translate")
	}

	var resp translateResponse
	err := c.guarded(ctx, func(ctx context.Context) error {
		body, err := c.doRequest(ctx, http.MethodPost, "/translate", translateRequest{
			Texts:          texts,
			TargetLanguage: string(target),
		})
		if err != nil {
			return err
		}
		return decodeResponse(body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Translations) != len(texts) {
		return nil, types.NewError(types.ErrUpstreamRejected,
			fmt.Sprintf("translation count mismatch: sent %d got %d", len(texts), len(resp.Translations))).
			WithUpstream("inference")
	}

	results := make([]TranslationResult, len(resp.Translations))
	for i, t := range resp.Translations {
		results[i].Text = t
		if i < len(resp.DetectedLanguages) {
			results[i].SourceLanguage = types.Language(resp.DetectedLanguages[i])
		}
	}
	return results, nil
}

// Health 探活。任何错误都视为不健康。
func (c *Client) Health(ctx context.Context) bool {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err == nil
}

// Breaker 暴露底层熔断器（用于状态上报）
func (c *Client) Breaker() *circuitbreaker.Breaker { return c.breaker }

// guarded 按 熔断 -> 重试 的顺序包裹一次调用。
// 两者均可为空（测试场景下直接调用）。
func (c *Client) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	inner := fn
	if c.retrier != nil {
		inner = func(ctx context.Context) error {
			return c.retrier.Run(ctx, fn)
		}
	}
	if c.breaker != nil {
		return c.breaker.Execute(ctx, inner)
	}
	return inner(ctx)
}

func decodeResponse(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return types.NewError(types.ErrUpstreamRejected, "malformed inference response").
			WithCause(err).WithUpstream("inference")
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method,
		strings.TrimRight(c.config.BaseURL, "/")+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).
			WithUpstream("inference").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "failed to read response").
			WithRetryable(true).WithUpstream("inference").WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(respBody), "inference")
	}
	return respBody, nil
}

// mapHTTPError 将 HTTP 状态映射为 types.Error。
func mapHTTPError(status int, msg, upstream string) *types.Error {
	code := types.ErrUpstreamRejected
	retryable := false
	switch {
	case status == http.StatusTooManyRequests:
		code = types.ErrUpstreamError
		retryable = true
	case status == http.StatusGatewayTimeout:
		code = types.ErrUpstreamTimeout
		retryable = true
	case status >= 500:
		code = types.ErrUpstreamError
		retryable = true
	}
	return types.NewError(code, msg).
		WithHTTPStatus(status).WithRetryable(retryable).WithUpstream(upstream)
}
