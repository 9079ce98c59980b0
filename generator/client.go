// Package generator 提供生成模型的 OpenAI 兼容客户端与提示构造。
package generator

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

	"github.com/swasthya-ai/sahayak/circuitbreaker"
	"github.com/swasthya-ai/sahayak/retry"
	"github.com/swasthya-ai/sahayak/types"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall 模型发起的一次工具调用
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSchema 暴露给模型的工具定义
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// Message 对话消息
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // 工具返回时标识对应调用
}

// Request 一次生成请求
type Request struct {
	Messages    []Message
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int
}

// Response 一次生成响应
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
}

// Config 客户端配置
type Config struct {
	// BaseURL 生成服务地址
	BaseURL string
	// APIKey 可选的访问令牌
	APIKey string
	// Model 模型名称
	Model string
	// Timeout 单次请求超时
	Timeout time.Duration
	// Temperature 默认生成温度
	Temperature float64
	// MaxTokens 默认最大生成 Token 数
	MaxTokens int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:8300",
		Model:       "sahayak-chat",
		Timeout:     30 * time.Second,
		Temperature: 0.2,
		MaxTokens:   1024,
	}
}

// Client 生成模型客户端
type Client struct {
	config  Config
	client  *http.Client
	breaker *circuitbreaker.Breaker
	retrier *retry.Executor
	logger  *zap.Logger
}

// NewClient 创建生成客户端
func NewClient(cfg Config, breaker *circuitbreaker.Breaker, retrier *retry.Executor, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8300"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		retrier: retrier,
		logger:  logger.Named("generator"),
	}
}

type chatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Tools       []wireTool `json:"tools,omitempty"`
	Temperature float64    `json:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
}

type wireTool struct {
	Type     string     `json:"type"`
	Function ToolSchema `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate 执行一次生成调用。熔断在最外层，重试在最内层。
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "no messages to generate from")
	}
	if req.Temperature == 0 {
		req.Temperature = c.config.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.config.MaxTokens
	}

	var resp *Response
	call := func(ctx context.Context) error {
		r, err := c.doGenerate(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	inner := call
	if c.retrier != nil {
		inner = func(ctx context.Context) error {
			return c.retrier.Run(ctx, call)
		}
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, inner)
	} else {
		err = inner(ctx)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) doGenerate(ctx context.Context, req Request) (*Response, error) {
	body := chatRequest{
		Model:       c.config.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{Type: "function", Function: t})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.config.BaseURL, "/")+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).
			WithUpstream("generator").WithCause(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "failed to read response").
			WithRetryable(true).WithUpstream("generator").WithCause(err)
	}
	if httpResp.StatusCode >= 400 {
		return nil, mapHTTPError(httpResp.StatusCode, string(respBody))
	}

	var wire chatResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, types.NewError(types.ErrUpstreamRejected, "malformed generation response").
			WithCause(err).WithUpstream("generator")
	}
	if len(wire.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamRejected, "empty choices in generation response").
			WithUpstream("generator")
	}

	choice := wire.Choices[0]
	out := &Response{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func mapHTTPError(status int, msg string) *types.Error {
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
		WithHTTPStatus(status).WithRetryable(retryable).WithUpstream("generator")
}
