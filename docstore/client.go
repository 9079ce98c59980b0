// Package docstore 提供文档存储服务的 HTTP 客户端。
// 相似度索引与持久化均在存储服务侧，本客户端只负责
// 请求编解码与错误分类。
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/swasthya-ai/sahayak/types"
)

// Config 客户端配置
type Config struct {
	// BaseURL 文档存储服务地址
	BaseURL string
	// APIKey 可选的访问令牌
	APIKey string
	// Timeout 单次请求超时
	Timeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8200",
		Timeout: 10 * time.Second,
	}
}

// Client 文档存储客户端，实现 retrieval.Store。
type Client struct {
	config Config
	client *http.Client
}

// NewClient 创建文档存储客户端
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8200"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type searchRequest struct {
	Vector    []float64 `json:"vector"`
	Threshold float64   `json:"threshold"`
	Limit     int       `json:"limit"`
}

type hybridSearchRequest struct {
	Vector []float64 `json:"vector"`
	Text   string    `json:"text"`
	Limit  int       `json:"limit"`
}

type searchResponse struct {
	Documents []storedDocument `json:"documents"`
}

type storedDocument struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	Metadata   struct {
		Source   string `json:"source"`
		Title    string `json:"title"`
		Language string `json:"language"`
		Category string `json:"category"`
		Link     string `json:"link"`
	} `json:"metadata"`
}

// Search 相似度搜索
func (c *Client) Search(ctx context.Context, vector []float64, threshold float64, limit int) ([]types.RetrievedDocument, error) {
	body := searchRequest{Vector: vector, Threshold: threshold, Limit: limit}
	respBody, err := c.doRequest(ctx, "/v1/search", body)
	if err != nil {
		return nil, err
	}
	return decodeDocuments(respBody)
}

// HybridSearch 存储侧混合搜索（向量 + 文本）
func (c *Client) HybridSearch(ctx context.Context, vector []float64, text string, limit int) ([]types.RetrievedDocument, error) {
	body := hybridSearchRequest{Vector: vector, Text: text, Limit: limit}
	respBody, err := c.doRequest(ctx, "/v1/hybrid-search", body)
	if err != nil {
		return nil, err
	}
	return decodeDocuments(respBody)
}

func decodeDocuments(respBody []byte) ([]types.RetrievedDocument, error) {
	var resp searchResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, types.NewError(types.ErrUpstreamRejected, "malformed search response").
			WithCause(err).WithUpstream("docstore")
	}
	docs := make([]types.RetrievedDocument, 0, len(resp.Documents))
	for _, d := range resp.Documents {
		docs = append(docs, types.RetrievedDocument{
			ID:                  d.ID,
			Content:             d.Content,
			EmbeddingSimilarity: d.Similarity,
			Score:               d.Similarity,
			Metadata: types.DocumentMetadata{
				Source:   d.Metadata.Source,
				Title:    d.Metadata.Title,
				Language: types.Language(d.Metadata.Language),
				Category: d.Metadata.Category,
				Link:     d.Metadata.Link,
			},
		})
	}
	return docs, nil
}

// doRequest 执行 HTTP 请求并做统一错误分类。
// IndexDocument 摄取侧写入存储的单个分块
type IndexDocument struct {
	ID               string                 `json:"id"`
	Content          string                 `json:"content"`
	SequenceIndex    uint                   `json:"sequence_index"`
	SourceDocumentID string                 `json:"source_document_id"`
	TokenEstimate    int                    `json:"token_estimate"`
	Embedding        []float64              `json:"embedding"`
	Metadata         types.DocumentMetadata `json:"metadata"`
}

type indexRequest struct {
	Documents []IndexDocument `json:"documents"`
}

type indexResponse struct {
	Indexed int `json:"indexed"`
}

// IndexDocuments 批量写入分块，返回存储侧确认的条数
func (c *Client) IndexDocuments(ctx context.Context, docs []IndexDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	respBody, err := c.doRequest(ctx, "/v1/documents", indexRequest{Documents: docs})
	if err != nil {
		return 0, err
	}
	var resp indexResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, types.NewError(types.ErrUpstreamRejected, "malformed index response").
			WithCause(err).WithUpstream("docstore")
	}
	return resp.Indexed, nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.config.BaseURL, "/")+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).
			WithUpstream("docstore").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "failed to read response").
			WithRetryable(true).WithUpstream("docstore").WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(respBody), "docstore")
	}
	return respBody, nil
}

// mapHTTPError 将 HTTP 状态映射为 types.Error。
// 5xx 与 429 视为瞬时；其余 4xx 视为永久拒绝。
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
