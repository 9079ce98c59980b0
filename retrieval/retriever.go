// Package retrieval 实现知识库之上的混合检索与重排序。
// 文档存储被视为不透明服务（相似度索引在存储侧），本包只做
// 候选获取、关键词加成与结果侧过滤。
package retrieval

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/types"
)

// Store 文档存储的唯一 I/O 边界。
// 存储侧负责余弦/内积相似度索引；持久化格式超出本系统范围。
type Store interface {
	// Search 相似度搜索，threshold 为相似度下限，limit 为候选上限
	Search(ctx context.Context, vector []float64, threshold float64, limit int) ([]types.RetrievedDocument, error)

	// HybridSearch 存储侧混合搜索（向量 + 文本）
	HybridSearch(ctx context.Context, vector []float64, text string, limit int) ([]types.RetrievedDocument, error)
}

// Options 单次检索选项
type Options struct {
	TopK          int
	MinSimilarity float64
	Language      types.Language // 可选的结果侧语言过滤
	Category      string         // 可选的结果侧类别过滤
}

// Config 检索器配置
type Config struct {
	// TopK 默认候选上限
	TopK int

	// MinSimilarity 默认相似度下限
	MinSimilarity float64

	// KeywordBoost 每个命中关键词的固定加成。
	// 简单线性混合而不是学习型排序器，便于解释。
	KeywordBoost float64
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		TopK:          5,
		MinSimilarity: 0.45,
		KeywordBoost:  0.05,
	}
}

// Retriever 检索器
type Retriever struct {
	store  Store
	config Config
	logger *zap.Logger
}

// NewRetriever 创建检索器
func NewRetriever(store Store, config Config, logger *zap.Logger) *Retriever {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.KeywordBoost <= 0 {
		config.KeywordBoost = 0.05
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, config: config, logger: logger}
}

// Retrieve 按查询向量返回排好序的候选文档。
// 存储出错时返回空序列而不是透传错误 —— 检索是尽力而为，
// 管线在空结果上有定义好的降级答案。
func (r *Retriever) Retrieve(ctx context.Context, queryEmbedding []float64, opts Options) []types.RetrievedDocument {
	r.fillDefaults(&opts)

	docs, err := r.store.Search(ctx, queryEmbedding, opts.MinSimilarity, opts.TopK)
	if err != nil {
		r.logger.Warn("document store search failed, degrading to empty result",
			zap.Error(err))
		return nil
	}

	return r.postFilter(docs, opts)
}

// HybridSearch 相似度检索后叠加关键词加成：
// score += matchedKeywordCount * KeywordBoost，然后稳定排序（分数相同保持原相对顺序）。
func (r *Retriever) HybridSearch(ctx context.Context, queryEmbedding []float64, keywords []string, opts Options) []types.RetrievedDocument {
	r.fillDefaults(&opts)

	docs, err := r.store.Search(ctx, queryEmbedding, opts.MinSimilarity, opts.TopK)
	if err != nil {
		r.logger.Warn("document store search failed, degrading to empty result",
			zap.Error(err))
		return nil
	}

	boosted := make([]types.RetrievedDocument, len(docs))
	for i, doc := range docs {
		matched := countKeywordMatches(doc.Content, keywords)
		boosted[i] = doc
		boosted[i].Score = doc.EmbeddingSimilarity + float64(matched)*r.config.KeywordBoost
	}

	sort.SliceStable(boosted, func(i, j int) bool {
		return boosted[i].Score > boosted[j].Score
	})

	return r.postFilter(boosted, opts)
}

func (r *Retriever) fillDefaults(opts *Options) {
	if opts.TopK <= 0 {
		opts.TopK = r.config.TopK
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = r.config.MinSimilarity
	}
}

// postFilter 结果侧语言/类别过滤。过滤只会收窄候选集，绝不扩大。
func (r *Retriever) postFilter(docs []types.RetrievedDocument, opts Options) []types.RetrievedDocument {
	if opts.Language == "" && opts.Category == "" {
		return docs
	}

	filtered := docs[:0:0]
	for _, doc := range docs {
		if opts.Language != "" && doc.Metadata.Language != opts.Language {
			continue
		}
		if opts.Category != "" && doc.Metadata.Category != opts.Category {
			continue
		}
		filtered = append(filtered, doc)
	}
	return filtered
}

// countKeywordMatches 统计命中的关键词个数（大小写不敏感，每词至多计一次）
func countKeywordMatches(content string, keywords []string) int {
	lower := strings.ToLower(content)
	matched := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(lower, kw) {
			matched++
		}
	}
	return matched
}
