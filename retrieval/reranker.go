package retrieval

import (
	"sort"

	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/types"
)

// RerankConfig 重排序配置。
// 来源权重表是手调常量，按配置对待，不做算法寻优。
type RerankConfig struct {
	// SourceWeights 来源可信度权重表
	SourceWeights map[string]float64

	// DefaultSourceWeight 未知来源的保守默认权重，
	// 必须低于最受信任来源的权重
	DefaultSourceWeight float64

	// LanguageMatchBoost 文档语言与查询语言一致时的加性加成
	LanguageMatchBoost float64
}

// DefaultRerankConfig 返回默认配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		SourceWeights: map[string]float64{
			"who":       1.0,
			"mohfw":     1.0,
			"icmr":      0.95,
			"unicef":    0.9,
			"state_gov": 0.85,
			"ngo":       0.7,
			"community": 0.55,
		},
		DefaultSourceWeight: 0.5,
		LanguageMatchBoost:  0.1,
	}
}

// Reranker 基于来源可信度与语言匹配的重排序器
type Reranker struct {
	config RerankConfig
	logger *zap.Logger
}

// NewReranker 创建重排序器
func NewReranker(config RerankConfig, logger *zap.Logger) *Reranker {
	if config.DefaultSourceWeight <= 0 {
		config.DefaultSourceWeight = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{config: config, logger: logger}
}

// Rerank 重打分并按最终分数降序返回。
// 输入文档不被修改：每个文档派生一个带新分数的副本。
// 分数 = min(1.0, similarity * sourceWeight + languageBoost)。
func (r *Reranker) Rerank(docs []types.RetrievedDocument, queryLanguage types.Language) []types.RetrievedDocument {
	if len(docs) == 0 {
		return nil
	}

	scored := make([]types.RetrievedDocument, len(docs))
	for i, doc := range docs {
		weight, ok := r.config.SourceWeights[doc.Metadata.Source]
		if !ok {
			weight = r.config.DefaultSourceWeight
		}

		score := doc.EmbeddingSimilarity * weight
		if queryLanguage != "" && doc.Metadata.Language == queryLanguage {
			score += r.config.LanguageMatchBoost
		}
		if score > 1.0 {
			score = 1.0
		}

		scored[i] = doc
		scored[i].Score = score
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	r.logger.Debug("reranking completed",
		zap.Int("documents", len(scored)),
		zap.Float64("top_score", scored[0].Score),
	)
	return scored
}

// Diversify 单趟从左到右扫描，按类别计数，某类别达到 maxPerCategory
// 后丢弃该类别后续文档。保持入参的排名顺序，不做全局多样性寻优。
func (r *Reranker) Diversify(docs []types.RetrievedDocument, maxPerCategory int) []types.RetrievedDocument {
	if maxPerCategory <= 0 || len(docs) == 0 {
		return docs
	}

	counts := make(map[string]int)
	kept := docs[:0:0]
	for _, doc := range docs {
		cat := doc.Metadata.Category
		if counts[cat] >= maxPerCategory {
			continue
		}
		counts[cat]++
		kept = append(kept, doc)
	}
	return kept
}
