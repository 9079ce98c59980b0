package docstore

import (
	"context"

	"github.com/swasthya-ai/sahayak/circuitbreaker"
	"github.com/swasthya-ai/sahayak/retrieval"
	"github.com/swasthya-ai/sahayak/retry"
	"github.com/swasthya-ai/sahayak/types"
)

// GuardedStore 在裸客户端外包一层 熔断 + 重试。
// 检索器看到的错误已经是两层防护之后的最终结果。
type GuardedStore struct {
	inner   retrieval.Store
	breaker *circuitbreaker.Breaker
	retrier *retry.Executor
}

// NewGuarded 创建带防护的存储装饰器
func NewGuarded(inner retrieval.Store, breaker *circuitbreaker.Breaker, retrier *retry.Executor) *GuardedStore {
	return &GuardedStore{inner: inner, breaker: breaker, retrier: retrier}
}

// Search 相似度搜索
func (g *GuardedStore) Search(ctx context.Context, vector []float64, threshold float64, limit int) ([]types.RetrievedDocument, error) {
	var docs []types.RetrievedDocument
	err := g.run(ctx, func(ctx context.Context) error {
		var err error
		docs, err = g.inner.Search(ctx, vector, threshold, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// HybridSearch 存储侧混合搜索
func (g *GuardedStore) HybridSearch(ctx context.Context, vector []float64, text string, limit int) ([]types.RetrievedDocument, error) {
	var docs []types.RetrievedDocument
	err := g.run(ctx, func(ctx context.Context) error {
		var err error
		docs, err = g.inner.HybridSearch(ctx, vector, text, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (g *GuardedStore) run(ctx context.Context, fn func(ctx context.Context) error) error {
	inner := fn
	if g.retrier != nil {
		inner = func(ctx context.Context) error {
			return g.retrier.Run(ctx, fn)
		}
	}
	if g.breaker != nil {
		return g.breaker.Execute(ctx, inner)
	}
	return inner(ctx)
}
