package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/types"
)

// fakeStore 可编程的文档存储桩
type fakeStore struct {
	docs          []types.RetrievedDocument
	err           error
	lastThreshold float64
	lastLimit     int
}

func (s *fakeStore) Search(ctx context.Context, vector []float64, threshold float64, limit int) ([]types.RetrievedDocument, error) {
	s.lastThreshold = threshold
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	var out []types.RetrievedDocument
	for _, d := range s.docs {
		if d.EmbeddingSimilarity >= threshold {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) HybridSearch(ctx context.Context, vector []float64, text string, limit int) ([]types.RetrievedDocument, error) {
	return s.Search(ctx, vector, 0, limit)
}

func doc(id, content string, sim float64, lang types.Language, category string) types.RetrievedDocument {
	return types.RetrievedDocument{
		ID:                  id,
		Content:             content,
		EmbeddingSimilarity: sim,
		Metadata: types.DocumentMetadata{
			Source:   "mohfw",
			Title:    id,
			Language: lang,
			Category: category,
		},
	}
}

// --- Retrieve ---

func TestRetriever_Retrieve(t *testing.T) {
	store := &fakeStore{docs: []types.RetrievedDocument{
		doc("d1", "fever care at home", 0.8, types.LangEnglish, "fever"),
		doc("d2", "maternal nutrition", 0.6, types.LangEnglish, "maternal"),
	}}
	r := NewRetriever(store, Config{TopK: 5, MinSimilarity: 0.45, KeywordBoost: 0.05}, zap.NewNop())

	got := r.Retrieve(context.Background(), []float64{0.1, 0.2}, Options{})
	require.Len(t, got, 2)
	assert.Equal(t, 0.45, store.lastThreshold)
	assert.Equal(t, 5, store.lastLimit)
}

func TestRetriever_StoreErrorDegradesToEmpty(t *testing.T) {
	store := &fakeStore{err: errors.New("store unavailable")}
	r := NewRetriever(store, DefaultConfig(), zap.NewNop())

	got := r.Retrieve(context.Background(), []float64{0.1}, Options{})
	assert.Empty(t, got)

	got = r.HybridSearch(context.Background(), []float64{0.1}, []string{"fever"}, Options{})
	assert.Empty(t, got)
}

func TestRetriever_HighThresholdYieldsEmpty(t *testing.T) {
	// 最佳候选相似度 0.6，阈值 0.9 时无结果
	store := &fakeStore{docs: []types.RetrievedDocument{
		doc("d1", "fever care", 0.6, types.LangEnglish, "fever"),
		doc("d2", "child vaccination", 0.55, types.LangEnglish, "immunization"),
	}}
	r := NewRetriever(store, DefaultConfig(), zap.NewNop())

	got := r.Retrieve(context.Background(), []float64{0.1}, Options{MinSimilarity: 0.9})
	assert.Empty(t, got)
}

// --- 结果侧过滤 ---

func TestRetriever_PostFiltersNarrow(t *testing.T) {
	store := &fakeStore{docs: []types.RetrievedDocument{
		doc("d1", "fever care", 0.8, types.LangHindi, "fever"),
		doc("d2", "fever care", 0.7, types.LangEnglish, "fever"),
		doc("d3", "nutrition tips", 0.75, types.LangHindi, "nutrition"),
	}}
	r := NewRetriever(store, DefaultConfig(), zap.NewNop())

	byLang := r.Retrieve(context.Background(), nil, Options{Language: types.LangHindi})
	require.Len(t, byLang, 2)

	byBoth := r.Retrieve(context.Background(), nil, Options{Language: types.LangHindi, Category: "fever"})
	require.Len(t, byBoth, 1)
	assert.Equal(t, "d1", byBoth[0].ID)
}

// --- HybridSearch ---

func TestRetriever_HybridBoostReorders(t *testing.T) {
	store := &fakeStore{docs: []types.RetrievedDocument{
		doc("d1", "general health advice", 0.70, types.LangEnglish, "general"),
		doc("d2", "fever and dengue warning signs", 0.66, types.LangEnglish, "fever"),
	}}
	r := NewRetriever(store, Config{TopK: 5, MinSimilarity: 0.4, KeywordBoost: 0.05}, zap.NewNop())

	got := r.HybridSearch(context.Background(), nil, []string{"fever", "dengue"}, Options{})
	require.Len(t, got, 2)

	// d2 命中两个关键词：0.66 + 2*0.05 = 0.76 > 0.70
	assert.Equal(t, "d2", got[0].ID)
	assert.InDelta(t, 0.76, got[0].Score, 1e-9)
	assert.InDelta(t, 0.70, got[1].Score, 1e-9)
}

func TestRetriever_HybridStableOnEqualScores(t *testing.T) {
	store := &fakeStore{docs: []types.RetrievedDocument{
		doc("first", "no keyword here", 0.7, types.LangEnglish, "a"),
		doc("second", "no keyword here either", 0.7, types.LangEnglish, "b"),
	}}
	r := NewRetriever(store, DefaultConfig(), zap.NewNop())

	got := r.HybridSearch(context.Background(), nil, []string{"malaria"}, Options{})
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID, "equal scores keep store order")
}

func TestCountKeywordMatches(t *testing.T) {
	content := "ORS and zinc for diarrhea in children"
	assert.Equal(t, 2, countKeywordMatches(content, []string{"ors", "zinc"}))
	assert.Equal(t, 1, countKeywordMatches(content, []string{"ORS", "malaria"}))
	// 空白关键词不计
	assert.Equal(t, 0, countKeywordMatches(content, []string{"", "  "}))
	// 同一关键词至多计一次
	assert.Equal(t, 1, countKeywordMatches("zinc zinc zinc", []string{"zinc"}))
}
