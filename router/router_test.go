package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/types"
)

func newTestRouter() *Router {
	return New(DefaultConfig(), zap.NewNop())
}

// --- 紧急短路 ---

func TestRouter_EmergencyAlwaysFastPath(t *testing.T) {
	r := newTestRouter()

	queries := []string{
		"My father has chest pain and cannot move",
		"baby not breathing please help",
		"मेरे पति बेहोश हो गए हैं",
		"ଛାତି ବଥା ହେଉଛି",
		"বুকুৰ বিষ হৈছে",
	}
	for _, q := range queries {
		d := r.Decide(q, []string{"earlier turn", "another turn"})
		assert.False(t, d.UseAgentPath, "emergency query must use the fast path: %q", q)
		assert.True(t, d.Emergency)
		assert.Equal(t, 1.0, d.Confidence)
		assert.Equal(t, []string{ReasonEmergency}, d.ReasonCodes)
		assert.Equal(t, 0, d.ComplexityScore)
	}
}

func TestIsEmergency(t *testing.T) {
	assert.True(t, IsEmergency("I think it's a HEART ATTACK"))
	assert.True(t, IsEmergency("सांस लेने में तकलीफ हो रही है"))
	assert.False(t, IsEmergency("mild fever since yesterday"))
}

func TestEmergencyKeywords(t *testing.T) {
	assert.NotEmpty(t, EmergencyKeywords(types.LangEnglish))
	assert.NotEmpty(t, EmergencyKeywords(types.LangHindi))
	assert.Empty(t, EmergencyKeywords(types.Language("fr")))
}

// --- 复杂度评分 ---

func TestRouter_SymptomListStaysOnFastPath(t *testing.T) {
	r := newTestRouter()

	// 三个症状实体但无其他信号：只计 multi_entity，共 2 分
	d := r.Decide("I have fever, cough, and diarrhea", nil)

	assert.False(t, d.UseAgentPath)
	assert.False(t, d.Emergency)
	assert.Equal(t, 2, d.ComplexityScore)
	assert.Equal(t, []string{ReasonMultiEntity}, d.ReasonCodes)
	assert.InDelta(t, 0.2, d.Confidence, 1e-9)
}

func TestRouter_LongMultiSentenceWithHistoryGoesAgent(t *testing.T) {
	r := newTestRouter()

	query := "My mother has been feeling very weak for the last two weeks. " +
		"Which government scheme covers her hospital checkup in our village?"
	require.Greater(t, len([]rune(query)), 100)

	d := r.Decide(query, []string{"previous question about weakness"})

	assert.True(t, d.UseAgentPath)
	assert.Equal(t, 6, d.ComplexityScore)
	assert.ElementsMatch(t,
		[]string{ReasonLongQuery, ReasonMultiSentence, ReasonHasHistory},
		d.ReasonCodes)
	assert.InDelta(t, 0.6, d.Confidence, 1e-9)
}

func TestRouter_SimpleQueryFastPath(t *testing.T) {
	r := newTestRouter()

	d := r.Decide("home remedy for mild cold", nil)
	assert.False(t, d.UseAgentPath)
	assert.Equal(t, 0, d.ComplexityScore)
	assert.Empty(t, d.ReasonCodes)
	assert.Zero(t, d.Confidence)
}

func TestRouter_IndividualSignals(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name    string
		query   string
		history []string
		reason  string
	}{
		{"connective phrase", "what about iron tablets during this time", nil, ReasonConnective},
		{"multi-step opener", "how can i register for the scheme", nil, ReasonMultiStep},
		{"hindi opener", "कैसे आवेदन करें", nil, ReasonMultiStep},
		{"history", "is it safe", []string{"earlier turn"}, ReasonHasHistory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Decide(tt.query, tt.history)
			assert.Contains(t, d.ReasonCodes, tt.reason)
			assert.False(t, d.UseAgentPath, "a single signal never reaches the agent threshold")
		})
	}
}

func TestRouter_BareAndIsNotConnective(t *testing.T) {
	r := newTestRouter()

	d := r.Decide("rice and dal for a toddler", nil)
	assert.NotContains(t, d.ReasonCodes, ReasonConnective)
}

func TestRouter_ScoreClampedAtTen(t *testing.T) {
	r := newTestRouter()

	// 六个信号全部命中：长度、多句、连接短语、多步开头、多实体、历史
	query := "Explain the schemes. I also need help. My child has fever, cough, diarrhea and vomiting since last week. What should we do now?"
	require.Greater(t, len([]rune(query)), 100)

	d := r.Decide(query, []string{"previous turn"})
	assert.Equal(t, 10, d.ComplexityScore)
	assert.Equal(t, 1.0, d.Confidence)
	assert.True(t, d.UseAgentPath)
	assert.Len(t, d.ReasonCodes, 6)
}

// --- 辅助函数 ---

func TestCountTerminals(t *testing.T) {
	assert.Equal(t, 0, countTerminals("no terminals here"))
	assert.Equal(t, 2, countTerminals("First. Second?"))
	assert.Equal(t, 2, countTerminals("पहला वाक्य। दूसरा वाक्य।"))
}

func TestCountEntityHits(t *testing.T) {
	assert.Equal(t, 3, countEntityHits("fever, cough, and diarrhea"))
	assert.Equal(t, 1, countEntityHits("बुखार है"))
	assert.Equal(t, 0, countEntityHits("general wellness question"))
}
