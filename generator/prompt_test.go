package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swasthya-ai/sahayak/types"
)

func contextDocs() []types.RetrievedDocument {
	return []types.RetrievedDocument{
		{
			Content:  "Give ORS after each loose stool.",
			Metadata: types.DocumentMetadata{Source: "who", Title: "Diarrhea management"},
		},
		{
			Content:  "Continue breastfeeding during illness.",
			Metadata: types.DocumentMetadata{Source: "mohfw", Title: "Child nutrition"},
		},
	}
}

// --- BuildMessages ---

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("what to give for loose motion", types.LangHindi, contextDocs(), nil)

	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Never provide a diagnosis")

	user := msgs[1]
	assert.Equal(t, RoleUser, user.Role)
	assert.Contains(t, user.Content, "[1] (who) Give ORS after each loose stool.")
	assert.Contains(t, user.Content, "[2] (mohfw) Continue breastfeeding during illness.")
	assert.Contains(t, user.Content, "Respond in Hindi.")
	assert.Contains(t, user.Content, "Question: what to give for loose motion")
}

func TestBuildMessages_HistoryInjectedInOrder(t *testing.T) {
	history := []string{"first turn", "second turn"}
	msgs := BuildMessages("follow-up", types.LangEnglish, contextDocs(), history)

	require.Len(t, msgs, 4)
	assert.Equal(t, "first turn", msgs[1].Content)
	assert.Equal(t, "second turn", msgs[2].Content)
	assert.True(t, strings.Contains(msgs[3].Content, "follow-up"))
}

func TestBuildMessages_NoDocuments(t *testing.T) {
	msgs := BuildMessages("q", types.LangEnglish, nil, nil)
	assert.Contains(t, msgs[len(msgs)-1].Content, "(no passages available)")
}

func TestBuildMessages_UnknownLanguageDefaultsToEnglish(t *testing.T) {
	msgs := BuildMessages("q", types.Language("fr"), contextDocs(), nil)
	assert.Contains(t, msgs[len(msgs)-1].Content, "Respond in English.")
}

// --- BuildCitations ---

func TestBuildCitations_DedupePreservesOrder(t *testing.T) {
	docs := append(contextDocs(), types.RetrievedDocument{
		Content:  "duplicate of the first source",
		Metadata: types.DocumentMetadata{Source: "who", Title: "Diarrhea management"},
	})

	citations := BuildCitations(docs)
	require.Len(t, citations, 2)
	assert.Equal(t, "Diarrhea management", citations[0].Title)
	assert.Equal(t, "who", citations[0].Source)
	assert.Equal(t, "mohfw", citations[1].Source)
}

func TestBuildCitations_Empty(t *testing.T) {
	assert.Empty(t, BuildCitations(nil))
}

func TestBuildCitations_CarriesSourceLink(t *testing.T) {
	docs := []types.RetrievedDocument{
		{
			Content: "Give ORS after each loose stool.",
			Metadata: types.DocumentMetadata{
				Source: "who",
				Title:  "Diarrhea management",
				Link:   "https://www.who.int/health-topics/diarrhoea",
			},
		},
		{
			Content:  "Continue breastfeeding during illness.",
			Metadata: types.DocumentMetadata{Source: "mohfw", Title: "Child nutrition"},
		},
	}

	citations := BuildCitations(docs)
	require.Len(t, citations, 2)
	assert.Equal(t, "https://www.who.int/health-topics/diarrhoea", citations[0].Link)
	assert.Empty(t, citations[1].Link)
}

// --- FallbackAnswer ---

func TestFallbackAnswer(t *testing.T) {
	for _, lang := range []types.Language{types.LangEnglish, types.LangHindi, types.LangOdia, types.LangAssamese} {
		ans := FallbackAnswer(lang)
		require.NotNil(t, ans)
		assert.NotEmpty(t, ans.Text)
		assert.Equal(t, lang, ans.Language)
		assert.Contains(t, ans.Warnings, "degraded: generated without verified sources")
		assert.Contains(t, ans.Text, "104")
	}

	// 未知语言回落到英文文案
	ans := FallbackAnswer(types.Language("fr"))
	assert.Equal(t, FallbackAnswer(types.LangEnglish).Text, ans.Text)
}
