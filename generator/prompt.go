package generator

import (
	"fmt"
	"strings"

	"github.com/swasthya-ai/sahayak/types"
)

// systemPrompt 固定的系统角色说明。回答必须基于提供的编号资料，
// 不得超出资料范围给出诊断或处方。
const systemPrompt = `You are Swasthya Sahayak, a public-health information assistant for rural India.
Answer ONLY from the numbered context passages below. Cite passages as [1], [2] etc.
If the context does not cover the question, say you do not have verified information.
Never provide a diagnosis or prescribe medication. Keep answers short and simple.`

// languageNames 生成指令中使用的语言名称
var languageNames = map[types.Language]string{
	types.LangEnglish:  "English",
	types.LangHindi:    "Hindi",
	types.LangOdia:     "Odia",
	types.LangAssamese: "Assamese",
}

// BuildMessages 将检索候选拼装为一次生成请求的消息序列。
// history 为同会话最近的问答摘要，按时间顺序注入。
func BuildMessages(query string, lang types.Language, docs []types.RetrievedDocument, history []string) []Message {
	var b strings.Builder
	b.WriteString("Context passages:\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, d.Metadata.Source, d.Content)
	}
	if len(docs) == 0 {
		b.WriteString("(no passages available)\n")
	}

	langName := languageNames[lang]
	if langName == "" {
		langName = "English"
	}
	fmt.Fprintf(&b, "\nRespond in %s.\n\nQuestion: %s", langName, query)

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	for _, h := range history {
		messages = append(messages, Message{Role: RoleUser, Content: h})
	}
	messages = append(messages, Message{Role: RoleUser, Content: b.String()})
	return messages
}

// BuildCitations 从候选文档提取去重后的引用列表，保持原有顺序。
func BuildCitations(docs []types.RetrievedDocument) []types.Citation {
	seen := make(map[string]struct{}, len(docs))
	var citations []types.Citation
	for _, d := range docs {
		key := d.Metadata.Source + "|" + d.Metadata.Title
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		citations = append(citations, types.Citation{
			Title:  d.Metadata.Title,
			Source: d.Metadata.Source,
			Link:   d.Metadata.Link,
		})
	}
	return citations
}

// fallbackTexts 生成服务不可用或无资料时的兜底回答
var fallbackTexts = map[types.Language]string{
	types.LangEnglish:  "I could not find verified health information for your question right now. Please consult your nearest health worker (ASHA/ANM) or call 104 for health advice.",
	types.LangHindi:    "मैं अभी आपके प्रश्न के लिए सत्यापित स्वास्थ्य जानकारी नहीं ढूंढ सकी। कृपया अपने निकटतम स्वास्थ्य कार्यकर्ता (आशा/एएनएम) से संपर्क करें या स्वास्थ्य सलाह के लिए 104 पर कॉल करें।",
	types.LangOdia:     "ମୁଁ ବର୍ତ୍ତମାନ ଆପଣଙ୍କ ପ୍ରଶ୍ନ ପାଇଁ ପ୍ରମାଣିତ ସ୍ୱାସ୍ଥ୍ୟ ସୂଚନା ପାଇଲି ନାହିଁ। ଦୟାକରି ନିକଟସ୍ଥ ସ୍ୱାସ୍ଥ୍ୟ କର୍ମୀଙ୍କୁ ଯୋଗାଯୋଗ କରନ୍ତୁ କିମ୍ବା 104 କୁ କଲ୍ କରନ୍ତୁ।",
	types.LangAssamese: "মই এতিয়া আপোনাৰ প্ৰশ্নৰ বাবে প্ৰমাণিত স্বাস্থ্য তথ্য বিচাৰি নাপালোঁ। অনুগ্ৰহ কৰি ওচৰৰ স্বাস্থ্যকৰ্মীৰ সৈতে যোগাযোগ কৰক নাইবা 104 নম্বৰত ফোন কৰক।",
}

// FallbackAnswer 返回带提醒的通用兜底回答。
func FallbackAnswer(lang types.Language) *types.Answer {
	text, ok := fallbackTexts[lang]
	if !ok {
		text = fallbackTexts[types.LangEnglish]
	}
	return &types.Answer{
		Text:     text,
		Language: lang,
		Warnings: []string{"degraded: generated without verified sources"},
	}
}
