package pipeline

import (
	"strings"

	"github.com/swasthya-ai/sahayak/types"
)

// ValidationResult 校验产出
type ValidationResult struct {
	Answer    string
	Citations []types.Citation
	Warnings  []string
}

// Validator 安全/引用校验。纯函数：不做任何 I/O。
// 校验失败的内容绝不原样透出，替换为消毒后的安全提示。
type Validator func(answer string, citations []types.Citation, lang types.Language) ValidationResult

// unsafePatterns 生成内容中不允许出现的处方式措辞
var unsafePatterns = []string{
	"take this medicine",
	"i prescribe",
	"you should take",
	"dosage:",
	"mg twice",
	"mg daily",
}

// disclaimers 附加在每个生成回答末尾的提醒
var disclaimers = map[types.Language]string{
	types.LangEnglish:  "This is general health information, not medical advice. Consult a health worker for diagnosis or treatment.",
	types.LangHindi:    "यह सामान्य स्वास्थ्य जानकारी है, चिकित्सीय सलाह नहीं। निदान या उपचार के लिए स्वास्थ्य कार्यकर्ता से परामर्श करें।",
	types.LangOdia:     "ଏହା ସାଧାରଣ ସ୍ୱାସ୍ଥ୍ୟ ସୂଚନା, ଡାକ୍ତରୀ ପରାମର୍ଶ ନୁହେଁ। ନିଦାନ କିମ୍ବା ଚିକିତ୍ସା ପାଇଁ ସ୍ୱାସ୍ଥ୍ୟ କର୍ମୀଙ୍କ ପରାମର୍ଶ ନିଅନ୍ତୁ।",
	types.LangAssamese: "এয়া সাধাৰণ স্বাস্থ্য তথ্য, চিকিৎসা পৰামৰ্শ নহয়। ৰোগ নিৰ্ণয় বা চিকিৎসাৰ বাবে স্বাস্থ্যকৰ্মীৰ পৰামৰ্শ লওক।",
}

// safetyMessages 校验失败时替换原文的安全提示
var safetyMessages = map[types.Language]string{
	types.LangEnglish:  "I cannot share that response safely. Please consult your nearest health worker (ASHA/ANM) or call 104.",
	types.LangHindi:    "मैं वह उत्तर सुरक्षित रूप से साझा नहीं कर सकती। कृपया निकटतम स्वास्थ्य कार्यकर्ता (आशा/एएनएम) से संपर्क करें या 104 पर कॉल करें।",
	types.LangOdia:     "ମୁଁ ସେହି ଉତ୍ତର ସୁରକ୍ଷିତ ଭାବେ ଦେଇ ପାରିବି ନାହିଁ। ଦୟାକରି ନିକଟସ୍ଥ ସ୍ୱାସ୍ଥ୍ୟ କର୍ମୀଙ୍କୁ ଯୋଗାଯୋଗ କରନ୍ତୁ କିମ୍ବା 104 କୁ କଲ୍ କରନ୍ତୁ।",
	types.LangAssamese: "মই সেই উত্তৰ সুৰক্ষিতভাৱে দিব নোৱাৰোঁ। অনুগ্ৰহ কৰি ওচৰৰ স্বাস্থ্যকৰ্মীৰ সৈতে যোগাযোগ কৰক নাইবা 104 নম্বৰত ফোন কৰক।",
}

func forLanguage(table map[types.Language]string, lang types.Language) string {
	if s, ok := table[lang]; ok {
		return s
	}
	return table[types.LangEnglish]
}

// DefaultValidator 默认安全校验：
//   - 命中处方式措辞时整体替换为安全提示（绝不透出原文）；
//   - 无引用支撑的回答打上 uncited 警告；
//   - 始终追加健康提醒。
func DefaultValidator(answer string, citations []types.Citation, lang types.Language) ValidationResult {
	result := ValidationResult{Citations: citations}
	lower := strings.ToLower(answer)

	for _, p := range unsafePatterns {
		if strings.Contains(lower, p) {
			result.Answer = forLanguage(safetyMessages, lang)
			result.Citations = nil
			result.Warnings = append(result.Warnings, "answer replaced: unsafe content")
			return result
		}
	}

	if len(citations) == 0 && strings.TrimSpace(answer) != "" {
		result.Warnings = append(result.Warnings, "uncited: no verified sources attached")
	}

	result.Answer = strings.TrimSpace(answer) + "\n\n" + forLanguage(disclaimers, lang)
	return result
}
