package router

// 各语言的紧急关键词表（规则兜底用，与线上分类模型保持一致）。
// 关键词命中即视为紧急，置信度按惯例记 0.90。
var emergencyKeywords = map[string][]string{
	"en": {
		"chest pain",
		"heart attack",
		"severe breathing",
		"can't breathe",
		"difficulty breathing",
		"unconscious",
		"seizure",
		"heavy bleeding",
		"severe injury",
		"stroke",
		"anaphylaxis",
		"baby not breathing",
		"high fever child",
		"severe allergic reaction",
		"loss of consciousness",
	},
	"hi": {
		"सीने में दर्द",
		"हार्ट अटैक",
		"सांस लेने में तकलीफ",
		"बेहोश",
		"दौरा",
		"भारी रक्तस्राव",
		"गंभीर चोट",
		"stroke",
	},
	"or": {
		"ଛାତି ବଥା",
		"ହାର୍ଟ ଆଟାକ୍",
		"ନିଶ୍ୱାସ ନେବାରେ କଷ୍ଟ",
		"ଚେତାଶୂନ୍ୟ",
	},
	"as": {
		"বুকুৰ বিষ",
		"হাৰ্ট এটেক",
		"উশাহ লোৱাত কষ্ট",
		"অজ্ঞান",
	},
}

// 领域实体关键词：常见症状与疾病名，用于复杂度评分的多实体信号。
var entityKeywords = []string{
	"fever",
	"cough",
	"diarrhea",
	"headache",
	"vomiting",
	"nausea",
	"pain",
	"pregnancy",
	"pregnant",
	"malaria",
	"dengue",
	"typhoid",
	"tuberculosis",
	"diabetes",
	"blood pressure",
	"anemia",
	"jaundice",
	"rash",
	"infection",
	"vaccine",
	"vaccination",
	"covid",
	"cold",
	"flu",
	"बुखार",
	"खांसी",
	"दस्त",
	"सिरदर्द",
	"उल्टी",
	"गर्भावस्था",
	"मलेरिया",
	"डेंगू",
	"मधुमेह",
	"टीका",
}

// 会话连接短语：出现时说明查询在延续或并列多个话题。
// 注意不收录孤立的 "and"：症状列表（"fever, cough, and diarrhea"）
// 属于多实体信号，不是多话题信号。
var connectivePhrases = []string{
	"also",
	"and then",
	"tell me about",
	"what about",
	"along with",
	"as well as",
	"और बताओ", // और बताओ
	"के बारे में", // के बारे में
}

// 多步请求开头模式
var multiStepOpeners = []string{
	"how can",
	"how do",
	"how should",
	"explain",
	"compare",
	"steps",
	"what are the ways",
	"कैसे", // कैसे
	"समझा", // समझा(ओ)
}
