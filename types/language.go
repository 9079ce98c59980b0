package types

// DetectLanguage 按 Unicode 区段检测文本语言。
// 纯函数，供推理服务不可用时做降级语言标注。
// 区段与线上翻译模型的检测逻辑保持一致：
// 天城文 → hi，奥里亚文 → or，孟加拉-阿萨姆文 → as，其余 → en。
func DetectLanguage(text string) Language {
	for _, r := range text {
		switch {
		case r >= 0x0900 && r <= 0x097F:
			return LangHindi
		case r >= 0x0B00 && r <= 0x0B7F:
			return LangOdia
		case r >= 0x0980 && r <= 0x09FF:
			return LangAssamese
		}
	}
	return LangEnglish
}
