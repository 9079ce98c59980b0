// Package chunker 把长文档切成句子边界对齐、前后重叠的片段供索引使用。
// 查询侧的长度估算启发式与这里共享。
//
// Token 估算是廉价的 长度/4 启发式而不是真实分词 —— 有意为之：
// 摄取必须在没有模型的环境下运行，块边界因此是近似值。
package chunker

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/types"
)

// Config 分块配置
type Config struct {
	// MaxTokens 单块 token 估算上限
	MaxTokens int

	// OverlapTokens 相邻块重叠的 token 估算预算
	OverlapTokens int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxTokens:     512,
		OverlapTokens: 64,
	}
}

// Chunker 文档分块器
type Chunker struct {
	config Config
	logger *zap.Logger
}

// New 创建分块器
func New(config Config, logger *zap.Logger) *Chunker {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 512
	}
	if config.OverlapTokens < 0 {
		config.OverlapTokens = 0
	}
	if config.OverlapTokens >= config.MaxTokens {
		config.OverlapTokens = config.MaxTokens / 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{config: config, logger: logger}
}

// EstimateTokens 估算 token 数：rune 数 / 4 向上取整
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// sentenceTerminals 多书写系统的句末标点。
// 包含拉丁、天城文句号（danda）与 CJK 全角标点。
var sentenceTerminals = map[rune]bool{
	'.': true, '!': true, '?': true,
	'।': true, '॥': true, // devanagari danda / double danda
	'。': true, '！': true, '？': true,
	'؟': true,
	'…': true,
}

// splitSentences 按句末标点切分，返回对原文的精确划分
// （每段含其终止标点与后随空白，拼接后逐字节还原原文）。
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		b.WriteRune(runes[i])
		if !sentenceTerminals[runes[i]] {
			continue
		}
		// 吸收连续终止符（"?!"、"..."）与后随空白
		for i+1 < len(runes) && sentenceTerminals[runes[i+1]] {
			i++
			b.WriteRune(runes[i])
		}
		for i+1 < len(runes) && isSpace(runes[i+1]) {
			i++
			b.WriteRune(runes[i])
		}
		sentences = append(sentences, b.String())
		b.Reset()
	}
	if b.Len() > 0 {
		sentences = append(sentences, b.String())
	}
	return sentences
}

// hardSplit 按 rune 窗口切分超长句（每窗约 maxTokens*4 个 rune）
func hardSplit(text string, maxTokens int) []string {
	runes := []rune(text)
	window := maxTokens * 4
	var pieces []string
	for i := 0; i < len(runes); i += window {
		end := i + window
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[i:end]))
	}
	return pieces
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// Chunk 切分一篇源文档。
// 整篇估算不超过 MaxTokens 时返回单块；否则按句子贪心累积，
// 封块后用封块的尾部句子（倒序走到重叠预算耗尽）作为下一块的种子，
// 保持句序。相邻块共享首尾句子是设计行为。
func (c *Chunker) Chunk(sourceDocID, text string) []types.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if EstimateTokens(text) <= c.config.MaxTokens {
		return []types.Chunk{{
			Text:             text,
			SequenceIndex:    0,
			SourceDocumentID: sourceDocID,
			TokenEstimate:    EstimateTokens(text),
		}}
	}

	sentences := splitSentences(text)

	var chunks []types.Chunk
	var current []string
	currentTokens := 0

	seal := func() {
		if len(current) == 0 {
			return
		}
		chunkText := strings.Join(current, "")
		chunks = append(chunks, types.Chunk{
			Text:             chunkText,
			SequenceIndex:    uint(len(chunks)),
			SourceDocumentID: sourceDocID,
			TokenEstimate:    EstimateTokens(chunkText),
		})

		// 重叠种子：从封块尾部倒序取句子直到预算耗尽
		var overlap []string
		budget := c.config.OverlapTokens
		for i := len(current) - 1; i >= 0; i-- {
			t := EstimateTokens(current[i])
			if t > budget {
				break
			}
			overlap = append([]string{current[i]}, overlap...)
			budget -= t
		}
		current = overlap
		currentTokens = 0
		for _, s := range current {
			currentTokens += EstimateTokens(s)
		}
	}

	for _, sentence := range sentences {
		// 超长单句（无句末标点的流水文本）按 rune 窗口硬切，
		// 保证任何一块都不超过 MaxTokens
		if EstimateTokens(sentence) > c.config.MaxTokens {
			seal()
			current = nil
			currentTokens = 0
			for _, piece := range hardSplit(sentence, c.config.MaxTokens) {
				current = []string{piece}
				currentTokens = EstimateTokens(piece)
				seal()
				current = nil
				currentTokens = 0
			}
			continue
		}

		t := EstimateTokens(sentence)

		if currentTokens+t > c.config.MaxTokens && len(current) > 0 {
			seal()
			// 重叠加上新句仍超限时放弃重叠，保证前进
			if currentTokens+t > c.config.MaxTokens {
				current = nil
				currentTokens = 0
			}
		}

		current = append(current, sentence)
		currentTokens += t
	}
	seal()

	c.logger.Debug("document chunked",
		zap.String("source_doc", sourceDocID),
		zap.Int("sentences", len(sentences)),
		zap.Int("chunks", len(chunks)),
	)
	return chunks
}
