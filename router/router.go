// Package router 基于查询复杂度与会话上下文在快速路径和 Agent 路径
// 之间做路由决定。固定可解释阈值，不是学习型分类器。
package router

import (
	"strings"

	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/types"
)

// 决策理由码，进入日志与交互记录供观测
const (
	ReasonEmergency     = "emergency_keyword"
	ReasonLongQuery     = "long_query"
	ReasonMultiSentence = "multi_sentence"
	ReasonConnective    = "connective_phrase"
	ReasonMultiStep     = "multi_step_opener"
	ReasonMultiEntity   = "multi_entity"
	ReasonHasHistory    = "has_history"
)

// Config 路由配置。
// 分值与阈值是手调常量，按配置对待（默认：每信号 2 分，阈值 5）。
type Config struct {
	// SignalPoints 每个信号的增量分值
	SignalPoints int

	// AgentThreshold score >= 阈值时走 Agent 路径
	AgentThreshold int

	// LengthThreshold 长查询的字符数阈值
	LengthThreshold int

	// EntityHitThreshold 实体命中数超过该值才计多实体信号
	EntityHitThreshold int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		SignalPoints:       2,
		AgentThreshold:     5,
		LengthThreshold:    100,
		EntityHitThreshold: 2,
	}
}

// Router 复杂度路由器
type Router struct {
	config Config
	logger *zap.Logger
}

// New 创建路由器
func New(config Config, logger *zap.Logger) *Router {
	if config.SignalPoints <= 0 {
		config.SignalPoints = 2
	}
	if config.AgentThreshold <= 0 {
		config.AgentThreshold = 5
	}
	if config.LengthThreshold <= 0 {
		config.LengthThreshold = 100
	}
	if config.EntityHitThreshold <= 0 {
		config.EntityHitThreshold = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{config: config, logger: logger}
}

// Decide 产出路由决定。
// 紧急关键词命中无条件走快速路径、置信度 1.0 ——
// 安全攸关的查询绝不等待慢路径。
// 否则在 [0,10] 内累加复杂度分：长查询、多句、连接短语、
// 多步开头、多实体命中、有历史轮次各计 SignalPoints 分。
func (r *Router) Decide(query string, history []string) types.RoutingDecision {
	lower := strings.ToLower(query)

	if IsEmergency(query) {
		decision := types.RoutingDecision{
			UseAgentPath:    false,
			ReasonCodes:     []string{ReasonEmergency},
			Confidence:      1.0,
			ComplexityScore: 0,
			Emergency:       true,
		}
		r.logger.Info("routing decision",
			zap.Bool("agent_path", false),
			zap.Bool("emergency", true),
		)
		return decision
	}

	score := 0
	var reasons []string
	add := func(reason string) {
		score += r.config.SignalPoints
		reasons = append(reasons, reason)
	}

	if len([]rune(query)) > r.config.LengthThreshold {
		add(ReasonLongQuery)
	}
	if countTerminals(query) > 1 {
		add(ReasonMultiSentence)
	}
	if containsAny(lower, connectivePhrases) {
		add(ReasonConnective)
	}
	if opensWithAny(lower, multiStepOpeners) {
		add(ReasonMultiStep)
	}
	if countEntityHits(lower) > r.config.EntityHitThreshold {
		add(ReasonMultiEntity)
	}
	if len(history) > 0 {
		add(ReasonHasHistory)
	}

	if score > 10 {
		score = 10
	}

	confidence := float64(score) / 10.0
	if confidence > 1.0 {
		confidence = 1.0
	}

	decision := types.RoutingDecision{
		UseAgentPath:    score >= r.config.AgentThreshold,
		ReasonCodes:     reasons,
		Confidence:      confidence,
		ComplexityScore: score,
	}

	r.logger.Info("routing decision",
		zap.Bool("agent_path", decision.UseAgentPath),
		zap.Int("score", score),
		zap.Strings("reasons", reasons),
	)
	return decision
}

// IsEmergency 语言感知的紧急关键词匹配（所有语言的表都查一遍，
// code-mixed 的查询经常混用书写系统）。
func IsEmergency(query string) bool {
	lower := strings.ToLower(query)
	for _, keywords := range emergencyKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// EmergencyKeywords 返回指定语言的紧急关键词表（翻译兜底时附加检索词用）
func EmergencyKeywords(lang types.Language) []string {
	return emergencyKeywords[string(lang)]
}

// countTerminals 统计句末标点个数（跨书写系统）
func countTerminals(query string) int {
	n := 0
	for _, r := range query {
		switch r {
		case '.', '!', '?', '।', '॥', '。', '！', '？', '؟':
			n++
		}
	}
	return n
}

// countEntityHits 统计命中的领域实体关键词个数
func countEntityHits(lower string) int {
	hits := 0
	for _, kw := range entityKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func opensWithAny(lower string, prefixes []string) bool {
	trimmed := strings.TrimSpace(lower)
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
