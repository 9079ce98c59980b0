// Package pipeline 按 限流 → 路由 → 检索/生成 → 校验 → 异步落库
// 的顺序编排单次查询。共享可变状态只有缓存、限流窗口与每个上游
// 一个的熔断器实例，全部显式构造、依赖注入，不使用包级单例。
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swasthya-ai/sahayak/cache"
	"github.com/swasthya-ai/sahayak/chunker"
	"github.com/swasthya-ai/sahayak/generator"
	"github.com/swasthya-ai/sahayak/inference"
	"github.com/swasthya-ai/sahayak/internal/metrics"
	"github.com/swasthya-ai/sahayak/persistence"
	"github.com/swasthya-ai/sahayak/ratelimit"
	"github.com/swasthya-ai/sahayak/retrieval"
	"github.com/swasthya-ai/sahayak/router"
	"github.com/swasthya-ai/sahayak/types"
)

// InferenceProvider 嵌入/分类/翻译上游
type InferenceProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	ClassifyEmergency(ctx context.Context, texts []string, lang types.Language) ([]inference.EmergencyPrediction, error)
	Translate(ctx context.Context, texts []string, target types.Language) ([]inference.TranslationResult, error)
	Health(ctx context.Context) bool
}

// AnswerGenerator 生成模型上游
type AnswerGenerator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Response, error)
}

// HistoryStore 持久化协作方。落库是尽力而为，读历史失败按空处理。
type HistoryStore interface {
	LogInteraction(ctx context.Context, rec types.InteractionRecord) error
	RecentHistory(ctx context.Context, sessionID string, max int) ([]string, error)
	NearestFacilities(ctx context.Context, district string, limit int) ([]persistence.Facility, error)
}

// Config 编排器配置
type Config struct {
	// HistoryMax 注入路由上下文的历史轮数上限
	HistoryMax int
	// MaxToolCalls Agent 路径工具调用硬上限
	MaxToolCalls int
	// AgentDeadline Agent 路径墙钟硬上限
	AgentDeadline time.Duration
	// MaxPerCategory 重排序后每类别保留上限
	MaxPerCategory int
	// PersistTimeout 异步落库超时
	PersistTimeout time.Duration
	// MaxContextTokens 提示词中检索段落的 token 估算预算（0 不限制）
	MaxContextTokens int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		HistoryMax:       5,
		MaxToolCalls:     4,
		AgentDeadline:    20 * time.Second,
		MaxPerCategory:   2,
		PersistTimeout:   5 * time.Second,
		MaxContextTokens: 1200,
	}
}

// Orchestrator 查询编排器
type Orchestrator struct {
	config    Config
	limiter   *ratelimit.SlidingLimiter
	router    *router.Router
	answers   *cache.AnswerCache
	inference InferenceProvider
	generator AnswerGenerator
	retriever *retrieval.Retriever
	reranker  *retrieval.Reranker
	store     HistoryStore
	validator Validator
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// Deps 编排器依赖，全部显式注入。
type Deps struct {
	Limiter   *ratelimit.SlidingLimiter
	Router    *router.Router
	Answers   *cache.AnswerCache
	Inference InferenceProvider
	Generator AnswerGenerator
	Retriever *retrieval.Retriever
	Reranker  *retrieval.Reranker
	Store     HistoryStore
	Validator Validator
	Metrics   *metrics.Collector
}

// tracer 全局 provider 的延迟绑定句柄，每个处理阶段一个子 span
var tracer = otel.Tracer("sahayak/pipeline")

// New 创建编排器
func New(cfg Config, deps Deps, logger *zap.Logger) *Orchestrator {
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = 5
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 4
	}
	if cfg.AgentDeadline <= 0 {
		cfg.AgentDeadline = 20 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if deps.Validator == nil {
		deps.Validator = DefaultValidator
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		config:    cfg,
		limiter:   deps.Limiter,
		router:    deps.Router,
		answers:   deps.Answers,
		inference: deps.Inference,
		generator: deps.Generator,
		retriever: deps.Retriever,
		reranker:  deps.Reranker,
		store:     deps.Store,
		validator: deps.Validator,
		metrics:   deps.Metrics,
		logger:    logger.Named("pipeline"),
	}
}

// Handle 处理一次查询。只有格式错误的入站请求返回错误；
// 上游故障一律在内部降级为带提醒的回答。
func (o *Orchestrator) Handle(ctx context.Context, q *types.Query) (*types.Answer, error) {
	start := time.Now()

	if q == nil || strings.TrimSpace(q.Text) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "query text must not be empty").
			WithHTTPStatus(400)
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Language == "" {
		q.Language = types.DetectLanguage(q.Text)
	}
	if q.ReceivedAt.IsZero() {
		q.ReceivedAt = time.Now()
	}

	// 限流闸门：拒绝直接面向用户，附带等待时长提示，不重试。
	if res := o.limiter.Check(q.Identifier); !res.Allowed {
		if o.metrics != nil {
			o.metrics.RecordRateLimitRejection(string(q.Channel))
		}
		return nil, types.NewError(types.ErrRateLimited, res.Message).WithHTTPStatus(429)
	}

	// 答案缓存：同语言同问题直接复用
	cacheKey := o.answers.Key(q.Language, q.Text)
	if cached, ok := o.answers.Get(ctx, cacheKey); ok {
		if o.metrics != nil {
			o.metrics.RecordCacheHit("answer")
		}
		hit := *cached
		hit.FromCache = true
		hit.Elapsed = time.Since(start).Seconds()
		return &hit, nil
	}
	if o.metrics != nil {
		o.metrics.RecordCacheMiss("answer")
	}

	history := q.History
	if len(history) == 0 && o.store != nil && q.SessionID != "" {
		var err error
		history, err = o.store.RecentHistory(ctx, q.SessionID, o.config.HistoryMax)
		if err != nil {
			o.logger.Warn("failed to load session history", zap.Error(err))
			history = nil
		}
	}

	_, routeSpan := tracer.Start(ctx, "pipeline.route")
	decision := o.router.Decide(q.Text, history)
	routeSpan.SetAttributes(
		attribute.Bool("agent_path", decision.UseAgentPath),
		attribute.Bool("emergency", decision.Emergency),
		attribute.Int("complexity_score", decision.ComplexityScore),
	)
	routeSpan.End()
	o.logger.Info("routing decision",
		zap.String("query_id", q.ID),
		zap.Bool("agent_path", decision.UseAgentPath),
		zap.Bool("emergency", decision.Emergency),
		zap.Int("complexity_score", decision.ComplexityScore),
		zap.Strings("reason_codes", decision.ReasonCodes))
	if o.metrics != nil {
		o.metrics.RecordRouterDecision(decision.UseAgentPath, decision.Emergency)
	}

	var answer *types.Answer
	path := "fast"
	if decision.UseAgentPath {
		path = "agent"
		result, err := o.runAgentLoop(ctx, q, history)
		if err != nil {
			// 失败或超限一律回落快速路径
			o.logger.Warn("agent path failed, falling back to fast path",
				zap.String("query_id", q.ID), zap.Error(err))
			path = "fast"
			answer = o.runFastPath(ctx, q, history, decision.Emergency)
		} else {
			validated := o.validate(ctx, result.Text, generator.BuildCitations(result.Documents), q.Language)
			answer = &types.Answer{
				Text:      validated.Answer,
				Citations: validated.Citations,
				Warnings:  validated.Warnings,
				Language:  q.Language,
				AgentPath: true,
			}
		}
	} else {
		answer = o.runFastPath(ctx, q, history, decision.Emergency)
	}

	if answer.Emergency {
		o.prependFacilityGuidance(ctx, q, answer)
	}

	answer.Elapsed = time.Since(start).Seconds()
	if o.metrics != nil {
		status := "ok"
		if len(answer.Warnings) > 0 {
			status = "degraded"
		}
		o.metrics.RecordPipeline(path, status, time.Since(start))
	}

	// 紧急回答含地区相关的就医指引，不进缓存
	if !answer.Emergency && !answer.FromCache {
		o.answers.Set(ctx, cacheKey, answer)
	}

	o.persistAsync(ctx, q, answer, decision)
	return answer, nil
}

// observeUpstream 记录一次上游调用的结果与耗时
func (o *Orchestrator) observeUpstream(upstream string, start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordUpstreamRequest(upstream, status, time.Since(start))
}

// runFastPath 确定性的 检索-生成 流程。任何上游故障都降级，
// 绝不向调用方返回错误。
func (o *Orchestrator) runFastPath(ctx context.Context, q *types.Query, history []string, emergencyHint bool) *types.Answer {
	ctx, span := tracer.Start(ctx, "pipeline.fast_path")
	defer span.End()

	// 翻译与紧急分类互相独立，并发执行；各自带关键词兜底
	var english string
	emergency := emergencyHint

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		text, err := WithFallback(gctx, "translate", o.logger,
			func(ctx context.Context) (string, error) {
				if q.Language == types.LangEnglish {
					return q.Text, nil
				}
				start := time.Now()
				results, err := o.inference.Translate(ctx, []string{q.Text}, types.LangEnglish)
				o.observeUpstream("inference", start, err)
				if err != nil {
					return "", err
				}
				return results[0].Text, nil
			},
			func(ctx context.Context) (string, error) {
				// 兜底：原文直通
				return q.Text, nil
			},
		)
		english = text
		return err
	})
	g.Go(func() error {
		isEmergency, err := WithFallback(gctx, "classify_emergency", o.logger,
			func(ctx context.Context) (bool, error) {
				start := time.Now()
				preds, err := o.inference.ClassifyEmergency(ctx, []string{q.Text}, q.Language)
				o.observeUpstream("inference", start, err)
				if err != nil {
					return false, err
				}
				return preds[0].IsEmergency, nil
			},
			func(ctx context.Context) (bool, error) {
				// 兜底：多语言关键词表
				return router.IsEmergency(q.Text), nil
			},
		)
		if isEmergency {
			emergency = true
		}
		return err
	})
	if err := g.Wait(); err != nil {
		// 只有取消会走到这里；直接返回兜底回答
		ans := generator.FallbackAnswer(q.Language)
		ans.Emergency = emergency
		return ans
	}

	docs := o.retrieveCandidates(ctx, q, english)
	if len(docs) == 0 {
		// 空检索降级为通用带提醒回答
		ans := generator.FallbackAnswer(q.Language)
		ans.Emergency = emergency
		return ans
	}

	ranked := o.reranker.Rerank(docs, q.Language)
	if o.config.MaxPerCategory > 0 {
		ranked = o.reranker.Diversify(ranked, o.config.MaxPerCategory)
	}
	if o.config.MaxContextTokens > 0 {
		ranked = trimToTokenBudget(ranked, o.config.MaxContextTokens)
	}

	genCtx, genSpan := tracer.Start(ctx, "pipeline.generate")
	text, err := WithFallback(genCtx, "generate", o.logger,
		func(ctx context.Context) (string, error) {
			start := time.Now()
			resp, err := o.generator.Generate(ctx, generator.Request{
				Messages: generator.BuildMessages(english, q.Language, ranked, history),
			})
			o.observeUpstream("generator", start, err)
			if err != nil {
				return "", err
			}
			return resp.Text, nil
		},
		func(ctx context.Context) (string, error) {
			return "", nil
		},
	)
	genSpan.End()
	if err != nil || strings.TrimSpace(text) == "" {
		ans := generator.FallbackAnswer(q.Language)
		ans.Emergency = emergency
		return ans
	}

	validated := o.validate(ctx, text, generator.BuildCitations(ranked), q.Language)
	return &types.Answer{
		Text:      validated.Answer,
		Citations: validated.Citations,
		Warnings:  validated.Warnings,
		Language:  q.Language,
		Emergency: emergency,
	}
}

// retrieveCandidates 嵌入失败或存储出错时返回空序列。
func (o *Orchestrator) retrieveCandidates(ctx context.Context, q *types.Query, english string) []types.RetrievedDocument {
	ctx, span := tracer.Start(ctx, "pipeline.retrieve")
	defer span.End()

	start := time.Now()
	vecs, err := o.inference.Embed(ctx, []string{english})
	o.observeUpstream("inference", start, err)
	if err != nil {
		o.logger.Warn("embedding failed, skipping retrieval",
			zap.String("query_id", q.ID), zap.Error(err))
		return nil
	}

	keywords := strings.Fields(strings.ToLower(english))
	docs := o.retriever.HybridSearch(ctx, vecs[0], keywords, retrieval.Options{})
	span.SetAttributes(attribute.Int("candidates", len(docs)))
	if o.metrics != nil {
		o.metrics.RecordRetrieval("hybrid", len(docs))
	}
	return docs
}

// trimToTokenBudget 按分块器的 token 估算截取提示词能容纳的段落，
// 至少保留排名第一的段落。
func trimToTokenBudget(docs []types.RetrievedDocument, budget int) []types.RetrievedDocument {
	total := 0
	for i, d := range docs {
		total += chunker.EstimateTokens(d.Content)
		if total > budget && i > 0 {
			return docs[:i]
		}
	}
	return docs
}

// validate 安全与引用校验阶段
func (o *Orchestrator) validate(ctx context.Context, answer string, citations []types.Citation, lang types.Language) ValidationResult {
	_, span := tracer.Start(ctx, "pipeline.validate")
	defer span.End()
	return o.validator(answer, citations, lang)
}

// emergencyBanners 紧急回答最前面的提示行
var emergencyBanners = map[types.Language]string{
	types.LangEnglish:  "EMERGENCY: Please call 108 for an ambulance immediately.",
	types.LangHindi:    "आपातकाल: कृपया तुरंत एम्बुलेंस के लिए 108 पर कॉल करें।",
	types.LangOdia:     "ଜରୁରୀକାଳୀନ: ଦୟାକରି ସଙ୍ଗେ ସଙ୍ଗେ ଆମ୍ବୁଲାନ୍ସ ପାଇଁ 108 କୁ କଲ୍ କରନ୍ତୁ।",
	types.LangAssamese: "জৰুৰীকালীন: অনুগ্ৰহ কৰি লগে লগে এম্বুলেন্সৰ বাবে 108 নম্বৰত ফোন কৰক।",
}

// prependFacilityGuidance 把急救热线与最近医疗机构指引插入回答最前面。
func (o *Orchestrator) prependFacilityGuidance(ctx context.Context, q *types.Query, answer *types.Answer) {
	var b strings.Builder
	b.WriteString(forLanguage(emergencyBanners, q.Language))
	b.WriteString("\n")

	if o.store != nil {
		facilities, err := o.store.NearestFacilities(ctx, q.District, 3)
		if err != nil {
			o.logger.Warn("failed to load facility guidance",
				zap.String("district", q.District), zap.Error(err))
		}
		for _, f := range facilities {
			b.WriteString("- " + f.Name)
			if f.Address != "" {
				b.WriteString(", " + f.Address)
			}
			if f.Phone != "" {
				b.WriteString(" (" + f.Phone + ")")
			}
			b.WriteString("\n")
		}
	}

	answer.Text = b.String() + "\n" + answer.Text
}

// persistAsync 异步落库，失败只记日志，绝不影响应答。
func (o *Orchestrator) persistAsync(ctx context.Context, q *types.Query, answer *types.Answer, decision types.RoutingDecision) {
	if o.store == nil {
		return
	}

	rec := types.InteractionRecord{
		QueryID:     q.ID,
		SessionID:   q.SessionID,
		Identifier:  q.Identifier,
		QueryText:   q.Text,
		AnswerText:  answer.Text,
		Language:    q.Language,
		Channel:     q.Channel,
		AgentPath:   answer.AgentPath,
		Emergency:   answer.Emergency,
		ReasonCodes: decision.ReasonCodes,
		Elapsed:     answer.Elapsed,
		CreatedAt:   time.Now(),
	}

	// 与请求上下文解耦：客户端断开不应中断落库
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		pctx, cancel := context.WithTimeout(bgCtx, o.config.PersistTimeout)
		defer cancel()
		pctx, span := tracer.Start(pctx, "pipeline.persist")
		defer span.End()
		if err := o.store.LogInteraction(pctx, rec); err != nil {
			o.logger.Warn("failed to persist interaction",
				zap.String("query_id", rec.QueryID), zap.Error(err))
		}
	}()
}
