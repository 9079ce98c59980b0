package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/generator"
	"github.com/swasthya-ai/sahayak/retrieval"
	"github.com/swasthya-ai/sahayak/types"
)

// agentSystemPrompt Agent 路径的系统提示。工具结果同样只能
// 作为资料引用，不允许越过安全边界。
const agentSystemPrompt = `You are Swasthya Sahayak, a public-health information assistant for rural India.
You can call tools to look up verified documents, find health facilities, and translate text.
Use tools when needed, then give a short final answer grounded in tool results.
Never provide a diagnosis or prescribe medication.`

// agentTools 暴露给生成模型的工具集，集合是固定的。
var agentTools = []generator.ToolSchema{
	{
		Name:        "retrieve_documents",
		Description: "Search the verified health knowledge base",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"search query in English"}},"required":["query"]}`),
	},
	{
		Name:        "lookup_facility",
		Description: "Find nearby government health facilities by district",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"district":{"type":"string"}},"required":["district"]}`),
	},
	{
		Name:        "translate_text",
		Description: "Translate text to a target language (en, hi, or, as)",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"},"target_language":{"type":"string"}},"required":["text","target_language"]}`),
	},
}

// agentResult Agent 路径产出：最终文本与工具检索到的文档。
type agentResult struct {
	Text      string
	Documents []types.RetrievedDocument
	ToolCalls int
}

// runAgentLoop 有界工具调用循环。调用次数与墙钟时间双重硬上限，
// 任何失败或超限都返回错误，由调用方回落到快速路径。
func (o *Orchestrator) runAgentLoop(ctx context.Context, q *types.Query, history []string) (*agentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.AgentDeadline)
	defer cancel()

	result := &agentResult{}
	ctx, span := tracer.Start(ctx, "pipeline.agent_loop")
	defer func() {
		span.SetAttributes(attribute.Int("tool_calls", result.ToolCalls))
		span.End()
	}()

	messages := make([]generator.Message, 0, len(history)+2)
	messages = append(messages, generator.Message{Role: generator.RoleSystem, Content: agentSystemPrompt})
	for _, h := range history {
		messages = append(messages, generator.Message{Role: generator.RoleUser, Content: h})
	}
	messages = append(messages, generator.Message{Role: generator.RoleUser, Content: q.Text})

	for {
		start := time.Now()
		resp, err := o.generator.Generate(ctx, generator.Request{
			Messages: messages,
			Tools:    agentTools,
		})
		o.observeUpstream("generator", start, err)
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			if strings.TrimSpace(resp.Text) == "" {
				return nil, fmt.Errorf("agent loop produced empty answer")
			}
			result.Text = resp.Text
			return result, nil
		}

		if result.ToolCalls+len(resp.ToolCalls) > o.config.MaxToolCalls {
			return nil, fmt.Errorf("agent loop exceeded tool call cap (%d)", o.config.MaxToolCalls)
		}

		messages = append(messages, generator.Message{
			Role:      generator.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			result.ToolCalls++
			output, docs := o.executeTool(ctx, q, call)
			result.Documents = append(result.Documents, docs...)
			messages = append(messages, generator.Message{
				Role:       generator.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}
}

// executeTool 执行单个工具调用。工具失败不终止循环，
// 把错误文本回传给模型让它自行调整。
func (o *Orchestrator) executeTool(ctx context.Context, q *types.Query, call generator.ToolCall) (string, []types.RetrievedDocument) {
	switch call.Name {
	case "retrieve_documents":
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil || strings.TrimSpace(args.Query) == "" {
			return "error: invalid arguments for retrieve_documents", nil
		}
		vec, err := o.inference.Embed(ctx, []string{args.Query})
		if err != nil {
			o.logger.Warn("agent tool embed failed", zap.Error(err))
			return "error: knowledge base unavailable", nil
		}
		docs := o.retriever.HybridSearch(ctx, vec[0], strings.Fields(strings.ToLower(args.Query)), retrieval.Options{})
		if len(docs) == 0 {
			return "no documents found", nil
		}
		var b strings.Builder
		for i, d := range docs {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, d.Metadata.Source, d.Content)
		}
		return b.String(), docs

	case "lookup_facility":
		var args struct {
			District string `json:"district"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "error: invalid arguments for lookup_facility", nil
		}
		if args.District == "" {
			args.District = q.District
		}
		if o.store == nil {
			return "no facilities available", nil
		}
		facilities, err := o.store.NearestFacilities(ctx, args.District, 3)
		if err != nil || len(facilities) == 0 {
			return "no facilities found for district " + args.District, nil
		}
		var b strings.Builder
		for _, f := range facilities {
			fmt.Fprintf(&b, "%s (%s), %s, phone %s\n", f.Name, f.Kind, f.Address, f.Phone)
		}
		return b.String(), nil

	case "translate_text":
		var args struct {
			Text           string `json:"text"`
			TargetLanguage string `json:"target_language"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil || args.Text == "" {
			return "error: invalid arguments for translate_text", nil
		}
		results, err := o.inference.Translate(ctx, []string{args.Text}, types.Language(args.TargetLanguage))
		if err != nil {
			o.logger.Warn("agent tool translate failed", zap.Error(err))
			return "error: translation unavailable", nil
		}
		return results[0].Text, nil

	default:
		return "error: unknown tool " + call.Name, nil
	}
}
