package types

import "time"

// Language 支持的语言代码（en / hi / or / as）
type Language string

const (
	LangEnglish  Language = "en"
	LangHindi    Language = "hi"
	LangOdia     Language = "or"
	LangAssamese Language = "as"
)

// Channel 入站渠道
type Channel string

const (
	ChannelWeb      Channel = "web"      // 网页聊天组件
	ChannelWhatsApp Channel = "whatsapp" // 短信/消息运营商
)

// Query 渠道适配器产出的规范化查询请求
type Query struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Identifier string    `json:"identifier"` // 限流标识（手机号或 IP）
	Text       string    `json:"text"`
	Language   Language  `json:"language,omitempty"` // 为空时自动检测
	Channel    Channel   `json:"channel"`
	District   string    `json:"district,omitempty"` // 用于最近医疗机构指引
	History    []string  `json:"history,omitempty"`  // 本会话的前几轮查询
	ReceivedAt time.Time `json:"received_at"`
}

// DocumentMetadata 检索文档的元数据
type DocumentMetadata struct {
	Source   string   `json:"source"`
	Title    string   `json:"title"`
	Language Language `json:"language"`
	Category string   `json:"category,omitempty"`
	Link     string   `json:"link,omitempty"`
}

// RetrievedDocument 检索器返回的候选文档。
// 返回后不可变：重排序产出带新分数的副本，绝不原地修改。
type RetrievedDocument struct {
	ID                  string           `json:"id"`
	Content             string           `json:"content"`
	EmbeddingSimilarity float64          `json:"embedding_similarity"` // [0,1]
	Score               float64          `json:"score"`                // 重排序后的最终分数
	Metadata            DocumentMetadata `json:"metadata"`
}

// RoutingDecision 路由器对单个请求的路径决定。
// 瞬态对象，由编排器立即消费，仅为可观测性记录日志。
type RoutingDecision struct {
	UseAgentPath    bool     `json:"use_agent_path"`
	ReasonCodes     []string `json:"reason_codes"`
	Confidence      float64  `json:"confidence"`       // [0,1]
	ComplexityScore int      `json:"complexity_score"` // [0,10]
	Emergency       bool     `json:"emergency"`
}

// Chunk 分块器按序产出的文档片段。
// 相邻片段按设计共享首尾句子（重叠不是缺陷）。
type Chunk struct {
	Text             string `json:"text"`
	SequenceIndex    uint   `json:"sequence_index"`
	SourceDocumentID string `json:"source_document_id"`
	TokenEstimate    int    `json:"token_estimate"`
}

// Citation 答案引用
type Citation struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	Link   string `json:"link,omitempty"`
}

// Answer 管线最终产出
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
	Language  Language   `json:"language"`
	Emergency bool       `json:"emergency"`
	AgentPath bool       `json:"agent_path"`
	FromCache bool       `json:"from_cache"`
	Elapsed   float64    `json:"elapsed_seconds"`
}

// InteractionRecord 异步落库的交互记录
type InteractionRecord struct {
	QueryID     string    `json:"query_id"`
	SessionID   string    `json:"session_id"`
	Identifier  string    `json:"identifier"`
	QueryText   string    `json:"query_text"`
	AnswerText  string    `json:"answer_text"`
	Language    Language  `json:"language"`
	Channel     Channel   `json:"channel"`
	AgentPath   bool      `json:"agent_path"`
	Emergency   bool      `json:"emergency"`
	ReasonCodes []string  `json:"reason_codes"`
	Elapsed     float64   `json:"elapsed_seconds"`
	CreatedAt   time.Time `json:"created_at"`
}
