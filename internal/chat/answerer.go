package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coursechat/internal/course"
	"coursechat/internal/metrics"
	"coursechat/internal/rag"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Searcher 问答侧需要的向量检索能力
type Searcher interface {
	Search(ctx context.Context, collection string, queryVector []float32, topK int) ([]*rag.SearchResult, error)
}

// Options 问答参数，零值字段回落到默认配置
type Options struct {
	Model           string  // 对话模型
	TopK            int     // 检索条数
	MaxContextChars int     // 上下文字符预算
	Temperature     float32 // 采样温度
	MaxTokens       int     // 回答 token 上限
}

func (o *Options) withDefaults() {
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.TopK <= 0 {
		o.TopK = 4
	}
	if o.MaxContextChars <= 0 {
		o.MaxContextChars = 3000
	}
	if o.Temperature <= 0 {
		o.Temperature = 0.2
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 500
	}
}

// Answer 一次问答的结果
type Answer struct {
	Text      string        `json:"ragAnswer"`
	CourseID  string        `json:"courseId"`
	Hits      int           `json:"hits"`
	Latency   time.Duration `json:"-"`
	LatencyMs int64         `json:"latencyMs"`
}

// Answerer 检索增强问答器
// 用与摄取时相同的嵌入配置向量化问题，检索课程集合后请求模型生成有依据的回答。
type Answerer struct {
	llm      *openai.Client
	embedder rag.EmbeddingProvider
	searcher Searcher
	db       *gorm.DB
	logger   *zap.Logger
	opts     Options
}

// NewAnswerer 创建问答器
// db 可以为 nil，此时不落问答日志。
func NewAnswerer(
	llm *openai.Client,
	embedder rag.EmbeddingProvider,
	searcher Searcher,
	db *gorm.DB,
	logger *zap.Logger,
	opts Options,
) *Answerer {
	opts.withDefaults()
	return &Answerer{
		llm:      llm,
		embedder: embedder,
		searcher: searcher,
		db:       db,
		logger:   logger,
		opts:     opts,
	}
}

// Ask 针对一门课程回答一个问题
// 维度不匹配的检索失败原样上抛（调用方据此提示重新摄取），其余错误包装后上抛。
// 模型返回空回答时返回空字符串而不是错误。
func (a *Answerer) Ask(ctx context.Context, c *course.Course, query string) (*Answer, error) {
	ctx, span := otel.Tracer("coursechat/chat").Start(ctx, "chat.ask",
		trace.WithAttributes(attribute.String("course.id", c.CourseID)))
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("问题不能为空")
	}

	start := time.Now()

	queryVector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		metrics.AskTotal.WithLabelValues(c.CourseID, "embed_failed").Inc()
		return nil, fmt.Errorf("问题向量化失败: %w", err)
	}

	hits, err := a.searcher.Search(ctx, c.QdrantCollection, queryVector, a.opts.TopK)
	if err != nil {
		if rag.IsDimensionMismatch(err) {
			// 维度不匹配是可操作的用户错误：索引过期，需要重新摄取
			metrics.AskTotal.WithLabelValues(c.CourseID, "dimension_mismatch").Inc()
			return nil, err
		}
		metrics.AskTotal.WithLabelValues(c.CourseID, "search_failed").Inc()
		return nil, fmt.Errorf("相似度检索失败: %w", err)
	}
	metrics.RetrievalResults.WithLabelValues(c.CourseID).Observe(float64(len(hits)))

	// 零命中也继续：上下文为空，模型只能依据系统提示作答
	contextText := assembleContext(hits, a.opts.MaxContextChars)

	resp, err := a.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.opts.Model,
		Temperature: a.opts.Temperature,
		MaxTokens:   a.opts.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(c.Name)},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(contextText, query)},
		},
	})
	if err != nil {
		metrics.AskTotal.WithLabelValues(c.CourseID, "completion_failed").Inc()
		return nil, fmt.Errorf("模型调用失败: %w", err)
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
	}

	latency := time.Since(start)
	metrics.AskTotal.WithLabelValues(c.CourseID, "ok").Inc()
	metrics.AskDuration.WithLabelValues(c.CourseID).Observe(latency.Seconds())

	answer := &Answer{
		Text:      text,
		CourseID:  c.CourseID,
		Hits:      len(hits),
		Latency:   latency,
		LatencyMs: latency.Milliseconds(),
	}

	a.logMessage(ctx, c.CourseID, query, answer)

	a.logger.Info("问答完成",
		zap.String("course_id", c.CourseID),
		zap.Int("hits", len(hits)),
		zap.Int64("latency_ms", answer.LatencyMs),
		zap.Int("answer_len", len(text)),
	)
	return answer, nil
}

// assembleContext 按相似度排名拼接检索结果，空行分隔并截断到字符预算
func assembleContext(hits []*rag.SearchResult, maxChars int) string {
	texts := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Payload.Text != "" {
			texts = append(texts, hit.Payload.Text)
		}
	}
	joined := strings.Join(texts, "\n\n")

	runes := []rune(joined)
	if len(runes) > maxChars {
		joined = string(runes[:maxChars])
	}
	return joined
}

// logMessage 异步落问答日志，失败只告警
func (a *Answerer) logMessage(ctx context.Context, courseID, query string, answer *Answer) {
	if a.db == nil {
		return
	}
	record := &Message{
		CourseID:  courseID,
		Query:     query,
		Answer:    answer.Text,
		Hits:      answer.Hits,
		LatencyMs: answer.LatencyMs,
	}
	if err := a.db.WithContext(ctx).Create(record).Error; err != nil {
		a.logger.Warn("问答日志写入失败", zap.Error(err))
	}
}
