package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coursechat/internal/course"
	"coursechat/internal/rag"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- 测试替身 ---

type fakeEmbedder struct {
	dim int
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeEmbedder) GetModel() string        { return "fake-embedding" }
func (f *fakeEmbedder) GetDimension() int       { return f.dim }
func (f *fakeEmbedder) GetProviderName() string { return "fake" }

type fakeSearcher struct {
	hits []*rag.SearchResult
	err  error

	gotCollection string
	gotTopK       int
}

func (f *fakeSearcher) Search(_ context.Context, collection string, _ []float32, topK int) ([]*rag.SearchResult, error) {
	f.gotCollection = collection
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

// fakeCompletionServer 返回固定回答并记录最近一次请求
type fakeCompletionServer struct {
	client  *openai.Client
	lastReq *openai.ChatCompletionRequest
	reply   string
}

func newFakeCompletionServer(t *testing.T, reply string) *fakeCompletionServer {
	t.Helper()
	f := &fakeCompletionServer{reply: reply}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.lastReq = &req

		resp := openai.ChatCompletionResponse{
			ID:    "chatcmpl-test",
			Model: req.Model,
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: f.reply}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = server.URL + "/v1"
	cfg.HTTPClient = server.Client()
	f.client = openai.NewClientWithConfig(cfg)
	return f
}

func testCourse() *course.Course {
	return &course.Course{
		CourseID:            "golang",
		Name:                "Go 实战",
		QdrantCollection:    "course_golang",
		EmbeddingDimensions: 4,
		IsActive:            true,
	}
}

func hit(text string) *rag.SearchResult {
	return &rag.SearchResult{Payload: rag.PointPayload{CourseID: "golang", Text: text}}
}

func TestAskBuildsPromptFromRankedHits(t *testing.T) {
	llm := newFakeCompletionServer(t, "  goroutine 是轻量级线程。  ")
	searcher := &fakeSearcher{hits: []*rag.SearchResult{
		hit("第一段最相关"), hit("第二段次相关"), hit("第三段"),
	}}

	a := NewAnswerer(llm.client, &fakeEmbedder{dim: 4}, searcher, nil, zap.NewNop(), Options{})
	answer, err := a.Ask(context.Background(), testCourse(), "什么是 goroutine?")
	require.NoError(t, err)

	// 回答去掉首尾空白
	require.Equal(t, "goroutine 是轻量级线程。", answer.Text)
	require.Equal(t, 3, answer.Hits)

	// 检索参数：课程集合 + 默认 top-k
	require.Equal(t, "course_golang", searcher.gotCollection)
	require.Equal(t, 4, searcher.gotTopK)

	// 模型请求：低温、限长、两条消息
	require.NotNil(t, llm.lastReq)
	require.Equal(t, "gpt-4.1-mini", llm.lastReq.Model)
	require.InDelta(t, 0.2, llm.lastReq.Temperature, 1e-6)
	require.Equal(t, 500, llm.lastReq.MaxTokens)
	require.Len(t, llm.lastReq.Messages, 2)

	system := llm.lastReq.Messages[0]
	require.Equal(t, openai.ChatMessageRoleSystem, system.Role)
	require.Contains(t, system.Content, "Go 实战")

	user := llm.lastReq.Messages[1]
	require.Equal(t, openai.ChatMessageRoleUser, user.Role)
	require.Contains(t, user.Content, "什么是 goroutine?")
	// 上下文按排名顺序、空行分隔
	require.Contains(t, user.Content, "第一段最相关\n\n第二段次相关\n\n第三段")
}

func TestAskZeroHitsStillCompletes(t *testing.T) {
	llm := newFakeCompletionServer(t, "课程资料里没有覆盖这一点。")
	searcher := &fakeSearcher{}

	a := NewAnswerer(llm.client, &fakeEmbedder{dim: 4}, searcher, nil, zap.NewNop(), Options{})
	answer, err := a.Ask(context.Background(), testCourse(), "没人教过的问题")
	require.NoError(t, err)
	require.Equal(t, 0, answer.Hits)
	require.NotEmpty(t, answer.Text)
	// 零命中也要发起模型调用，上下文为空
	require.NotNil(t, llm.lastReq)
}

func TestAskEmptyCompletionReturnsEmptyString(t *testing.T) {
	llm := newFakeCompletionServer(t, "   ")
	searcher := &fakeSearcher{hits: []*rag.SearchResult{hit("资料")}}

	a := NewAnswerer(llm.client, &fakeEmbedder{dim: 4}, searcher, nil, zap.NewNop(), Options{})
	answer, err := a.Ask(context.Background(), testCourse(), "问题")
	require.NoError(t, err)
	require.Equal(t, "", answer.Text)
}

func TestAskSurfacesDimensionMismatch(t *testing.T) {
	llm := newFakeCompletionServer(t, "unused")
	searcher := &fakeSearcher{err: &rag.StoreError{
		Kind:       rag.KindDimensionMismatch,
		Collection: "course_golang",
		Expected:   1536,
		Actual:     4,
	}}

	a := NewAnswerer(llm.client, &fakeEmbedder{dim: 4}, searcher, nil, zap.NewNop(), Options{})
	_, err := a.Ask(context.Background(), testCourse(), "问题")
	require.Error(t, err)
	require.True(t, rag.IsDimensionMismatch(err))

	var se *rag.StoreError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 1536, se.Expected)
	require.Equal(t, 4, se.Actual)
	// 维度不匹配时不应调用模型
	require.Nil(t, llm.lastReq)
}

func TestAskRejectsEmptyQuery(t *testing.T) {
	llm := newFakeCompletionServer(t, "unused")
	a := NewAnswerer(llm.client, &fakeEmbedder{dim: 4}, &fakeSearcher{}, nil, zap.NewNop(), Options{})

	_, err := a.Ask(context.Background(), testCourse(), "   ")
	require.Error(t, err)
}

func TestAssembleContextTruncates(t *testing.T) {
	long := strings.Repeat("内容", 1000) // 2000 runes
	hits := []*rag.SearchResult{hit(long), hit(long)}

	out := assembleContext(hits, 3000)
	require.Equal(t, 3000, len([]rune(out)))
	// 截断发生在拼接之后，保留排名靠前的内容
	require.True(t, strings.HasPrefix(out, "内容"))
}

func TestAssembleContextSkipsEmptyPayloads(t *testing.T) {
	hits := []*rag.SearchResult{hit("a"), hit(""), hit("b")}
	require.Equal(t, "a\n\nb", assembleContext(hits, 3000))
}
