package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// QdrantOptions 初始化 Qdrant 向量存储的配置
type QdrantOptions struct {
	Endpoint       string
	APIKey         string
	Distance       string
	TimeoutSeconds int
	HTTPClient     *http.Client
}

// QdrantStore 基于 Qdrant HTTP API 的向量存储实现
// 集合按课程划分，集合名由每次调用传入
type QdrantStore struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	distance string
}

// NewQdrantStore 创建 Qdrant 向量存储实例
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	baseURL := strings.TrimSpace(opts.Endpoint)
	if baseURL == "" {
		return nil, fmt.Errorf("qdrant endpoint 不能为空")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	distance := opts.Distance
	if distance == "" {
		distance = "Cosine"
	}

	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	return &QdrantStore{
		client:   client,
		baseURL:  baseURL,
		apiKey:   opts.APIKey,
		distance: distance,
	}, nil
}

// Point 写入集合的一个向量点
type Point struct {
	ID      string       `json:"id"`
	Vector  []float32    `json:"vector"`
	Payload PointPayload `json:"payload"`
}

// PointPayload 点负载，负载键与历史数据保持一致
type PointPayload struct {
	CourseID string `json:"courseId"`
	Text     string `json:"text"`
	File     string `json:"file"`
}

// SearchResult 相似度检索的一条返回结果
type SearchResult struct {
	ID      string       `json:"id"`
	Score   float64      `json:"score"`
	Payload PointPayload `json:"payload"`
}

// CollectionInfo 集合元信息
type CollectionInfo struct {
	VectorSize  int
	PointsCount int64
}

// GetCollectionInfo 查询集合元信息
// 集合不存在时返回 KindCollectionNotFound 类别错误
func (s *QdrantStore) GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	var resp collectionInfoResponse
	if err := s.doRequest(ctx, http.MethodGet, s.collectionPath(collection, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		VectorSize:  resp.Result.Config.Params.Vectors.Size,
		PointsCount: resp.Result.PointsCount,
	}, nil
}

// EnsureCollection 保证集合存在且维度与 expectedDim 一致（幂等）
// forceRecreate 时无条件删除重建；维度不一致时同样删除重建（旧向量本就不可用）。
// 返回 fresh=true 表示集合是本次新建的（原有数据已不存在）。
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, expectedDim int, forceRecreate bool) (fresh bool, err error) {
	if expectedDim <= 0 {
		return false, fmt.Errorf("集合维度必须大于 0: %d", expectedDim)
	}

	if forceRecreate {
		if err := s.DeleteCollection(ctx, collection); err != nil {
			return false, err
		}
		return true, s.createCollection(ctx, collection, expectedDim)
	}

	info, err := s.GetCollectionInfo(ctx, collection)
	if err != nil {
		if IsCollectionNotFound(err) {
			return true, s.createCollection(ctx, collection, expectedDim)
		}
		return false, err
	}

	// 维度一致则无需任何操作
	if info.VectorSize == expectedDim {
		return false, nil
	}

	// 维度不一致：旧向量来自不兼容的嵌入模型，删除重建
	if err := s.DeleteCollection(ctx, collection); err != nil {
		return false, err
	}
	return true, s.createCollection(ctx, collection, expectedDim)
}

// Upsert 按点 ID 写入或覆盖一批向量点（同 ID 重复写入幂等）
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []*Point) error {
	if len(points) == 0 {
		return nil
	}

	req := upsertPointsRequest{Points: points}
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPut, s.collectionPath(collection, "/points?wait=true"), req, &resp); err != nil {
		return err
	}
	if resp.Status.Error != "" {
		return &StoreError{Kind: KindUnavailable, Collection: collection, Message: resp.Status.Error}
	}
	return nil
}

// Search 在集合内执行相似度检索，返回按距离从近到远排序的 topK 个点
// 查询向量长度与集合维度不一致时返回 KindDimensionMismatch 类别错误
func (s *QdrantStore) Search(ctx context.Context, collection string, queryVector []float32, topK int) ([]*SearchResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = 4
	}

	req := searchRequest{
		Vector:      queryVector,
		Limit:       topK,
		WithPayload: true,
	}

	var resp searchResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath(collection, "/points/search"), req, &resp); err != nil {
		return nil, err
	}
	if resp.Status.Error != "" {
		return nil, classifyQdrantError(collection, 0, resp.Status.Error)
	}

	results := make([]*SearchResult, 0, len(resp.Result))
	for _, item := range resp.Result {
		results = append(results, &SearchResult{
			ID:      fmt.Sprint(item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return results, nil
}

// DeleteCollection 删除集合（尽力而为，集合不存在不算错误）
func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	var resp qdrantOperationResponse
	err := s.doRequest(ctx, http.MethodDelete, s.collectionPath(collection, ""), nil, &resp)
	if err != nil && !IsCollectionNotFound(err) {
		return err
	}
	return nil
}

// Count 返回集合中的点数量（精确计数）
func (s *QdrantStore) Count(ctx context.Context, collection string) (int64, error) {
	req := countRequest{Exact: true}
	var resp countResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath(collection, "/points/count"), req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// --- 内部辅助 ---

func (s *QdrantStore) createCollection(ctx context.Context, collection string, dim int) error {
	req := createCollectionRequest{
		Vectors: qdrantVectorParams{
			Size:     dim,
			Distance: s.distance,
		},
	}
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPut, s.collectionPath(collection, ""), req, &resp); err != nil {
		return err
	}
	if resp.Status.Error != "" {
		return &StoreError{Kind: KindUnavailable, Collection: collection, Message: resp.Status.Error}
	}
	return nil
}

func (s *QdrantStore) collectionPath(collection, path string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(collection), path)
}

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, payload any, dest any) error {
	var bodyReader *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		bodyReader = bytes.NewReader(buf)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	fullURL := s.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &StoreError{Kind: KindUnavailable, Collection: collectionFromPath(path), Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp qdrantOperationResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return classifyQdrantError(collectionFromPath(path), resp.StatusCode, errResp.Status.Error)
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("解析 Qdrant 响应失败: %w", err)
	}
	return nil
}

var dimErrorPattern = regexp.MustCompile(`expected dim: (\d+), got (\d+)`)

// classifyQdrantError 将 Qdrant 返回的错误归入封闭错误类别
func classifyQdrantError(collection string, httpStatus int, message string) error {
	if strings.Contains(message, "Vector dimension error") {
		se := &StoreError{Kind: KindDimensionMismatch, Collection: collection, Message: message}
		if m := dimErrorPattern.FindStringSubmatch(message); m != nil {
			se.Expected, _ = strconv.Atoi(m[1])
			se.Actual, _ = strconv.Atoi(m[2])
		}
		return se
	}
	if httpStatus == http.StatusNotFound || strings.Contains(message, "doesn't exist") || strings.Contains(message, "not found") {
		return &StoreError{Kind: KindCollectionNotFound, Collection: collection, Message: message}
	}
	if message == "" {
		message = fmt.Sprintf("HTTP %d", httpStatus)
	}
	return &StoreError{Kind: KindUnavailable, Collection: collection, Message: message}
}

// collectionFromPath 从请求路径还原集合名（仅用于错误信息）
func collectionFromPath(path string) string {
	trimmed := strings.TrimPrefix(path, "/collections/")
	if idx := strings.IndexAny(trimmed, "/?"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	name, err := url.PathUnescape(trimmed)
	if err != nil {
		return trimmed
	}
	return name
}

// --- Qdrant API payloads ---

// qdrantStatus Qdrant 的 status 字段，成功时为字符串 "ok"，失败时为 {"error": "..."}
type qdrantStatus struct {
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if str != "ok" {
			s.Error = str
		}
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.Error = obj.Error
	return nil
}

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type upsertPointsRequest struct {
	Points []*Point `json:"points"`
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResponse struct {
	Status qdrantStatus        `json:"status"`
	Result []searchResultEntry `json:"result"`
}

type searchResultEntry struct {
	ID      any          `json:"id"`
	Score   float64      `json:"score"`
	Payload PointPayload `json:"payload"`
}

type qdrantOperationResponse struct {
	Status qdrantStatus `json:"status"`
}

type collectionInfoResponse struct {
	Status qdrantStatus `json:"status"`
	Result struct {
		PointsCount int64 `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

type countRequest struct {
	Exact bool `json:"exact"`
}

type countResponse struct {
	Status qdrantStatus `json:"status"`
	Result struct {
		Count int64 `json:"count"`
	} `json:"result"`
}
