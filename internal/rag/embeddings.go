package rag

import "context"

// EmbeddingProvider 抽象不同向量模型/服务的统一接口。
// 同一课程的摄取与查询必须使用同一 Provider 配置，维度才能对齐。
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
	GetDimension() int
	GetProviderName() string
}
