package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 摄取指标
var (
	// IngestFilesTotal 摄取处理的字幕文件总数
	IngestFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursechat_ingest_files_total",
			Help: "摄取处理的字幕文件总数",
		},
		[]string{"course_id", "status"},
	)

	// IngestChunksTotal 摄取写入的分块总数
	IngestChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursechat_ingest_chunks_total",
			Help: "摄取写入向量库的分块总数",
		},
		[]string{"course_id"},
	)

	// IngestJobDuration 单次摄取任务耗时（秒）
	IngestJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursechat_ingest_job_duration_seconds",
			Help:    "单次摄取任务耗时分布",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"course_id", "status"},
	)
)

// 问答指标
var (
	// AskTotal 课程问答总数
	AskTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursechat_ask_total",
			Help: "课程问答请求总数",
		},
		[]string{"course_id", "status"},
	)

	// AskDuration 课程问答耗时（秒）
	AskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursechat_ask_duration_seconds",
			Help:    "课程问答端到端耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"course_id"},
	)

	// RetrievalResults 相似度检索返回结果数量
	RetrievalResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursechat_retrieval_results",
			Help:    "相似度检索返回结果数量分布",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		},
		[]string{"course_id"},
	)
)
