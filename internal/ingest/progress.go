package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ProgressEvent 单个文件处理完成后的进度事件
// JSON 键与历史消费方保持一致（docs/totalDocs 等）。
type ProgressEvent struct {
	CourseID    string    `json:"courseId"`
	FileIndex   int       `json:"fileIndex"`
	TotalFiles  int       `json:"totalFiles"`
	FileName    string    `json:"fileName,omitempty"`
	Chunks      int       `json:"docs"`
	TotalChunks int       `json:"totalDocs"`
	Done        bool      `json:"done,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ProgressSink 进度事件接收端
// Publish 不允许阻塞摄取主流程，也不允许让事件失败中断任务。
type ProgressSink interface {
	Publish(ctx context.Context, ev *ProgressEvent)
}

// SinkFunc 函数式 ProgressSink 适配器
type SinkFunc func(ctx context.Context, ev *ProgressEvent)

// Publish 实现 ProgressSink
func (f SinkFunc) Publish(ctx context.Context, ev *ProgressEvent) {
	f(ctx, ev)
}

// LogSink 把进度事件写入日志
type LogSink struct {
	Logger *zap.Logger
}

// Publish 实现 ProgressSink
func (s *LogSink) Publish(_ context.Context, ev *ProgressEvent) {
	s.Logger.Info("摄取进度",
		zap.String("course_id", ev.CourseID),
		zap.Int("file_index", ev.FileIndex),
		zap.Int("total_files", ev.TotalFiles),
		zap.String("file", ev.FileName),
		zap.Int("chunks", ev.Chunks),
		zap.Int("total_chunks", ev.TotalChunks),
		zap.Bool("done", ev.Done),
	)
}

// RedisSink 把进度事件发布到 Redis 频道 ingest:progress:<courseId>
// 发布失败只告警不回传，慢速订阅方不能拖垮摄取任务。
type RedisSink struct {
	client  redis.UniversalClient
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisSink 创建 Redis 进度发布器
func NewRedisSink(client redis.UniversalClient, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		client:  client,
		logger:  logger,
		timeout: 2 * time.Second,
	}
}

// ProgressChannel 课程进度事件的 Redis 频道名
func ProgressChannel(courseID string) string {
	return fmt.Sprintf("ingest:progress:%s", courseID)
}

// Publish 实现 ProgressSink
func (s *RedisSink) Publish(ctx context.Context, ev *ProgressEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("进度事件序列化失败", zap.Error(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Publish(pubCtx, ProgressChannel(ev.CourseID), payload).Err(); err != nil {
		s.logger.Warn("进度事件发布失败",
			zap.String("course_id", ev.CourseID),
			zap.Error(err),
		)
	}
}
