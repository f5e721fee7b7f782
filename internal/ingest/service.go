package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"coursechat/internal/course"
	"coursechat/internal/logger"
	"coursechat/internal/metrics"
	"coursechat/internal/rag"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// File 摄取输入的一个字幕文件
type File struct {
	Name    string
	Content []byte
}

// Summary 单次摄取任务的结果汇总
type Summary struct {
	Upserted        int  `json:"upserted"`
	ProcessedFiles  int  `json:"processedFiles"`
	TotalFiles      int  `json:"totalFiles"`
	CollectionReset bool `json:"collectionReset"` // 集合是否在本次任务中被新建/重建
}

// VectorIndex 摄取侧需要的向量库能力子集
type VectorIndex interface {
	EnsureCollection(ctx context.Context, collection string, expectedDim int, forceRecreate bool) (fresh bool, err error)
	Upsert(ctx context.Context, collection string, points []*rag.Point) error
}

// Registry 摄取成功后需要回写的课程统计入口
type Registry interface {
	RecordIngestion(ctx context.Context, courseID string, upserted int, reset bool, at time.Time) error
}

// Service 摄取编排器：解析 → 分块 → 向量化 → 写入，逐文件推进并上报进度
type Service struct {
	db       *gorm.DB
	index    VectorIndex
	embedder rag.EmbeddingProvider
	chunker  *Chunker
	registry Registry
	logger   *zap.Logger
	tracer   trace.Tracer

	sinks []ProgressSink
}

// NewService 创建摄取编排器
func NewService(
	db *gorm.DB,
	index VectorIndex,
	embedder rag.EmbeddingProvider,
	chunker *Chunker,
	registry Registry,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:       db,
		index:    index,
		embedder: embedder,
		chunker:  chunker,
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer("coursechat/ingest"),
	}
}

// WithProgressSinks 配置进度事件接收端
func (s *Service) WithProgressSinks(sinks ...ProgressSink) *Service {
	s.sinks = append(s.sinks, sinks...)
	return s
}

// Run 对一门课程执行一次摄取任务
// 文件严格按输入顺序处理；单个文件解析失败或内容为空只跳过，
// 集合级失败与嵌入服务失败终结整个任务。
func (s *Service) Run(ctx context.Context, c *course.Course, files []File, forceRecreate bool) (*Summary, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.run",
		trace.WithAttributes(
			attribute.String("course.id", c.CourseID),
			attribute.Int("files.total", len(files)),
			attribute.Bool("force_recreate", forceRecreate),
		))
	defer span.End()

	start := time.Now()
	job := s.createJob(ctx, c.CourseID, len(files))
	ctx = logger.WithJobID(ctx, job.ID)
	log := s.logger.With(
		zap.String("course_id", c.CourseID),
		zap.String("job_id", job.ID),
	)

	// 集合必须在任何写入前对齐到课程配置的维度
	fresh, err := s.index.EnsureCollection(ctx, c.QdrantCollection, c.EmbeddingDimensions, forceRecreate)
	if err != nil {
		err = fmt.Errorf("初始化向量集合失败: %w", err)
		s.failJob(ctx, job, err, start)
		return nil, err
	}
	if fresh {
		log.Info("向量集合已就绪（新建）",
			zap.String("collection", c.QdrantCollection),
			zap.Int("dim", c.EmbeddingDimensions),
		)
	}

	summary := &Summary{TotalFiles: len(files), CollectionReset: fresh}

	for i, f := range files {
		text, parseErr := ParseVTT(string(f.Content))
		if parseErr != nil {
			log.Warn("字幕解析失败，跳过文件",
				zap.String("file", f.Name),
				zap.Error(parseErr),
			)
			metrics.IngestFilesTotal.WithLabelValues(c.CourseID, "parse_failed").Inc()
			continue
		}
		if strings.TrimSpace(text) == "" {
			log.Warn("字幕内容为空，跳过文件", zap.String("file", f.Name))
			metrics.IngestFilesTotal.WithLabelValues(c.CourseID, "empty").Inc()
			continue
		}

		chunks := s.chunker.Split(text)
		if len(chunks) == 0 {
			log.Warn("分块结果为空，跳过文件", zap.String("file", f.Name))
			metrics.IngestFilesTotal.WithLabelValues(c.CourseID, "empty").Inc()
			continue
		}

		// 单个文件的全部分块在一次请求内向量化
		vectors, embedErr := s.embedder.EmbedBatch(ctx, chunks)
		if embedErr != nil {
			// 嵌入服务故障是系统性问题，继续处理后续文件没有意义
			embedErr = fmt.Errorf("向量化失败 (文件 %s): %w", f.Name, embedErr)
			s.failJob(ctx, job, embedErr, start)
			return nil, embedErr
		}

		points := make([]*rag.Point, len(chunks))
		for j, chunk := range chunks {
			points[j] = &rag.Point{
				ID:     pointID(c.CourseID, f.Name, j, chunk),
				Vector: vectors[j],
				Payload: rag.PointPayload{
					CourseID: c.CourseID,
					Text:     chunk,
					File:     f.Name,
				},
			}
		}

		if upsertErr := s.index.Upsert(ctx, c.QdrantCollection, points); upsertErr != nil {
			upsertErr = fmt.Errorf("写入向量失败 (文件 %s): %w", f.Name, upsertErr)
			s.failJob(ctx, job, upsertErr, start)
			return nil, upsertErr
		}

		summary.ProcessedFiles++
		summary.Upserted += len(points)
		metrics.IngestFilesTotal.WithLabelValues(c.CourseID, "ok").Inc()
		metrics.IngestChunksTotal.WithLabelValues(c.CourseID).Add(float64(len(points)))

		ev := &ProgressEvent{
			CourseID:    c.CourseID,
			FileIndex:   i + 1,
			TotalFiles:  len(files),
			FileName:    f.Name,
			Chunks:      len(chunks),
			TotalChunks: summary.Upserted,
			Timestamp:   time.Now().UTC(),
		}
		s.updateJobProgress(ctx, job, f.Name, summary, ev)
		s.emit(ctx, ev)

		log.Info("文件摄取完成",
			zap.String("file", f.Name),
			zap.Int("file_index", i+1),
			zap.Int("chunks", len(chunks)),
			zap.Int("total_chunks", summary.Upserted),
		)
	}

	// 终止事件：携带累计总量
	s.emit(ctx, &ProgressEvent{
		CourseID:    c.CourseID,
		FileIndex:   summary.ProcessedFiles,
		TotalFiles:  len(files),
		TotalChunks: summary.Upserted,
		Done:        true,
		Timestamp:   time.Now().UTC(),
	})

	s.completeJob(ctx, job, summary)

	// 课程统计回写失败不影响任务结果（向量已落库），只告警
	if s.registry != nil {
		if regErr := s.registry.RecordIngestion(ctx, c.CourseID, summary.Upserted, fresh, time.Now().UTC()); regErr != nil {
			log.Warn("课程统计回写失败", zap.Error(regErr))
		}
	}

	metrics.IngestJobDuration.WithLabelValues(c.CourseID, "completed").Observe(time.Since(start).Seconds())
	log.Info("摄取任务完成",
		zap.Int("processed_files", summary.ProcessedFiles),
		zap.Int("total_files", summary.TotalFiles),
		zap.Int("upserted", summary.Upserted),
	)
	return summary, nil
}

// --- 任务记录 ---

func (s *Service) createJob(ctx context.Context, courseID string, totalFiles int) *IngestionJob {
	now := time.Now().UTC()
	job := &IngestionJob{
		ID:         uuid.New().String(),
		CourseID:   courseID,
		Status:     JobStatusRunning,
		TotalFiles: totalFiles,
		StartedAt:  &now,
	}
	if s.db != nil {
		if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
			s.logger.Warn("创建摄取任务记录失败", zap.Error(err))
		}
	}
	return job
}

func (s *Service) updateJobProgress(ctx context.Context, job *IngestionJob, lastFile string, summary *Summary, ev *ProgressEvent) {
	if s.db == nil {
		return
	}
	raw, _ := json.Marshal(ev)
	err := s.db.WithContext(ctx).Model(&IngestionJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"processed_files":  summary.ProcessedFiles,
			"last_file":        lastFile,
			"last_chunk_count": ev.Chunks,
			"total_chunks":     summary.Upserted,
			"last_event":       raw,
			"updated_at":       time.Now(),
		}).Error
	if err != nil {
		s.logger.Warn("更新摄取进度失败", zap.Error(err))
	}
}

// completeJob 终结任务为 completed（仅 running 状态可终结，保证恰好一次）
func (s *Service) completeJob(ctx context.Context, job *IngestionJob, summary *Summary) {
	s.finalizeJob(ctx, job, map[string]interface{}{
		"status":          JobStatusCompleted,
		"processed_files": summary.ProcessedFiles,
		"total_chunks":    summary.Upserted,
		"upserted":        summary.Upserted,
		"finished_at":     time.Now().UTC(),
		"updated_at":      time.Now(),
	})
}

// failJob 终结任务为 failed 并记录错误
func (s *Service) failJob(ctx context.Context, job *IngestionJob, cause error, start time.Time) {
	s.finalizeJob(ctx, job, map[string]interface{}{
		"status":      JobStatusFailed,
		"error":       cause.Error(),
		"finished_at": time.Now().UTC(),
		"updated_at":  time.Now(),
	})
	metrics.IngestJobDuration.WithLabelValues(job.CourseID, "failed").Observe(time.Since(start).Seconds())
	s.logger.Error("摄取任务失败",
		zap.String("course_id", job.CourseID),
		zap.String("job_id", job.ID),
		zap.Error(cause),
	)
}

func (s *Service) finalizeJob(ctx context.Context, job *IngestionJob, updates map[string]interface{}) {
	if s.db == nil {
		return
	}
	err := s.db.WithContext(ctx).Model(&IngestionJob{}).
		Where("id = ? AND status = ?", job.ID, JobStatusRunning).
		Updates(updates).Error
	if err != nil {
		s.logger.Warn("终结摄取任务记录失败", zap.Error(err))
	}
}

func (s *Service) emit(ctx context.Context, ev *ProgressEvent) {
	for _, sink := range s.sinks {
		sink.Publish(ctx, ev)
	}
}

// pointID 由课程、文件、分块序号与内容哈希推导出确定性的点 ID
// 同一文件重复摄取会覆盖同一批点，而不是追加重复数据。
func pointID(courseID, file string, index int, content string) string {
	sum := sha256.Sum256([]byte(content))
	name := fmt.Sprintf("coursechat://%s/%s#%d:%x", courseID, file, index, sum[:8])
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
