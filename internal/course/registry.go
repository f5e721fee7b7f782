package course

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound 课程不存在
var ErrNotFound = errors.New("课程不存在")

// Registry 课程注册表，负责课程与向量集合绑定关系的读写
type Registry struct {
	db *gorm.DB
}

// NewRegistry 创建课程注册表
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// CreateCourseRequest 创建课程请求
type CreateCourseRequest struct {
	CourseID            string
	Name                string
	QdrantCollection    string // 为空时默认 course_<courseId>
	IconURL             string
	Description         string
	EmbeddingModel      string
	EmbeddingDimensions int
}

// Create 创建课程
// courseId 与集合名统一转为小写，保证唯一性比较不受大小写影响
func (r *Registry) Create(ctx context.Context, req *CreateCourseRequest) (*Course, error) {
	courseID := strings.ToLower(strings.TrimSpace(req.CourseID))
	if courseID == "" || strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("courseId 和 name 不能为空")
	}

	collection := strings.ToLower(strings.TrimSpace(req.QdrantCollection))
	if collection == "" {
		collection = fmt.Sprintf("course_%s", courseID)
	}

	// 检查重复（courseId 或集合名任一冲突都拒绝）
	var count int64
	if err := r.db.WithContext(ctx).Model(&Course{}).
		Where("course_id = ? OR qdrant_collection = ?", courseID, collection).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("查询课程失败: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("课程 ID 或集合名已存在: %s / %s", courseID, collection)
	}

	model := req.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims := req.EmbeddingDimensions
	if dims <= 0 {
		dims = 1536
	}

	c := &Course{
		ID:                  uuid.New().String(),
		CourseID:            courseID,
		Name:                strings.TrimSpace(req.Name),
		QdrantCollection:    collection,
		IconURL:             req.IconURL,
		Description:         req.Description,
		EmbeddingModel:      model,
		EmbeddingDimensions: dims,
		IsActive:            true,
	}

	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("创建课程失败: %w", err)
	}
	return c, nil
}

// Get 按课程 ID 查询课程（含已禁用课程）
func (r *Registry) Get(ctx context.Context, courseID string) (*Course, error) {
	var c Course
	err := r.db.WithContext(ctx).
		Where("course_id = ?", strings.ToLower(strings.TrimSpace(courseID))).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查询课程失败: %w", err)
	}
	return &c, nil
}

// GetActive 按课程 ID 查询启用中的课程，问答入口使用
func (r *Registry) GetActive(ctx context.Context, courseID string) (*Course, error) {
	c, err := r.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, ErrNotFound
	}
	return c, nil
}

// List 列出全部课程，按创建时间倒序
func (r *Registry) List(ctx context.Context) ([]*Course, error) {
	var courses []*Course
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("查询课程列表失败: %w", err)
	}
	return courses, nil
}

// SetActive 启用/禁用课程（软开关，不删除数据）
func (r *Registry) SetActive(ctx context.Context, courseID string, active bool) error {
	res := r.db.WithContext(ctx).Model(&Course{}).
		Where("course_id = ?", strings.ToLower(strings.TrimSpace(courseID))).
		Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("更新课程状态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordIngestion 摄取成功后更新课程统计
// reset 为 true 表示集合被重建过，向量计数从本次结果重新开始
func (r *Registry) RecordIngestion(ctx context.Context, courseID string, upserted int, reset bool, at time.Time) error {
	updates := map[string]interface{}{
		"last_ingest_at": at,
		"updated_at":     time.Now(),
	}
	if reset {
		updates["vector_count"] = int64(upserted)
	} else {
		updates["vector_count"] = gorm.Expr("vector_count + ?", upserted)
	}

	res := r.db.WithContext(ctx).Model(&Course{}).
		Where("course_id = ?", strings.ToLower(courseID)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("更新课程统计失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
