package ingest

import (
	"time"

	"gorm.io/datatypes"
)

// 摄取任务状态
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// IngestionJob 一门课程的一次批量摄取任务记录
// 核心只写不读：行在任务开始时创建，逐文件更新进度，结束时恰好终结一次。
type IngestionJob struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	CourseID string `json:"courseId" gorm:"size:100;not null;index"`

	Status string `json:"status" gorm:"size:20;not null;default:pending;index"`

	// 进度信息
	TotalFiles     int    `json:"totalFiles" gorm:"default:0"`
	ProcessedFiles int    `json:"processedFiles" gorm:"default:0"`
	LastFile       string `json:"lastFile" gorm:"size:500"`
	LastChunkCount int    `json:"lastChunkCount" gorm:"default:0"`
	TotalChunks    int    `json:"totalChunks" gorm:"default:0"`

	// 终结信息
	Upserted int    `json:"upserted" gorm:"default:0"`
	Error    string `json:"error" gorm:"type:text"`

	// 最近一次进度事件的原始载荷
	LastEvent datatypes.JSON `json:"lastEvent" gorm:"type:jsonb"`

	StartedAt  *time.Time `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}
