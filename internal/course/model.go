package course

import "time"

// Course 课程及其向量集合的绑定关系
type Course struct {
	ID string `json:"id" gorm:"primaryKey;type:uuid"`

	// 课程标识（唯一，统一小写）
	CourseID string `json:"courseId" gorm:"size:100;not null;uniqueIndex"`
	Name     string `json:"name" gorm:"size:255;not null"`

	// Qdrant 集合（唯一，1:1 对应课程）
	QdrantCollection string `json:"qdrantCollection" gorm:"size:255;not null;uniqueIndex"`

	// 展示信息
	IconURL     string `json:"iconUrl" gorm:"size:500"`
	Description string `json:"description" gorm:"type:text"`

	// 向量化配置，摄取与问答必须使用同一套
	EmbeddingModel      string `json:"embeddingModel" gorm:"size:100;not null;default:text-embedding-3-small"`
	EmbeddingDimensions int    `json:"embeddingDimensions" gorm:"not null;default:1536"`

	// 状态：软禁用而非删除
	IsActive bool `json:"isActive" gorm:"not null;default:true;index"`

	// 统计信息，摄取成功后更新
	VectorCount  int64      `json:"vectorCount" gorm:"default:0"`
	LastIngestAt *time.Time `json:"lastIngestAt"`

	// 时间戳
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}
