package chat

import "time"

// Message 问答日志，异步落库用于审计与质量回溯
type Message struct {
	ID        uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	CourseID  string `json:"courseId" gorm:"size:100;not null;index"`
	Query     string `json:"query" gorm:"type:text;not null"`
	Answer    string `json:"answer" gorm:"type:text"`
	Hits      int    `json:"hits" gorm:"default:0"`
	LatencyMs int64  `json:"latencyMs" gorm:"default:0"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
}
