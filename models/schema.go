package models

import (
	"time"

	"gorm.io/gorm"
)

// RequestLog 单次 /v1/messages 请求记录
type RequestLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
	RequestID    string    `gorm:"index" json:"request_id"`
	Model        string    `gorm:"index" json:"model"`
	Backend      string    `json:"backend"`
	Stream       bool      `json:"stream"`
	StatusCode   int       `json:"status_code"`
	Duration     int64     `json:"duration"` // 毫秒
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	StopReason   string    `json:"stop_reason"`
	IP           string    `json:"ip"`
	ErrorMsg     string    `gorm:"type:text" json:"error_msg,omitempty"`
}

// ModelStats 按模型聚合的统计信息
type ModelStats struct {
	gorm.Model
	ModelName    string  `gorm:"uniqueIndex:idx_model_backend;not null" json:"model"`
	Backend      string  `gorm:"uniqueIndex:idx_model_backend;not null" json:"backend"`
	Success      int     `gorm:"default:0" json:"success"`
	Error        int     `gorm:"default:0" json:"error"`
	TotalLatency float64 `gorm:"default:0" json:"total_latency"` // 毫秒
	RequestCount int     `gorm:"default:0" json:"request_count"`
	InputTokens  int64   `gorm:"default:0" json:"input_tokens"`
	OutputTokens int64   `gorm:"default:0" json:"output_tokens"`
}

// AvgLatency 平均延迟 (毫秒)
func (s *ModelStats) AvgLatency() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return s.TotalLatency / float64(s.RequestCount)
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&RequestLog{},
		&ModelStats{},
	)
}
