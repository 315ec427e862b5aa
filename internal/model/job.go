package model

import (
	"time"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// DefaultJobPriority 默认优先级，数值越小越紧急
const DefaultJobPriority = 5

// DefaultMaxAttempts 最大尝试次数，超过后任务永久失败
const DefaultMaxAttempts = 3

// AnalysisJob 网站结构分析任务，每个公司仅一行
type AnalysisJob struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	CompanyID    int64      `gorm:"not null;uniqueIndex" json:"company_id"`
	Domain       string     `gorm:"size:255;not null" json:"domain"`
	Priority     int        `gorm:"not null;default:5;index:idx_jobs_dequeue,priority:2" json:"priority"`
	Status       string     `gorm:"size:20;not null;default:queued;index:idx_jobs_dequeue,priority:1" json:"status"`
	Attempts     int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts  int        `gorm:"not null;default:3" json:"max_attempts"`
	LastAttempt  *time.Time `json:"last_attempt,omitempty"`
	ScheduledFor *time.Time `gorm:"index" json:"scheduled_for,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time  `gorm:"index:idx_jobs_dequeue,priority:3" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}

// IsTerminal 任务是否已结束（需重新入队才会再次执行）
func (j *AnalysisJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Exhausted 是否已用完所有尝试次数
func (j *AnalysisJob) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
