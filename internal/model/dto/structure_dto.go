package dto

import (
	"time"

	"github.com/qs3c/site_structure_server/internal/model"
)

// 网站结构读取状态
const (
	StructureReady       = "ready"
	StructureQueued      = "queued"
	StructureUnavailable = "unavailable"
)

type StructureResponse struct {
	Status       string                  `json:"status"`
	Message      string                  `json:"message,omitempty"`
	NeedsRefresh bool                    `json:"needs_refresh"`
	LastAnalyzed *time.Time              `json:"last_analyzed,omitempty"`
	NextAnalysis *time.Time              `json:"next_analysis,omitempty"`
	Structure    *model.WebsiteStructure `json:"structure,omitempty"`
}

type RefreshRequest struct {
	Priority *int `json:"priority" binding:"omitempty,min=1,max=10"`
}

type JobStatusResponse struct {
	JobID        int64      `json:"job_id"`
	CompanyID    int64      `json:"company_id"`
	Domain       string     `json:"domain"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type EnqueueAllResponse struct {
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
}

// HighValuePageFilter 高价值页面过滤条件，零值表示不过滤
type HighValuePageFilter struct {
	Domain    string
	PageTypes []string
	MaxTier   int
	Limit     int
}

type HighValuePage struct {
	CompanyID         int64  `json:"company_id"`
	CompanyName       string `json:"company_name"`
	Domain            string `json:"domain"`
	URL               string `json:"url"`
	Title             string `json:"title"`
	PageType          string `json:"page_type"`
	BIClassification  string `json:"bi_classification"`
	BusinessValueTier int    `json:"business_value_tier"`
	ImportanceScore   int    `json:"importance_score"`
}

type BISummaryFilter struct {
	Tier           int
	Classification string
	Limit          int
}

type BISummaryRow struct {
	BusinessValueTier int    `json:"business_value_tier"`
	BIClassification  string `json:"bi_classification"`
	PageCount         int64  `json:"page_count"`
	CompanyCount      int64  `json:"company_count"`
}
