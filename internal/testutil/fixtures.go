package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/site_structure_server/internal/model"
)

// TestCompany 创建测试公司
func TestCompany(t *testing.T, db *gorm.DB, opts ...func(*model.Company)) *model.Company {
	t.Helper()

	n := time.Now().UnixNano() % 100000
	company := &model.Company{
		Name:      fmt.Sprintf("Company %d", n),
		Website:   fmt.Sprintf("https://www.company%d.example.com", n),
		Industry:  "Software",
		Employees: 50,
	}

	for _, opt := range opts {
		opt(company)
	}

	if err := db.Create(company).Error; err != nil {
		t.Fatalf("Failed to create test company: %v", err)
	}

	return company
}

func WithWebsite(website string) func(*model.Company) {
	return func(c *model.Company) {
		c.Website = website
	}
}

func WithCompanyName(name string) func(*model.Company) {
	return func(c *model.Company) {
		c.Name = name
	}
}

// TestJob 为公司创建测试任务
func TestJob(t *testing.T, db *gorm.DB, companyID int64, opts ...func(*model.AnalysisJob)) *model.AnalysisJob {
	t.Helper()

	job := &model.AnalysisJob{
		CompanyID:   companyID,
		Domain:      fmt.Sprintf("company%d.example.com", companyID),
		Priority:    model.DefaultJobPriority,
		Status:      model.JobStatusQueued,
		MaxAttempts: model.DefaultMaxAttempts,
	}

	for _, opt := range opts {
		opt(job)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}

func WithJobStatus(status string) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.Status = status
	}
}

func WithPriority(priority int) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.Priority = priority
	}
}

func WithAttempts(attempts int) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.Attempts = attempts
	}
}

func WithScheduledFor(at time.Time) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.ScheduledFor = &at
	}
}

func WithCreatedAt(at time.Time) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.CreatedAt = at
	}
}

func WithLastAttempt(at time.Time) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.LastAttempt = &at
	}
}

// TestPages 构造 n 个未保存的测试页面
func TestPages(domain string, n int) []model.WebsitePage {
	pages := make([]model.WebsitePage, 0, n)
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("/page-%d", i)
		pages = append(pages, model.WebsitePage{
			URL:               "https://" + domain + path,
			CanonicalKey:      fmt.Sprintf("%064d", i),
			Path:              path,
			Title:             fmt.Sprintf("Page %d", i),
			PageType:          "general",
			Depth:             1,
			ParentPath:        "/",
			ImportanceScore:   100 - i,
			Source:            model.SourceSitemap,
			BIClassification:  "unclassified",
			BusinessValueTier: 7,
		})
	}
	return pages
}
