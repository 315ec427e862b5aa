package model

import (
	"time"
)

const (
	StructureStatusCompleted = "completed"
	StructureStatusFailed    = "failed"
)

// RefreshInterval 网站结构的有效期
const RefreshInterval = 30 * 24 * time.Hour

const (
	SourceSitemap    = "sitemap"
	SourceNavigation = "navigation"
	SourceHomepage   = "homepage"
)

type WebsiteStructure struct {
	ID               int64         `gorm:"primaryKey" json:"id"`
	CompanyID        int64         `gorm:"not null;uniqueIndex" json:"company_id"`
	Domain           string        `gorm:"size:255;not null;index" json:"domain"`
	TotalPages       int           `gorm:"not null;default:0" json:"total_pages"`
	TotalDirectories int           `gorm:"not null;default:0" json:"total_directories"`
	TotalSubdomains  int           `gorm:"not null;default:0" json:"total_subdomains"`
	SitemapURL       string        `gorm:"size:1000" json:"sitemap_url,omitempty"`
	LastAnalyzed     *time.Time    `json:"last_analyzed,omitempty"`
	NextAnalysis     *time.Time    `gorm:"index" json:"next_analysis,omitempty"`
	Status           string        `gorm:"size:20;not null;default:completed" json:"status"`
	ArchiveURL       string        `gorm:"size:1000" json:"archive_url,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Pages            []WebsitePage `gorm:"foreignKey:WebsiteStructureID" json:"pages,omitempty"`
	Subdomains       []Subdomain   `gorm:"foreignKey:WebsiteStructureID" json:"subdomains,omitempty"`
}

func (WebsiteStructure) TableName() string {
	return "website_structures"
}

type WebsitePage struct {
	ID                 int64      `gorm:"primaryKey" json:"id"`
	WebsiteStructureID int64      `gorm:"not null;uniqueIndex:idx_page_canonical,priority:1;index" json:"website_structure_id"`
	URL                string     `gorm:"size:2000;not null" json:"url"`
	CanonicalKey       string     `gorm:"size:64;not null;uniqueIndex:idx_page_canonical,priority:2" json:"-"`
	Path               string     `gorm:"size:1000" json:"path"`
	Title              string     `gorm:"size:500" json:"title,omitempty"`
	SitemapPriority    *float64   `json:"sitemap_priority,omitempty"`
	LastModified       *time.Time `json:"last_modified,omitempty"`
	ChangeFrequency    string     `gorm:"size:20" json:"change_frequency,omitempty"`
	PageType           string     `gorm:"size:30;index" json:"page_type"`
	IsDirectory        bool       `json:"is_directory"`
	ParentPath         string     `gorm:"size:1000" json:"parent_path,omitempty"`
	Depth              int        `json:"depth"`
	ImportanceScore    int        `gorm:"index" json:"importance_score"`
	Source             string     `gorm:"size:20" json:"source"`
	BIClassification   string     `gorm:"column:bi_classification;size:30;index" json:"bi_classification"`
	BusinessValueTier  int        `gorm:"index" json:"business_value_tier"`
	StatusCode         int        `json:"status_code,omitempty"`
}

func (WebsitePage) TableName() string {
	return "website_pages"
}

type Subdomain struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	WebsiteStructureID int64     `gorm:"not null;index" json:"website_structure_id"`
	Name               string    `gorm:"size:100;not null" json:"name"`
	FullDomain         string    `gorm:"size:255;not null" json:"full_domain"`
	IsActive           bool      `json:"is_active"`
	ResponseTime       int       `json:"response_time"` // 毫秒
	LastChecked        time.Time `json:"last_checked"`
}

func (Subdomain) TableName() string {
	return "subdomains"
}
