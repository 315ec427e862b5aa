// Package discovery 从 sitemap、导航菜单和首页内容发现公司网站的页面
package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/qs3c/site_structure_server/internal/pkg/fetch"
)

// 发现策略名称，同时用作 Page.Source
const (
	StrategySitemap    = "sitemap"
	StrategyNavigation = "navigation"
	StrategyHomepage   = "homepage"
)

// DefaultSitemapPriority sitemap 条目没有 <priority> 时的默认值
const DefaultSitemapPriority = 0.5

var (
	ErrNoSitemap         = errors.New("no accessible sitemap found")
	ErrMalformedSitemap  = errors.New("malformed sitemap document")
	ErrNoPagesDiscovered = errors.New("no pages discovered")
	ErrHomepageNotHTML   = errors.New("homepage is not an html document")
)

// Page 策略发现的候选页面
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	// Priority 发现优先级 [0,1]：sitemap 条目为 <priority>，HTML 链接为所在区域的优先级
	Priority        float64    `json:"priority"`
	SitemapPriority *float64   `json:"sitemap_priority,omitempty"`
	LastModified    *time.Time `json:"last_modified,omitempty"`
	ChangeFrequency string     `json:"change_frequency,omitempty"`
	Source          string     `json:"source"`
}

// Fetcher 发现过程使用的抓取接口
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*fetch.Response, error)
	Head(ctx context.Context, rawURL string) (*fetch.Response, error)
	Fetch(ctx context.Context, rawURL string) (*fetch.Response, error)
	RobotsSitemaps(ctx context.Context, baseURL string) ([]string, error)
}
