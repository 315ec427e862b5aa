package discovery

import (
	"context"
	"strings"
)

// homepageRegions 导航以外的内容区域，按显著程度排序
var homepageRegions = []linkRegion{
	{`a.btn, a.button, a.cta, .cta, .hero, [class*="hero"], [class*="call-to-action"]`, 0.7},
	{`main, article, section, .content, #content`, 0.6},
	{`footer`, 0.5},
	{`body`, 0.5},
}

// homepageSelfPriority 首页自身的优先级
const homepageSelfPriority = 1.0

type HomepageParser struct {
	loader *pageLoader
}

func NewHomepageParser(client Fetcher) *HomepageParser {
	return &HomepageParser{loader: newPageLoader(client)}
}

// Discover 提取首页正文、CTA 和页脚链接并用 SmartPriority 打分，结果始终包含首页
func (p *HomepageParser) Discover(ctx context.Context, baseURL string) ([]Page, error) {
	return discoverHomepage(ctx, p.loader, baseURL)
}

func discoverHomepage(ctx context.Context, loader *pageLoader, baseURL string) ([]Page, error) {
	hp, err := loader.load(ctx, BaseURL(baseURL))
	if err != nil {
		return nil, err
	}

	home := *hp.base
	home.Path = "/"
	home.RawQuery = ""
	home.Fragment = ""

	title := cleanText(hp.doc.Find("title").First().Text())
	if title == "" {
		title = "Home"
	}
	pages := []Page{{
		URL:      home.String(),
		Title:    title,
		Priority: homepageSelfPriority,
		Source:   StrategyHomepage,
	}}

	for _, pg := range extractRegions(hp, homepageRegions, StrategyHomepage, SmartPriority) {
		if strings.TrimRight(pg.URL, "/") == strings.TrimRight(home.String(), "/") {
			continue
		}
		pages = append(pages, pg)
	}
	return pages, nil
}
