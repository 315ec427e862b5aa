package discovery

import (
	"context"

	"github.com/PuerkitoBio/goquery"
)

type linkRegion struct {
	selector string
	priority float64
}

// navigationRegions 按具体程度从高到低检查，URL 保留首次出现区域的优先级
var navigationRegions = []linkRegion{
	{`[role="navigation"], nav[aria-label]`, 0.9},
	{`header nav`, 0.85},
	{`nav`, 0.85},
	{`.menu, .navbar, .nav, .main-menu, .main-nav, .navigation, #menu, #nav, #navigation`, 0.8},
	{`header`, 0.75},
}

type NavigationParser struct {
	loader *pageLoader
}

func NewNavigationParser(client Fetcher) *NavigationParser {
	return &NavigationParser{loader: newPageLoader(client)}
}

// Discover 提取首页导航区域中的链接
func (p *NavigationParser) Discover(ctx context.Context, baseURL string) ([]Page, error) {
	return discoverNavigation(ctx, p.loader, baseURL)
}

func discoverNavigation(ctx context.Context, loader *pageLoader, baseURL string) ([]Page, error) {
	hp, err := loader.load(ctx, BaseURL(baseURL))
	if err != nil {
		return nil, err
	}
	return extractRegions(hp, navigationRegions, StrategyNavigation, nil), nil
}

// extractRegions 按顺序遍历区域收集同站链接（区域元素本身是链接时取自身，否则取其中的链接）。
// adjust 非空时用于调整每个链接的优先级
func extractRegions(hp *htmlPage, regions []linkRegion, source string, adjust func(url string, priority float64) float64) []Page {
	site := RegistrableDomain(hp.base.Hostname())
	seen := make(map[string]bool)
	var pages []Page

	for _, region := range regions {
		sel := hp.doc.Find(region.selector)
		links := sel.Filter("a[href]").AddSelection(sel.Find("a[href]"))
		links.Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			resolved, ok := resolveLink(hp.base, href, site)
			if !ok || seen[resolved] {
				return
			}
			seen[resolved] = true

			priority := region.priority
			if adjust != nil {
				priority = adjust(resolved, priority)
			}
			pages = append(pages, Page{
				URL:      resolved,
				Title:    linkTitle(a, resolved),
				Priority: priority,
				Source:   source,
			})
		})
	}
	return pages
}
