package ranking

import "strings"

// BIUnclassified 和 BIUnclassifiedTier 用于未匹配任何分类的页面
const (
	BIUnclassified     = "unclassified"
	BIUnclassifiedTier = 7
)

type biCategory struct {
	name          string
	tier          int
	urlPatterns   []string
	titlePatterns []string
}

// biTaxonomy 按商业情报价值划分页面，等级 1 价值最高。顺序有意义，第一个匹配的分类生效
var biTaxonomy = []biCategory{
	{
		name:          "careers",
		tier:          1,
		urlPatterns:   []string{"/careers", "/jobs", "/employment", "/opportunities", "/hiring", "/work-with-us", "/join-us"},
		titlePatterns: []string{"careers", "jobs", "employment", "opportunities", "join us", "work with us", "hiring", "open positions"},
	},
	{
		name:          "services",
		tier:          1,
		urlPatterns:   []string{"/services", "/solutions", "/offerings", "/capabilities", "/expertise", "/what-we-do"},
		titlePatterns: []string{"services", "solutions", "what we do", "capabilities", "offerings", "expertise"},
	},
	{
		name:          "products",
		tier:          1,
		urlPatterns:   []string{"/products", "/catalog", "/portfolio", "/brands", "/shop"},
		titlePatterns: []string{"products", "catalog", "portfolio", "brands", "offerings", "shop"},
	},
	{
		name:          "about",
		tier:          1,
		urlPatterns:   []string{"/about", "/company", "/who-we-are", "/overview", "/our-story"},
		titlePatterns: []string{"about", "company", "who we are", "overview", "our story", "about us"},
	},
	{
		name:          "team",
		tier:          2,
		urlPatterns:   []string{"/team", "/leadership", "/people", "/staff", "/management", "/executives", "/board", "/founders"},
		titlePatterns: []string{"team", "leadership", "people", "staff", "management", "executives", "our team", "meet the team", "board of directors", "founders"},
	},
	{
		name:          "news",
		tier:          2,
		urlPatterns:   []string{"/news", "/blog", "/insights", "/updates", "/press", "/media", "/articles", "/resources"},
		titlePatterns: []string{"news", "blog", "insights", "updates", "press releases", "media", "articles", "thought leadership", "resources"},
	},
	{
		name:          "locations",
		tier:          3,
		urlPatterns:   []string{"/locations", "/offices", "/facilities", "/branches", "/stores", "/find-us"},
		titlePatterns: []string{"locations", "offices", "facilities", "branches", "stores", "find us", "where we are"},
	},
	{
		name:          "contact",
		tier:          3,
		urlPatterns:   []string{"/contact", "/reach-us", "/get-in-touch", "/connect"},
		titlePatterns: []string{"contact", "reach us", "get in touch", "contact us", "connect"},
	},
	{
		name:          "case-studies",
		tier:          4,
		urlPatterns:   []string{"/case-studies", "/portfolio", "/work", "/projects", "/clients", "/success-stories", "/testimonials"},
		titlePatterns: []string{"case studies", "portfolio", "our work", "projects", "success stories", "client stories", "testimonials"},
	},
	{
		name:          "industries",
		tier:          4,
		urlPatterns:   []string{"/industries", "/sectors", "/markets", "/verticals", "/who-we-serve"},
		titlePatterns: []string{"industries", "sectors", "markets", "verticals", "who we serve", "market focus"},
	},
	{
		name:          "investors",
		tier:          5,
		urlPatterns:   []string{"/investors", "/investor-relations", "/financials", "/sec-filings", "/earnings"},
		titlePatterns: []string{"investors", "investor relations", "financials", "sec filings", "earnings"},
	},
	{
		name:          "legal",
		tier:          6,
		urlPatterns:   []string{"/terms", "/privacy", "/legal", "/compliance", "/gdpr", "/ccpa", "/cookies"},
		titlePatterns: []string{"terms", "privacy", "legal", "compliance", "gdpr", "ccpa", "cookie policy"},
	},
}

// ClassifyBI 返回页面的商业情报分类和等级。每个分类内先用路径匹配 URL 规则，再匹配标题
func ClassifyBI(rawURL, title string) (string, int) {
	u := urlPath(rawURL)
	t := strings.ToLower(title)

	for _, c := range biTaxonomy {
		for _, p := range c.urlPatterns {
			if strings.Contains(u, p) {
				return c.name, c.tier
			}
		}
		if t == "" {
			continue
		}
		for _, p := range c.titlePatterns {
			if strings.Contains(t, p) {
				return c.name, c.tier
			}
		}
	}
	return BIUnclassified, BIUnclassifiedTier
}

// BITiers 各等级包含的分类，用于汇总和过滤
func BITiers() map[int][]string {
	out := make(map[int][]string)
	for _, c := range biTaxonomy {
		out[c.tier] = append(out[c.tier], c.name)
	}
	return out
}
