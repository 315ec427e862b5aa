// Package ranking 页面分类和重要性评分
package ranking

import (
	"net/url"
	"regexp"
	"strings"
)

// 页面类型
const (
	TypeHome       = "home"
	TypeAbout      = "about"
	TypeServices   = "services"
	TypeProducts   = "products"
	TypeContact    = "contact"
	TypeCareers    = "careers"
	TypeNews       = "news"
	TypeInvestors  = "investors"
	TypeLocations  = "locations"
	TypeSupport    = "support"
	TypePrivacy    = "privacy"
	TypeLegal      = "legal"
	TypeHealthcare = "healthcare"
	TypeGeneral    = "general"
)

// DefaultTypeWeight 未匹配任何规则的页面类型分
const DefaultTypeWeight = 60

type classificationRule struct {
	pageType string
	weight   int
	path     *regexp.Regexp
	title    *regexp.Regexp
}

func (r classificationRule) matches(path, title string) bool {
	if r.path != nil && r.path.MatchString(path) {
		return true
	}
	return r.title != nil && title != "" && r.title.MatchString(title)
}

var homePath = regexp.MustCompile(`(?i)^/?((index|default)\.(html?|php|aspx?)|home/?)?$`)

// classificationRules 从上到下匹配，第一个匹配的生效
var classificationRules = []classificationRule{
	{
		pageType: TypeAbout,
		weight:   85,
		path:     regexp.MustCompile(`(?i)\b(about|about-us|company|who-we-are|our-story|history|mission|leadership|our-team)\b`),
		title:    regexp.MustCompile(`(?i)\b(about|who we are|our story|our company|leadership)\b`),
	},
	{
		pageType: TypeServices,
		weight:   90,
		path:     regexp.MustCompile(`(?i)\b(services?|solutions?|what-we-do|capabilities|expertise|offerings)\b`),
		title:    regexp.MustCompile(`(?i)\b(services|solutions|what we do|capabilities)\b`),
	},
	{
		pageType: TypeProducts,
		weight:   88,
		path:     regexp.MustCompile(`(?i)\b(products?|catalog|catalogue|shop|store|brands)\b`),
		title:    regexp.MustCompile(`(?i)\b(products|catalog|shop)\b`),
	},
	{
		pageType: TypeContact,
		weight:   75,
		path:     regexp.MustCompile(`(?i)\b(contact|contact-us|get-in-touch|reach-us)\b`),
		title:    regexp.MustCompile(`(?i)\b(contact|get in touch)\b`),
	},
	{
		pageType: TypeCareers,
		weight:   70,
		path:     regexp.MustCompile(`(?i)\b(careers?|jobs|employment|join-us|work-with-us|hiring)\b`),
		title:    regexp.MustCompile(`(?i)\b(careers|jobs|join us|work with us)\b`),
	},
	{
		pageType: TypeNews,
		weight:   65,
		path:     regexp.MustCompile(`(?i)\b(news|blog|press|media|insights|articles|newsroom|events)\b`),
		title:    regexp.MustCompile(`(?i)\b(news|blog|press releases?|insights)\b`),
	},
	{
		pageType: TypeInvestors,
		weight:   80,
		path:     regexp.MustCompile(`(?i)\b(investors?|investor-relations|ir|financials|sec-filings|shareholders?|annual-reports?)\b`),
		title:    regexp.MustCompile(`(?i)\b(investors?|investor relations|shareholders)\b`),
	},
	{
		pageType: TypeLocations,
		weight:   78,
		path:     regexp.MustCompile(`(?i)\b(locations?|offices|find-us|branches|stores|directions)\b`),
		title:    regexp.MustCompile(`(?i)\b(locations|offices|find us)\b`),
	},
	{
		pageType: TypeSupport,
		weight:   72,
		path:     regexp.MustCompile(`(?i)\b(support|help|faqs?|customer-service|knowledge-base)\b`),
		title:    regexp.MustCompile(`(?i)\b(support|help|faq)\b`),
	},
	{
		pageType: TypePrivacy,
		weight:   40,
		path:     regexp.MustCompile(`(?i)\b(privacy|privacy-policy|cookies?|cookie-policy)\b`),
		title:    regexp.MustCompile(`(?i)\b(privacy|cookie policy)\b`),
	},
	{
		pageType: TypeLegal,
		weight:   45,
		path:     regexp.MustCompile(`(?i)\b(legal|terms|terms-of-use|terms-and-conditions|disclaimer|compliance|accessibility|gdpr|ccpa)\b`),
		title:    regexp.MustCompile(`(?i)\b(legal|terms|disclaimer)\b`),
	},
	{
		pageType: TypeHealthcare,
		weight:   DefaultTypeWeight,
		path:     regexp.MustCompile(`(?i)\b(patients?|providers?|physicians?|doctors?|clinics?|treatments?|conditions|specialties|medical|health)\b`),
		title:    regexp.MustCompile(`(?i)\b(patients?|physicians?|doctors?|treatments?|medical)\b`),
	},
}

// TypeWeights 各页面类型的类型分
var TypeWeights = func() map[string]int {
	m := map[string]int{TypeHome: 100, TypeGeneral: DefaultTypeWeight}
	for _, r := range classificationRules {
		m[r.pageType] = r.weight
	}
	return m
}()

// Classify 返回页面类型和类型分，首页只根据路径判断
func Classify(rawURL, title string) (string, int) {
	path := urlPath(rawURL)
	if homePath.MatchString(path) {
		return TypeHome, TypeWeights[TypeHome]
	}
	for _, rule := range classificationRules {
		if rule.matches(path, title) {
			return rule.pageType, rule.weight
		}
	}
	return TypeGeneral, DefaultTypeWeight
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Path)
}
