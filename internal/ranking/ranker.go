package ranking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qs3c/site_structure_server/internal/discovery"
	"github.com/qs3c/site_structure_server/internal/pkg/cache"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
)

// Mode 评分公式
type Mode string

const (
	ModeFull Mode = "full"
	ModeFast Mode = "fast"
)

// ParseMode 无法识别时使用完整公式
func ParseMode(s string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(s))) == ModeFast {
		return ModeFast
	}
	return ModeFull
}

const (
	contentHit  = 85
	contentMiss = 50

	freshnessUnknown = 60

	urlSegmentPenalty = 15

	fastDepthPenalty    = 5
	fastMaxDepthPenalty = 30
)

// importanceKeywords 重要页面关键词
var importanceKeywords = []string{
	"about", "services", "products", "solutions", "contact", "careers", "investors",
	"leadership", "team", "sustainability", "mission", "history", "locations", "news",
}

// Breakdown 各项子评分
type Breakdown struct {
	SitemapPriority float64 `json:"sitemap_priority"`
	Type            float64 `json:"type"`
	Content         float64 `json:"content"`
	URL             float64 `json:"url"`
	Freshness       float64 `json:"freshness"`
}

// RankedPage 带分类和评分的页面
type RankedPage struct {
	discovery.Page
	CanonicalKey      string    `json:"canonical_key"`
	Path              string    `json:"path"`
	Depth             int       `json:"depth"`
	PageType          string    `json:"page_type"`
	BIClassification  string    `json:"bi_classification"`
	BusinessValueTier int       `json:"business_value_tier"`
	Score             int       `json:"score"`
	Breakdown         Breakdown `json:"breakdown"`
}

type Ranker struct {
	mode  Mode
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
	log   *logger.Logger
}

type Option func(*Ranker)

// WithCache 启用结果缓存，按域名和页面集合指纹作为键
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(r *Ranker) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithClock 替换计算新鲜度使用的时钟
func WithClock(now func() time.Time) Option {
	return func(r *Ranker) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(r *Ranker) {
		if log != nil {
			r.log = log
		}
	}
}

func NewRanker(mode Mode, opts ...Option) *Ranker {
	r := &Ranker{
		mode: mode,
		now:  func() time.Time { return time.Now().UTC() },
		log:  logger.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Ranker) Mode() Mode {
	return r.mode
}

// Rank 对所有页面评分，按评分降序、规范化键升序排序。缓存出错只记录日志
func (r *Ranker) Rank(ctx context.Context, domain string, pages []discovery.Page) ([]RankedPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var key string
	if r.cache != nil {
		key = r.cacheKey(domain, pages)
		var cached []RankedPage
		hit, err := cache.GetJSON(ctx, r.cache, key, &cached)
		if err != nil {
			r.log.WithFields(logger.Fields{"domain": domain, "error": err.Error()}).Warn("ranking cache read failed")
		}
		if hit && len(cached) == len(pages) {
			return cached, nil
		}
	}

	now := r.now()
	ranked := make([]RankedPage, 0, len(pages))
	for _, p := range pages {
		ranked = append(ranked, r.rankOne(p, now))
	}
	SortRanked(ranked)

	if r.cache != nil {
		if err := cache.SetJSON(ctx, r.cache, key, ranked, r.ttl); err != nil {
			r.log.WithFields(logger.Fields{"domain": domain, "error": err.Error()}).Warn("ranking cache write failed")
		}
	}
	return ranked, nil
}

func (r *Ranker) rankOne(p discovery.Page, now time.Time) RankedPage {
	path := "/"
	if u, err := url.Parse(p.URL); err == nil && u.Path != "" {
		path = u.Path
	}
	segments := len(discovery.PathSegments(path))
	pageType, typeScore := Classify(p.URL, p.Title)
	bi, tier := ClassifyBI(p.URL, p.Title)

	rp := RankedPage{
		Page:              p,
		CanonicalKey:      discovery.CanonicalKey(p.URL),
		Path:              path,
		Depth:             segments,
		PageType:          pageType,
		BIClassification:  bi,
		BusinessValueTier: tier,
	}
	rp.Breakdown = Breakdown{
		SitemapPriority: sitemapPriority(p) * 100,
		Type:            float64(typeScore),
		Content:         contentScore(p.URL, p.Title),
		URL:             math.Max(0, float64(100-urlSegmentPenalty*segments)),
		Freshness:       freshnessScore(p.LastModified, now),
	}

	if r.mode == ModeFast {
		rp.Score = fastScore(rp.Breakdown, keywordHit(p.URL, p.Title), segments)
	} else {
		rp.Score = fullScore(rp.Breakdown)
	}
	return rp
}

// sitemapPriority 页面自身的 sitemap <priority>，没有时使用默认值。
// Page.Priority 只用于去重
func sitemapPriority(p discovery.Page) float64 {
	if p.SitemapPriority == nil {
		return discovery.DefaultSitemapPriority
	}
	return clamp(*p.SitemapPriority, 0, 1)
}

func fullScore(b Breakdown) int {
	s := b.SitemapPriority*0.30 + b.Type*0.25 + b.Content*0.20 + b.URL*0.15 + b.Freshness*0.10
	return int(math.Round(clamp(s, 0, 100)))
}

func fastScore(b Breakdown, keyword bool, segments int) int {
	boost := 0.0
	if keyword {
		boost = 100
	}
	penalty := math.Min(float64(fastDepthPenalty*segments), fastMaxDepthPenalty)
	s := b.SitemapPriority*0.4 + b.Type*0.4 + boost*0.2 - penalty
	return int(math.Round(clamp(s, 0, 100)))
}

func contentScore(rawURL, title string) float64 {
	if keywordHit(rawURL, title) {
		return contentHit
	}
	return contentMiss
}

func keywordHit(rawURL, title string) bool {
	u := urlPath(rawURL)
	t := strings.ToLower(title)
	for _, kw := range importanceKeywords {
		if strings.Contains(u, kw) || strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

func freshnessScore(lastModified *time.Time, now time.Time) float64 {
	if lastModified == nil || lastModified.IsZero() {
		return freshnessUnknown
	}
	age := now.Sub(*lastModified)
	switch {
	case age < 30*24*time.Hour:
		return 90
	case age < 90*24*time.Hour:
		return 75
	case age < 365*24*time.Hour:
		return 60
	default:
		return 40
	}
}

// SortRanked 按评分降序、规范化键升序排序
func SortRanked(pages []RankedPage) {
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].Score != pages[j].Score {
			return pages[i].Score > pages[j].Score
		}
		return pages[i].CanonicalKey < pages[j].CanonicalKey
	})
}

// cacheKey 对影响结果的所有输入计算指纹
func (r *Ranker) cacheKey(domain string, pages []discovery.Page) string {
	h := sha256.New()
	for _, p := range pages {
		h.Write([]byte(p.URL))
		h.Write([]byte{0})
		h.Write([]byte(p.Title))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatFloat(p.Priority, 'f', 4, 64)))
		h.Write([]byte{0})
		if p.SitemapPriority != nil {
			h.Write([]byte(strconv.FormatFloat(*p.SitemapPriority, 'f', 4, 64)))
		}
		h.Write([]byte{0})
		if p.LastModified != nil {
			h.Write([]byte(p.LastModified.UTC().Format(time.RFC3339)))
		}
		h.Write([]byte{0})
		h.Write([]byte(p.ChangeFrequency))
		h.Write([]byte{0})
		h.Write([]byte(p.Source))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("ranking:%s:%s:%s", strings.ToLower(domain), r.mode, hex.EncodeToString(h.Sum(nil))[:32])
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
