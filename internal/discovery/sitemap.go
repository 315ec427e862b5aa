package discovery

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qs3c/site_structure_server/internal/pkg/logger"
)

const (
	defaultMaxSitemapFetches = 500
	defaultMaxIndexDepth     = 3
	maxGunzipBytes           = 50 << 20
)

// sitemapPaths 在站点根目录下依次尝试
var sitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemaps.xml",
	"/wp-sitemap.xml",
}

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlURL `xml:"url"`
}

type xmlURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name        `xml:"sitemapindex"`
	Sitemaps []xmlSitemapRef `xml:"sitemap"`
}

type xmlSitemapRef struct {
	Loc string `xml:"loc"`
}

type sitemapDoc struct {
	index   []string
	entries []xmlURL
	isIndex bool
}

// SitemapResult sitemap 抓取结果
type SitemapResult struct {
	SitemapURL string
	Pages      []Page
	Fetched    int
	Truncated  bool
}

type SitemapParser struct {
	client     Fetcher
	maxFetches int
	maxDepth   int
	log        *logger.Logger
}

func NewSitemapParser(client Fetcher, maxFetches int, log *logger.Logger) *SitemapParser {
	if maxFetches <= 0 {
		maxFetches = defaultMaxSitemapFetches
	}
	if log == nil {
		log = logger.Default()
	}
	return &SitemapParser{
		client:     client,
		maxFetches: maxFetches,
		maxDepth:   defaultMaxIndexDepth,
		log:        log,
	}
}

// Candidates 站点的候选 sitemap 地址，常见路径在前，robots.txt 声明的在最后
func (p *SitemapParser) Candidates(ctx context.Context, baseURL string) []string {
	base := strings.TrimRight(baseURL, "/")
	candidates := make([]string, 0, len(sitemapPaths)+3)
	for _, sp := range sitemapPaths {
		candidates = append(candidates, base+sp)
	}

	if u, err := url.Parse(base); err == nil && u.Host != "" && !strings.HasPrefix(u.Host, "www.") && !isIPHost(u.Hostname()) {
		www := *u
		www.Host = "www." + u.Host
		candidates = append(candidates, www.String()+"/sitemap.xml")
	}

	declared, err := p.client.RobotsSitemaps(ctx, base)
	if err != nil {
		p.log.WithFields(logger.Fields{"base_url": base, "error": err.Error()}).Debug("robots.txt unreadable")
	}
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		seen[c] = true
	}
	for _, d := range declared {
		if !seen[d] {
			seen[d] = true
			candidates = append(candidates, d)
		}
	}
	return candidates
}

// Discover 找到第一个可用的 sitemap 并收集页面条目，会跟随 sitemap 索引。
// maxEntries <= 0 表示不限制
func (p *SitemapParser) Discover(ctx context.Context, baseURL string, maxEntries int) (*SitemapResult, error) {
	base, err := url.Parse(BaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	site := RegistrableDomain(base.Hostname())

	var lastErr error
	for _, candidate := range p.Candidates(ctx, base.String()) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, err := p.load(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}

		result := &SitemapResult{SitemapURL: candidate, Fetched: 1}
		p.crawl(ctx, candidate, doc, site, maxEntries, result)
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSitemap, lastErr)
	}
	return nil, ErrNoSitemap
}

// SinglePass 只抓取一个 sitemap 文档并返回页面条目，不跟随索引也不限制数量
func (p *SitemapParser) SinglePass(ctx context.Context, sitemapURL string) ([]Page, error) {
	u, err := url.Parse(sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sitemap url %q: %w", sitemapURL, err)
	}
	doc, err := p.load(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	site := RegistrableDomain(u.Hostname())
	var pages []Page
	for _, entry := range doc.entries {
		if page, ok := pageFromEntry(entry, site); ok {
			pages = append(pages, page)
		}
	}
	return pages, nil
}

// crawl 广度优先遍历索引，visited 保证自引用或循环索引时能结束
func (p *SitemapParser) crawl(ctx context.Context, rootURL string, root *sitemapDoc, site string, maxEntries int, result *SitemapResult) {
	type item struct {
		url   string
		doc   *sitemapDoc
		depth int
	}

	visited := map[string]bool{rootURL: true}
	queue := []item{{url: rootURL, doc: root}}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return
		}
		cur := queue[0]
		queue = queue[1:]

		if cur.doc == nil {
			doc, err := p.load(ctx, cur.url)
			result.Fetched++
			if err != nil {
				p.log.WithFields(logger.Fields{"sitemap": cur.url, "error": err.Error()}).Warn("skipping sub-sitemap")
				continue
			}
			cur.doc = doc
		}

		if cur.doc.isIndex {
			if cur.depth >= p.maxDepth {
				continue
			}
			for _, loc := range cur.doc.index {
				if visited[loc] {
					continue
				}
				if result.Fetched+len(queue) >= p.maxFetches {
					result.Truncated = true
					break
				}
				visited[loc] = true
				queue = append(queue, item{url: loc, depth: cur.depth + 1})
			}
			continue
		}

		for _, entry := range cur.doc.entries {
			if maxEntries > 0 && len(result.Pages) >= maxEntries {
				result.Truncated = true
				return
			}
			if page, ok := pageFromEntry(entry, site); ok {
				result.Pages = append(result.Pages, page)
			}
		}
	}
}

func (p *SitemapParser) load(ctx context.Context, sitemapURL string) (*sitemapDoc, error) {
	resp, err := p.client.Fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	body, err := maybeGunzip(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sitemapURL, err)
	}
	doc, err := parseSitemap(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sitemapURL, err)
	}
	return doc, nil
}

func parseSitemap(data []byte) (*sitemapDoc, error) {
	var index xmlSitemapIndex
	if err := xml.Unmarshal(data, &index); err == nil {
		doc := &sitemapDoc{isIndex: true}
		for _, sm := range index.Sitemaps {
			if loc := strings.TrimSpace(sm.Loc); loc != "" {
				doc.index = append(doc.index, loc)
			}
		}
		return doc, nil
	}

	var set xmlURLSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSitemap, err)
	}
	return &sitemapDoc{entries: set.URLs}, nil
}

func maybeGunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gunzip sitemap: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxGunzipBytes))
}

func pageFromEntry(entry xmlURL, site string) (Page, bool) {
	loc := strings.TrimSpace(entry.Loc)
	if loc == "" || isSitemapLike(loc) {
		return Page{}, false
	}
	u, err := url.Parse(loc)
	if err != nil || !acceptPageURL(u, site) {
		return Page{}, false
	}
	u.Fragment = ""

	page := Page{
		URL:             u.String(),
		Title:           TitleFromURL(u.String()),
		Priority:        DefaultSitemapPriority,
		ChangeFrequency: strings.ToLower(strings.TrimSpace(entry.ChangeFreq)),
		Source:          StrategySitemap,
	}
	if pr, ok := parseSitemapPriority(entry.Priority); ok {
		page.Priority = pr
		page.SitemapPriority = &pr
	}
	if t, ok := parseLastMod(entry.LastMod); ok {
		page.LastModified = &t
	}
	return page, true
}

func parseSitemapPriority(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

var lastModLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseLastMod(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func isIPHost(host string) bool {
	return net.ParseIP(host) != nil || host == "localhost"
}
