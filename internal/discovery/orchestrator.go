package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qs3c/site_structure_server/internal/pkg/logger"
)

// StrategyReport 单个策略的执行情况
type StrategyReport struct {
	Strategy string
	Pages    int
	Err      error
	Duration time.Duration
}

// Failed 策略是否出错
func (r StrategyReport) Failed() bool {
	return r.Err != nil
}

// Result 合并去重后的发现结果
type Result struct {
	Domain       string
	Pages        []Page
	SitemapURL   string
	Strategies   []StrategyReport
	UsedFallback bool
}

type Orchestrator struct {
	client       Fetcher
	sitemap      *SitemapParser
	quickScanMax int
	log          *logger.Logger
}

// NewOrchestrator 创建发现流程，quickScanMax 限制读取的 sitemap 条目数，0 表示全部读取
func NewOrchestrator(client Fetcher, sitemap *SitemapParser, quickScanMax int, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Default()
	}
	if sitemap == nil {
		sitemap = NewSitemapParser(client, 0, log)
	}
	return &Orchestrator{
		client:       client,
		sitemap:      sitemap,
		quickScanMax: quickScanMax,
		log:          log,
	}
}

// Discover 并发执行导航、首页和 sitemap 三个策略并等待全部完成，失败的策略不贡献页面。
// 没有发现任何页面时最后尝试一次 sitemap，仍然没有则返回 ErrNoPagesDiscovered
func (o *Orchestrator) Discover(ctx context.Context, domain string) (*Result, error) {
	baseURL := BaseURL(domain)
	loader := newPageLoader(o.client)

	reports := []StrategyReport{
		{Strategy: StrategyNavigation},
		{Strategy: StrategyHomepage},
		{Strategy: StrategySitemap},
	}
	found := make([][]Page, len(reports))
	var sitemapURL string

	run := func(i int, fn func() ([]Page, error)) {
		start := time.Now()
		pages, err := fn()
		reports[i].Duration = time.Since(start)
		reports[i].Err = err
		reports[i].Pages = len(pages)
		found[i] = pages
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		run(0, func() ([]Page, error) { return discoverNavigation(ctx, loader, baseURL) })
		return nil
	})
	g.Go(func() error {
		run(1, func() ([]Page, error) { return discoverHomepage(ctx, loader, baseURL) })
		return nil
	})
	g.Go(func() error {
		run(2, func() ([]Page, error) {
			res, err := o.sitemap.Discover(ctx, baseURL, o.quickScanMax)
			if err != nil {
				return nil, err
			}
			sitemapURL = res.SitemapURL
			return res.Pages, nil
		})
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var merged []Page
	allFailed := true
	for i, r := range reports {
		if r.Failed() {
			o.log.WithFields(logger.Fields{
				"domain":   domain,
				"strategy": r.Strategy,
				"error":    r.Err.Error(),
			}).Warn("discovery strategy failed")
			continue
		}
		allFailed = false
		merged = append(merged, found[i]...)
	}

	result := &Result{
		Domain:     domain,
		SitemapURL: sitemapURL,
		Strategies: reports,
	}

	if allFailed || len(merged) == 0 {
		pages, fallbackURL, err := o.fallback(ctx, baseURL)
		if err != nil {
			return nil, fmt.Errorf("%w for %s: %s; fallback: %v", ErrNoPagesDiscovered, domain, describeFailures(reports), err)
		}
		result.UsedFallback = true
		result.SitemapURL = fallbackURL
		merged = pages
	}

	result.Pages = Dedupe(merged)
	if len(result.Pages) == 0 {
		return nil, fmt.Errorf("%w for %s: %s", ErrNoPagesDiscovered, domain, describeFailures(reports))
	}

	o.log.WithFields(logger.Fields{
		"domain":   domain,
		"pages":    len(result.Pages),
		"fallback": result.UsedFallback,
	}).Info("discovery finished")
	return result, nil
}

// fallback 依次用 https 和 http 抓取一次 /sitemap.xml，不跟随索引也不限制数量
func (o *Orchestrator) fallback(ctx context.Context, baseURL string) ([]Page, string, error) {
	targets := []string{strings.TrimRight(baseURL, "/") + "/sitemap.xml"}
	if strings.HasPrefix(baseURL, "https://") {
		targets = append(targets, "http://"+strings.TrimPrefix(strings.TrimRight(baseURL, "/"), "https://")+"/sitemap.xml")
	}

	var lastErr error
	for _, target := range targets {
		pages, err := o.sitemap.SinglePass(ctx, target)
		if err == nil && len(pages) > 0 {
			return pages, target, nil
		}
		if err == nil {
			err = fmt.Errorf("%s: no page entries", target)
		}
		lastErr = err
	}
	return nil, "", lastErr
}

func describeFailures(reports []StrategyReport) string {
	parts := make([]string, 0, len(reports))
	for _, r := range reports {
		if r.Failed() {
			parts = append(parts, fmt.Sprintf("%s: %v", r.Strategy, r.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s: no pages", r.Strategy))
		}
	}
	return strings.Join(parts, "; ")
}
