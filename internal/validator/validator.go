// Package validator 存储前校验发现的 URL 是否可访问
package validator

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"

	"github.com/qs3c/site_structure_server/internal/discovery"
	"github.com/qs3c/site_structure_server/internal/pkg/cache"
	"github.com/qs3c/site_structure_server/internal/pkg/fetch"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/pkg/metrics"
)

// 校验结果
type Outcome string

const (
	OutcomeValid     Outcome = "valid"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeAmbiguous Outcome = "ambiguous"
)

const (
	defaultTimeout     = 6 * time.Second
	defaultConcurrency = 4
	defaultCacheTTL    = time.Hour
)

// Prober 校验使用的抓取接口
type Prober interface {
	Head(ctx context.Context, rawURL string) (*fetch.Response, error)
	Get(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Result 单个 URL 的校验结果，Keep 已应用模糊处理策略
type Result struct {
	URL        string  `json:"url"`
	Outcome    Outcome `json:"outcome"`
	Keep       bool    `json:"keep"`
	StatusCode int     `json:"status_code"`
	Title      string  `json:"title,omitempty"`
}

type Options struct {
	Timeout       time.Duration
	Concurrency   int
	Policy        AmbiguityPolicy
	ExtractTitles bool
	Cache         cache.Cache
	CacheTTL      time.Duration
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
}

type Validator struct {
	client Prober
	opts   Options
	sem    *semaphore.Weighted
	log    *logger.Logger
}

func New(client Prober, opts Options) *Validator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Policy == "" {
		opts.Policy = AssumeValid
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Validator{
		client: client,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.Concurrency)),
		log:    log,
	}
}

func (v *Validator) Policy() AmbiguityPolicy {
	return v.opts.Policy
}

// ValidateAll 校验所有 URL 并按输入顺序返回结果。信号量在进程内共享，
// Concurrency 限制整个进程同时进行的校验数。只有 ctx 结束时返回错误
func (v *Validator) ValidateAll(ctx context.Context, urls []string) ([]Result, error) {
	results := make([]Result, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		if err := v.sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer v.sem.Release(1)
			results[i] = v.Check(ctx, u)
		}()
	}
	wg.Wait()
	return results, nil
}

// Check 校验单个 URL，优先读缓存
func (v *Validator) Check(ctx context.Context, rawURL string) Result {
	key := "validation:" + discovery.CanonicalKey(rawURL)
	if v.opts.Cache != nil {
		var cached Result
		if hit, err := cache.GetJSON(ctx, v.opts.Cache, key, &cached); err == nil && hit {
			cached.URL = rawURL
			cached.Keep = v.keep(cached.Outcome)
			return cached
		}
	}

	res := v.probe(ctx, rawURL)
	res.Keep = v.keep(res.Outcome)
	v.opts.Metrics.Validated(string(res.Outcome))

	if v.opts.Cache != nil && ctx.Err() == nil {
		if err := cache.SetJSON(ctx, v.opts.Cache, key, res, v.opts.CacheTTL); err != nil {
			v.log.WithFields(logger.Fields{"url": rawURL, "error": err.Error()}).Warn("validation cache write failed")
		}
	}
	return res
}

func (v *Validator) keep(o Outcome) bool {
	switch o {
	case OutcomeValid:
		return true
	case OutcomeAmbiguous:
		return v.opts.Policy.Keep()
	default:
		return false
	}
}

// probe 先尝试 HEAD，不支持时再用 GET
func (v *Validator) probe(ctx context.Context, rawURL string) Result {
	ctx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	res := Result{URL: rawURL, Outcome: OutcomeInvalid}
	restricted := false

	head, err := v.client.Head(ctx, rawURL)
	if err == nil {
		res.StatusCode = head.StatusCode
		if live(head.StatusCode) && !v.opts.ExtractTitles {
			res.Outcome = OutcomeValid
			return res
		}
		restricted = fetch.IsRestrictedStatus(head.StatusCode)
	} else if errors.Is(err, fetch.ErrAccessRestricted) {
		restricted = true
	}

	get, err := v.client.Get(ctx, rawURL)
	switch {
	case err == nil && live(get.StatusCode):
		res.StatusCode = get.StatusCode
		res.Outcome = OutcomeValid
		if v.opts.ExtractTitles {
			res.Title = extractTitle(get)
		}
		return res
	case err == nil:
		res.StatusCode = get.StatusCode
		restricted = restricted || fetch.IsRestrictedStatus(get.StatusCode)
	case errors.Is(err, fetch.ErrAccessRestricted):
		restricted = true
	}

	if head != nil && live(head.StatusCode) {
		// HEAD 成功，只是获取标题失败
		res.StatusCode = head.StatusCode
		res.Outcome = OutcomeValid
		return res
	}
	if restricted {
		res.Outcome = OutcomeAmbiguous
	}
	return res
}

func live(code int) bool {
	return code >= http.StatusOK && code < http.StatusBadRequest
}

func extractTitle(resp *fetch.Response) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}
