package discovery

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SubdomainCandidates 在公司主域名下探测的子域名
var SubdomainCandidates = []string{
	"www", "blog", "shop", "store", "support", "help", "docs", "careers", "jobs",
	"investors", "ir", "news", "media", "portal", "app", "api", "community",
	"events", "partners", "developer",
}

const (
	defaultProbeTimeout = 5 * time.Second
	defaultProbeWorkers = 5
)

// SubdomainResult 存活的子域名
type SubdomainResult struct {
	Name         string
	FullDomain   string
	IsActive     bool
	StatusCode   int
	ResponseTime time.Duration
	CheckedAt    time.Time
}

type SubdomainProber struct {
	client     Fetcher
	candidates []string
	timeout    time.Duration
	workers    int
	scheme     string
	now        func() time.Time
}

type ProberOption func(*SubdomainProber)

func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *SubdomainProber) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithProbeWorkers(n int) ProberOption {
	return func(p *SubdomainProber) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithCandidates(labels []string) ProberOption {
	return func(p *SubdomainProber) {
		if len(labels) > 0 {
			p.candidates = labels
		}
	}
}

// WithScheme 切换探测协议，用于本地测试服务
func WithScheme(scheme string) ProberOption {
	return func(p *SubdomainProber) {
		if scheme != "" {
			p.scheme = scheme
		}
	}
}

func NewSubdomainProber(client Fetcher, opts ...ProberOption) *SubdomainProber {
	p := &SubdomainProber{
		client:     client,
		candidates: SubdomainCandidates,
		timeout:    defaultProbeTimeout,
		workers:    defaultProbeWorkers,
		scheme:     "https",
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe 探测所有候选子域名，返回有响应的并按名称排序，单个探测失败只跳过该候选
func (p *SubdomainProber) Probe(ctx context.Context, domain string) ([]SubdomainResult, error) {
	root := RegistrableDomain(hostOf(domain))

	var (
		mu    sync.Mutex
		alive []SubdomainResult
	)

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for _, label := range p.candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if res, ok := p.probeOne(ctx, label, root); ok {
				mu.Lock()
				alive = append(alive, res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(alive, func(i, j int) bool { return alive[i].Name < alive[j].Name })
	return alive, nil
}

func (p *SubdomainProber) probeOne(ctx context.Context, label, root string) (SubdomainResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	full := label + "." + root
	target := p.scheme + "://" + full + "/"

	start := time.Now()
	resp, err := p.client.Head(ctx, target)
	if err != nil || resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode >= http.StatusInternalServerError {
		resp, err = p.client.Get(ctx, target)
	}
	if err != nil || resp.StatusCode >= http.StatusInternalServerError {
		return SubdomainResult{}, false
	}

	return SubdomainResult{
		Name:         label,
		FullDomain:   full,
		IsActive:     true,
		StatusCode:   resp.StatusCode,
		ResponseTime: time.Since(start),
		CheckedAt:    p.now(),
	}, true
}

// hostOf 接受域名或 URL
func hostOf(domain string) string {
	d := strings.TrimSpace(domain)
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil {
			return u.Hostname()
		}
	}
	if i := strings.IndexAny(d, "/:"); i >= 0 {
		d = d[:i]
	}
	return d
}
