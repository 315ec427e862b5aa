// Package fetch 发现和校验使用的 HTTP 客户端
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 10 << 20
	defaultMaxRedirects = 10
	defaultUserAgent    = "Mozilla/5.0 (compatible; SiteStructureBot/1.0)"

	defaultMaxTrackedHosts = 1024
	limiterIdleTTL         = 10 * time.Minute
)

type Options struct {
	UserAgent string
	Timeout   time.Duration
	// ProxyURL 直连出现网络错误或被限制访问时改走代理
	ProxyURL          string
	RequestsPerSecond float64
	Burst             int
	MaxBodyBytes      int64
	MaxRedirects      int
	// MaxTrackedHosts 保留的按主机限流器数量上限，空闲超过 limiterIdleTTL 的也会被移除
	MaxTrackedHosts int
	// Transport 替换直连 transport，主要用于测试
	Transport http.RoundTripper
}

// Response 已读取完整响应体的 HTTP 响应
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	ViaProxy   bool
}

// OK 是否为 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Client struct {
	direct       *http.Client
	proxied      *http.Client
	userAgent    string
	maxBodyBytes int64

	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
}

func NewClient(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxTrackedHosts <= 0 {
		opts.MaxTrackedHosts = defaultMaxTrackedHosts
	}

	transport := opts.Transport
	if transport == nil {
		transport = newTransport(nil)
	}

	c := &Client{
		direct: &http.Client{
			Timeout:       opts.Timeout,
			Transport:     transport,
			CheckRedirect: redirectPolicy(opts.MaxRedirects),
		},
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
		rps:          rate.Inf,
		limiters:     expirable.NewLRU[string, *rate.Limiter](opts.MaxTrackedHosts, nil, limiterIdleTTL),
	}

	if opts.RequestsPerSecond > 0 {
		c.rps = rate.Limit(opts.RequestsPerSecond)
		c.burst = opts.Burst
		if c.burst <= 0 {
			c.burst = 1
		}
	}

	if opts.ProxyURL != "" {
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		c.proxied = &http.Client{
			Timeout:       opts.Timeout,
			Transport:     newTransport(http.ProxyURL(proxy)),
			CheckRedirect: redirectPolicy(opts.MaxRedirects),
		}
	}

	return c, nil
}

func newTransport(proxy func(*http.Request) (*url.URL, error)) *http.Transport {
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func redirectPolicy(maxHops int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxHops {
			return ErrTooManyRedirects
		}
		return nil
	}
}

// Get 发送 GET 请求，不论状态码都返回响应
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL)
}

// Head 发送 HEAD 请求，不论状态码都返回响应
func (c *Client) Head(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, http.MethodHead, rawURL)
}

// Fetch 发送 GET 请求，非 2xx 返回 *Error
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, statusError(rawURL, resp.StatusCode)
	}
	return resp, nil
}

// Do 执行请求，配置了代理且直连网络错误或被限制访问时改走代理
func (c *Client) Do(ctx context.Context, method, rawURL string) (*Response, error) {
	if err := c.wait(ctx, rawURL); err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}

	resp, err := c.do(ctx, c.direct, method, rawURL)
	if c.proxied == nil || ctx.Err() != nil {
		return resp, err
	}
	if err == nil && !IsRestrictedStatus(resp.StatusCode) {
		return resp, nil
	}
	if err != nil && errors.Is(err, ErrTooManyRedirects) {
		return resp, err
	}

	presp, perr := c.do(ctx, c.proxied, method, rawURL)
	if perr != nil {
		// 代理失败时返回直连结果
		if err == nil {
			return resp, nil
		}
		return nil, perr
	}
	presp.ViaProxy = true
	return presp, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, http.NoBody)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	var body []byte
	if method != http.MethodHead {
		body, err = io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
		if err != nil {
			return nil, &Error{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
		}
		if int64(len(body)) > c.maxBodyBytes {
			return nil, &Error{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrBodyTooLarge}
		}
	}

	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

// wait 按主机限流
func (c *Client) wait(ctx context.Context, rawURL string) error {
	if c.rps == rate.Inf {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := strings.ToLower(u.Hostname())

	c.mu.Lock()
	limiter, ok := c.limiters.Get(host)
	if !ok {
		limiter = rate.NewLimiter(c.rps, c.burst)
	}
	// 重新写入以刷新空闲时间
	c.limiters.Add(host, limiter)
	c.mu.Unlock()

	return limiter.Wait(ctx)
}
