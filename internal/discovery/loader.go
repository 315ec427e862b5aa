package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/singleflight"
)

// htmlPage 解析后的 HTML 文档及其最终 URL
type htmlPage struct {
	base *url.URL
	doc  *goquery.Document
}

// pageLoader 每次发现过程中每个 URL 只抓取解析一次，导航和首页解析共用首页结果
type pageLoader struct {
	client Fetcher
	group  singleflight.Group

	mu   sync.Mutex
	done map[string]*htmlPage
}

func newPageLoader(client Fetcher) *pageLoader {
	return &pageLoader{client: client, done: make(map[string]*htmlPage)}
}

func (l *pageLoader) load(ctx context.Context, rawURL string) (*htmlPage, error) {
	l.mu.Lock()
	if p, ok := l.done[rawURL]; ok {
		l.mu.Unlock()
		return p, nil
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do(rawURL, func() (interface{}, error) {
		p, err := l.fetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.done[rawURL] = p
		l.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*htmlPage), nil
}

func (l *pageLoader) fetch(ctx context.Context, rawURL string) (*htmlPage, error) {
	resp, err := l.client.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return nil, fmt.Errorf("%w: %s served %s", ErrHomepageNotHTML, rawURL, ct)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}

	// 相对链接基于重定向后的最终 URL 解析
	base, err := url.Parse(resp.URL)
	if err != nil || resp.URL == "" {
		base, err = url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}
	return &htmlPage{base: base, doc: doc}, nil
}

// linkTitle 依次取链接文本、title 或 aria-label，最后从 URL 推导标题
func linkTitle(a *goquery.Selection, resolved string) string {
	if t := cleanText(a.Text()); t != "" {
		return t
	}
	for _, attr := range []string{"title", "aria-label"} {
		if v, ok := a.Attr(attr); ok {
			if t := cleanText(v); t != "" {
				return t
			}
		}
	}
	if alt, ok := a.Find("img[alt]").First().Attr("alt"); ok {
		if t := cleanText(alt); t != "" {
			return t
		}
	}
	return TitleFromURL(resolved)
}
