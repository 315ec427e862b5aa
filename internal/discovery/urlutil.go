package discovery

import (
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var skippedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true, ".ico": true,
	".css": true, ".js": true, ".json": true, ".woff": true, ".woff2": true, ".ttf": true,
	".zip": true, ".gz": true, ".mp4": true, ".mp3": true, ".avi": true, ".mov": true,
}

var titleCaser = cases.Title(language.English)

var pageExtension = regexp.MustCompile(`\.(html?|php|aspx?|jsp)$`)

// BaseURL 将域名转为 https 根地址，已带协议的原样返回
func BaseURL(domain string) string {
	d := strings.TrimSpace(domain)
	if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
		return strings.TrimRight(d, "/")
	}
	return "https://" + strings.TrimRight(d, "/")
}

// RegistrableDomain 返回 host 的 eTLD+1，没有时（IP、localhost）返回 host 本身
func RegistrableDomain(host string) string {
	h := strings.ToLower(host)
	if hh, _, err := net.SplitHostPort(h); err == nil {
		h = hh
	}
	h = strings.TrimSuffix(h, ".")
	if net.ParseIP(h) != nil {
		return h
	}
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(h); err == nil {
		return etld1
	}
	return strings.TrimPrefix(h, "www.")
}

func sameSite(u *url.URL, site string) bool {
	return RegistrableDomain(u.Hostname()) == site
}

// resolveLink 基于 base 解析 href，只保留同站的 http(s) 页面链接
func resolveLink(base *url.URL, href, site string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"mailto:", "tel:", "javascript:", "data:", "sms:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if !acceptPageURL(u, site) {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func acceptPageURL(u *url.URL, site string) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !sameSite(u, site) {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return !skippedExtensions[ext]
}

// isSitemapLike 条目是否指向其他 sitemap 文件而不是页面
func isSitemapLike(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.Contains(lower, "sitemap") || strings.HasSuffix(lower, ".xml") || strings.HasSuffix(lower, ".xml.gz")
}

// TitleFromURL 从最后一段路径推导标题
func TitleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return "Home"
	}
	segment := p[strings.LastIndex(p, "/")+1:]
	segment = pageExtension.ReplaceAllString(strings.ToLower(segment), "")
	if segment == "index" || segment == "" {
		return "Home"
	}
	segment = strings.NewReplacer("-", " ", "_", " ").Replace(segment)
	return titleCaser.String(strings.Join(strings.Fields(segment), " "))
}

// PathSegments 拆分 URL 路径的非空段
func PathSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
