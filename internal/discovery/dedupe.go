package discovery

import (
	"regexp"
	"strings"
)

var indexSuffix = regexp.MustCompile(`/index\.(html|htm|php)$`)

// CanonicalKey 规范化 URL 用于去重：转小写，去掉 index 文件后缀和末尾斜杠
func CanonicalKey(rawURL string) string {
	key := strings.ToLower(strings.TrimSpace(rawURL))
	key = indexSuffix.ReplaceAllString(key, "")
	return strings.TrimRight(key, "/")
}

// Dedupe 合并规范化键相同的页面：优先级最高的保留，相同时保留先出现的，
// 并从被合并的条目继承缺失的 sitemap 元数据。输出保持首次出现的顺序
func Dedupe(pages []Page) []Page {
	index := make(map[string]int, len(pages))
	out := make([]Page, 0, len(pages))

	for _, p := range pages {
		key := CanonicalKey(p.URL)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, p)
			continue
		}

		cur := out[i]
		if p.Priority > cur.Priority {
			out[i] = mergeMetadata(p, cur)
		} else {
			out[i] = mergeMetadata(cur, p)
		}
	}
	return out
}

func mergeMetadata(winner, loser Page) Page {
	if winner.SitemapPriority == nil {
		winner.SitemapPriority = loser.SitemapPriority
	}
	if winner.LastModified == nil {
		winner.LastModified = loser.LastModified
	}
	if winner.ChangeFrequency == "" {
		winner.ChangeFrequency = loser.ChangeFrequency
	}
	if winner.Title == "" {
		winner.Title = loser.Title
	}
	return winner
}
