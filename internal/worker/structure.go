package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"

	"github.com/qs3c/site_structure_server/internal/discovery"
	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/ranking"
)

// maxTitleLength 与 website_pages.title 列长度一致
const maxTitleLength = 500

// buildStructure 将排名后的页面和存活子域名转换为待存储的数据
func buildStructure(job *model.AnalysisJob, sitemapURL string, ranked []ranking.RankedPage, subdomains []discovery.SubdomainResult) *model.WebsiteStructure {
	s := &model.WebsiteStructure{
		CompanyID:  job.CompanyID,
		Domain:     job.Domain,
		SitemapURL: sitemapURL,
		Status:     model.StructureStatusCompleted,
	}

	parents := make(map[string]bool)
	seen := make(map[string]bool, len(ranked))
	for _, rp := range ranked {
		key := hashKey(rp.CanonicalKey)
		if seen[key] {
			continue
		}
		seen[key] = true

		p := model.WebsitePage{
			URL:               rp.URL,
			CanonicalKey:      key,
			Path:              rp.Path,
			Title:             truncate(rp.Title, maxTitleLength),
			SitemapPriority:   rp.SitemapPriority,
			LastModified:      rp.LastModified,
			ChangeFrequency:   rp.ChangeFrequency,
			PageType:          rp.PageType,
			ParentPath:        parentPath(rp.Path),
			Depth:             rp.Depth,
			ImportanceScore:   rp.Score,
			Source:            rp.Source,
			BIClassification:  rp.BIClassification,
			BusinessValueTier: rp.BusinessValueTier,
		}
		if p.ParentPath != "" && p.ParentPath != "/" {
			parents[p.ParentPath] = true
		}
		s.Pages = append(s.Pages, p)
	}

	directories := make(map[string]bool, len(parents))
	for i := range s.Pages {
		p := &s.Pages[i]
		trimmed := strings.TrimSuffix(p.Path, "/")
		if trimmed == "" {
			continue
		}
		if strings.HasSuffix(p.Path, "/") || parents[trimmed] {
			p.IsDirectory = true
			directories[trimmed] = true
		}
	}
	for parent := range parents {
		directories[parent] = true
	}
	s.TotalDirectories = len(directories)
	s.TotalPages = len(s.Pages)

	for _, sub := range subdomains {
		s.Subdomains = append(s.Subdomains, model.Subdomain{
			Name:         sub.Name,
			FullDomain:   sub.FullDomain,
			IsActive:     sub.IsActive,
			ResponseTime: int(sub.ResponseTime.Milliseconds()),
			LastChecked:  sub.CheckedAt,
		})
	}
	s.TotalSubdomains = len(s.Subdomains)
	return s
}

// hashKey 将任意长度的规范化 URL 转为 64 字符的键
func hashKey(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// parentPath 根页面返回 ""，一级页面返回 "/"
func parentPath(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	if trimmed == "" {
		return ""
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return path.Dir(trimmed)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
