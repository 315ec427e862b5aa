package worker

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/site_structure_server/internal/discovery"
	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/ranking"
)

func rankedPage(url, path string, score int) ranking.RankedPage {
	return ranking.RankedPage{
		Page:              discovery.Page{URL: url, Title: "T " + path, Source: discovery.StrategySitemap},
		CanonicalKey:      discovery.CanonicalKey(url),
		Path:              path,
		Depth:             len(discovery.PathSegments(path)),
		PageType:          ranking.TypeGeneral,
		BIClassification:  ranking.BIUnclassified,
		BusinessValueTier: ranking.BIUnclassifiedTier,
		Score:             score,
	}
}

func TestParentPath(t *testing.T) {
	tests := map[string]string{
		"/":               "",
		"":                "",
		"/about":          "/",
		"/about/":         "/",
		"/about/team":     "/about",
		"/a/b/c/":         "/a/b",
		"products/widget": "/products",
	}
	for in, want := range tests {
		assert.Equal(t, want, parentPath(in), in)
	}
}

func TestHashKey(t *testing.T) {
	k := hashKey("https://acme.com/about")
	assert.Len(t, k, 64)
	assert.Equal(t, k, hashKey("https://acme.com/about"))
	assert.NotEqual(t, k, hashKey("https://acme.com/contact"))
}

func TestBuildStructure(t *testing.T) {
	job := &model.AnalysisJob{ID: 7, CompanyID: 3, Domain: "acme.com"}
	ranked := []ranking.RankedPage{
		rankedPage("https://acme.com/", "/", 90),
		rankedPage("https://acme.com/about", "/about", 80),
		rankedPage("https://acme.com/about/team", "/about/team", 70),
		rankedPage("https://acme.com/blog/", "/blog/", 60),
		rankedPage("https://acme.com/docs/api/v1", "/docs/api/v1", 50),
		rankedPage("https://ACME.com/about/", "/about/", 40),
	}
	checked := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	subs := []discovery.SubdomainResult{
		{Name: "blog", FullDomain: "blog.acme.com", IsActive: true, StatusCode: 200, ResponseTime: 150 * time.Millisecond, CheckedAt: checked},
	}

	s := buildStructure(job, "https://acme.com/sitemap.xml", ranked, subs)

	assert.Equal(t, int64(3), s.CompanyID)
	assert.Equal(t, "acme.com", s.Domain)
	assert.Equal(t, "https://acme.com/sitemap.xml", s.SitemapURL)

	// /about/ collapses onto /about
	require.Len(t, s.Pages, 5)
	assert.Equal(t, 5, s.TotalPages)

	byPath := make(map[string]model.WebsitePage)
	for _, p := range s.Pages {
		assert.Len(t, p.CanonicalKey, 64)
		byPath[p.Path] = p
	}
	assert.False(t, byPath["/"].IsDirectory)
	assert.Equal(t, "", byPath["/"].ParentPath)
	assert.True(t, byPath["/about"].IsDirectory)
	assert.Equal(t, "/", byPath["/about"].ParentPath)
	assert.Equal(t, "/about", byPath["/about/team"].ParentPath)
	assert.False(t, byPath["/about/team"].IsDirectory)
	assert.True(t, byPath["/blog/"].IsDirectory)
	assert.Equal(t, "/docs/api", byPath["/docs/api/v1"].ParentPath)
	assert.Equal(t, 80, byPath["/about"].ImportanceScore)

	// /about, /blog and /docs/api
	assert.Equal(t, 3, s.TotalDirectories)

	require.Len(t, s.Subdomains, 1)
	assert.Equal(t, 1, s.TotalSubdomains)
	assert.Equal(t, 150, s.Subdomains[0].ResponseTime)
	assert.Equal(t, checked, s.Subdomains[0].LastChecked)
}

func TestBuildStructure_TruncatesTitle(t *testing.T) {
	rp := rankedPage("https://acme.com/x", "/x", 10)
	rp.Title = strings.Repeat("é", maxTitleLength+20)

	s := buildStructure(&model.AnalysisJob{CompanyID: 1, Domain: "acme.com"}, "", []ranking.RankedPage{rp}, nil)
	require.Len(t, s.Pages, 1)
	assert.Equal(t, maxTitleLength, len([]rune(s.Pages[0].Title)))
}
