package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/model/dto"
	"github.com/qs3c/site_structure_server/internal/testutil"
)

func testStructure(companyID int64, domain string, pages, subdomains int) *model.WebsiteStructure {
	s := &model.WebsiteStructure{
		CompanyID:        companyID,
		Domain:           domain,
		TotalDirectories: 1,
		SitemapURL:       "https://" + domain + "/sitemap.xml",
		Pages:            testutil.TestPages(domain, pages),
	}
	for i := 0; i < subdomains; i++ {
		name := []string{"blog", "shop", "docs", "careers"}[i%4]
		s.Subdomains = append(s.Subdomains, model.Subdomain{
			Name:         name,
			FullDomain:   name + "." + domain,
			IsActive:     true,
			ResponseTime: 120,
			LastChecked:  time.Now().UTC(),
		})
	}
	return s
}

func TestStructureRepository_StoreAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewStructureRepository(db)
	ctx := context.Background()

	s := testStructure(1, "example.com", 250, 3)
	require.NoError(t, repo.StoreWebsiteStructure(ctx, s))
	assert.NotZero(t, s.ID)

	got, err := repo.GetCachedStructure(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 250, got.TotalPages)
	assert.Equal(t, 3, got.TotalSubdomains)
	assert.Len(t, got.Pages, 250)
	assert.Len(t, got.Subdomains, 3)
	assert.Equal(t, model.StructureStatusCompleted, got.Status)
	require.NotNil(t, got.LastAnalyzed)
	require.NotNil(t, got.NextAnalysis)
	assert.WithinDuration(t, got.LastAnalyzed.Add(model.RefreshInterval), *got.NextAnalysis, time.Second)

	for i := 1; i < len(got.Pages); i++ {
		assert.GreaterOrEqual(t, got.Pages[i-1].ImportanceScore, got.Pages[i].ImportanceScore)
	}
}

func TestStructureRepository_StoreReplacesPrevious(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewStructureRepository(db)
	ctx := context.Background()

	first := testStructure(1, "example.com", 10, 2)
	require.NoError(t, repo.StoreWebsiteStructure(ctx, first))

	second := testStructure(1, "example.com", 4, 1)
	require.NoError(t, repo.StoreWebsiteStructure(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := repo.GetCachedStructure(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got.Pages, 4)
	assert.Len(t, got.Subdomains, 1)

	var pageCount, structCount int64
	require.NoError(t, db.Model(&model.WebsitePage{}).Count(&pageCount).Error)
	require.NoError(t, db.Model(&model.WebsiteStructure{}).Count(&structCount).Error)
	assert.Equal(t, int64(4), pageCount)
	assert.Equal(t, int64(1), structCount)
}

func TestStructureRepository_GetCachedStructure_Absent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	got, err := NewStructureRepository(db).GetCachedStructure(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStructureRepository_GetCachedStructure_NotCompleted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	require.NoError(t, db.Create(&model.WebsiteStructure{
		CompanyID: 5,
		Domain:    "example.com",
		Status:    model.StructureStatusFailed,
	}).Error)

	got, err := NewStructureRepository(db).GetCachedStructure(context.Background(), 5)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStructureRepository_NeedsRefresh(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewStructureRepository(db)
	ctx := context.Background()

	needs, err := repo.NeedsRefresh(ctx, 1)
	require.NoError(t, err)
	assert.True(t, needs, "absent structure")

	require.NoError(t, repo.StoreWebsiteStructure(ctx, testStructure(1, "example.com", 2, 0)))
	needs, err = repo.NeedsRefresh(ctx, 1)
	require.NoError(t, err)
	assert.False(t, needs, "fresh structure")

	repo.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }
	needs, err = repo.NeedsRefresh(ctx, 1)
	require.NoError(t, err)
	assert.True(t, needs, "past next_analysis")
}

func TestStructureNeedsRefresh(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, StructureNeedsRefresh(nil, now))
	assert.True(t, StructureNeedsRefresh(&model.WebsiteStructure{Status: model.StructureStatusCompleted}, now))
	assert.True(t, StructureNeedsRefresh(&model.WebsiteStructure{Status: model.StructureStatusFailed, NextAnalysis: &future}, now))
	assert.True(t, StructureNeedsRefresh(&model.WebsiteStructure{Status: model.StructureStatusCompleted, NextAnalysis: &past}, now))
	assert.False(t, StructureNeedsRefresh(&model.WebsiteStructure{Status: model.StructureStatusCompleted, NextAnalysis: &future}, now))
}

func TestStructureRepository_ListPages(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewStructureRepository(db)
	ctx := context.Background()
	s := testStructure(1, "example.com", 25, 0)
	s.Pages[3].PageType = "careers"
	require.NoError(t, repo.StoreWebsiteStructure(ctx, s))

	pages, total, err := repo.ListPages(ctx, 1, "", 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	require.Len(t, pages, 10)
	assert.Equal(t, "/page-10", pages[0].Path)

	pages, total, err = repo.ListPages(ctx, 1, "careers", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, pages, 1)
	assert.Equal(t, "/page-3", pages[0].Path)
}

func TestStructureRepository_HighValueAndSummary(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewStructureRepository(db)
	ctx := context.Background()

	acme := testutil.TestCompany(t, db, testutil.WithCompanyName("Acme"))
	globex := testutil.TestCompany(t, db, testutil.WithCompanyName("Globex"))

	a := testStructure(acme.ID, "acme.com", 3, 0)
	a.Pages[0].BIClassification, a.Pages[0].BusinessValueTier = "careers", 1
	a.Pages[1].BIClassification, a.Pages[1].BusinessValueTier = "news", 2
	require.NoError(t, repo.StoreWebsiteStructure(ctx, a))

	g := testStructure(globex.ID, "globex.com", 2, 0)
	g.Pages[0].BIClassification, g.Pages[0].BusinessValueTier = "careers", 1
	require.NoError(t, repo.StoreWebsiteStructure(ctx, g))

	pages, err := repo.HighValuePages(ctx, dto.HighValuePageFilter{})
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, 1, pages[0].BusinessValueTier)
	assert.Equal(t, 2, pages[2].BusinessValueTier)

	pages, err = repo.HighValuePages(ctx, dto.HighValuePageFilter{Domain: "acme", PageTypes: []string{"careers"}})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Acme", pages[0].CompanyName)
	assert.Equal(t, "acme.com", pages[0].Domain)

	rows, err := repo.BusinessIntelligenceSummary(ctx, dto.BISummaryFilter{Classification: "careers"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].PageCount)
	assert.Equal(t, int64(2), rows[0].CompanyCount)

	rows, err = repo.BusinessIntelligenceSummary(ctx, dto.BISummaryFilter{Tier: 7})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "unclassified", rows[0].BIClassification)
	assert.Equal(t, int64(2), rows[0].PageCount)
}

func TestStructureRepository_ListStaleCompanyIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewStructureRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.StoreWebsiteStructure(ctx, testStructure(1, "a.com", 1, 0)))
	require.NoError(t, repo.StoreWebsiteStructure(ctx, testStructure(2, "b.com", 1, 0)))

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&model.WebsiteStructure{}).Where("company_id = ?", 2).Update("next_analysis", past).Error)

	ids, err := repo.ListStaleCompanyIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func TestStructureRepository_ArchiveURL(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewStructureRepository(db)
	ctx := context.Background()

	local := testStructure(1, "local.example.com", 2, 0)
	local.ArchiveURL = LocalArchivePrefix + "1/snapshot.json"
	require.NoError(t, repo.StoreWebsiteStructure(ctx, local))

	remote := testStructure(2, "remote.example.com", 2, 0)
	remote.ArchiveURL = "https://cdn.example.com/structures/2/snapshot.json"
	require.NoError(t, repo.StoreWebsiteStructure(ctx, remote))

	rows, err := repo.ListLocalArchives(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].CompanyID)

	require.NoError(t, repo.UpdateArchiveURL(ctx, 1, "https://cdn.example.com/structures/1/snapshot.json"))
	rows, err = repo.ListLocalArchives(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.ErrorIs(t, repo.UpdateArchiveURL(ctx, 99, "x"), gorm.ErrRecordNotFound)
}
