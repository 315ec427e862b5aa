package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/model/dto"
)

const insertBatchSize = 100

// HighValueTier 高价值页面的最低业务价值等级
const HighValueTier = 2

// LocalArchivePrefix 指向本地快照目录的归档地址前缀
const LocalArchivePrefix = "local://"

type StructureRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStructureRepository(db *gorm.DB) *StructureRepository {
	return &StructureRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// StoreWebsiteStructure 在一个事务中替换公司的全部结构数据。
// 结构行 upsert，页面和子域名整体替换，后写入者生效，读取方不会看到两次分析混合的结果
func (r *StructureRepository) StoreWebsiteStructure(ctx context.Context, s *model.WebsiteStructure) error {
	now := r.now()
	next := now.Add(model.RefreshInterval)

	pages := s.Pages
	subdomains := s.Subdomains

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.WebsiteStructure
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("company_id = ?", s.CompanyID).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row := model.WebsiteStructure{
			CompanyID:        s.CompanyID,
			Domain:           s.Domain,
			TotalPages:       len(pages),
			TotalDirectories: s.TotalDirectories,
			TotalSubdomains:  len(subdomains),
			SitemapURL:       s.SitemapURL,
			LastAnalyzed:     &now,
			NextAnalysis:     &next,
			Status:           model.StructureStatusCompleted,
			ArchiveURL:       s.ArchiveURL,
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
				return err
			}
		} else {
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
			err := tx.Model(&model.WebsiteStructure{}).Where("id = ?", existing.ID).
				Updates(map[string]interface{}{
					"domain":            row.Domain,
					"total_pages":       row.TotalPages,
					"total_directories": row.TotalDirectories,
					"total_subdomains":  row.TotalSubdomains,
					"sitemap_url":       row.SitemapURL,
					"last_analyzed":     now,
					"next_analysis":     next,
					"status":            row.Status,
					"archive_url":       row.ArchiveURL,
					"updated_at":        now,
				}).Error
			if err != nil {
				return err
			}

			if err := tx.Where("website_structure_id = ?", existing.ID).Delete(&model.WebsitePage{}).Error; err != nil {
				return err
			}
			if err := tx.Where("website_structure_id = ?", existing.ID).Delete(&model.Subdomain{}).Error; err != nil {
				return err
			}
		}

		if len(pages) > 0 {
			batch := make([]model.WebsitePage, len(pages))
			for i, p := range pages {
				p.ID = 0
				p.WebsiteStructureID = row.ID
				batch[i] = p
			}
			if err := tx.CreateInBatches(batch, insertBatchSize).Error; err != nil {
				return err
			}
		}

		if len(subdomains) > 0 {
			batch := make([]model.Subdomain, len(subdomains))
			for i, sd := range subdomains {
				sd.ID = 0
				sd.WebsiteStructureID = row.ID
				batch[i] = sd
			}
			if err := tx.CreateInBatches(batch, insertBatchSize).Error; err != nil {
				return err
			}
		}

		s.ID = row.ID
		s.TotalPages = row.TotalPages
		s.TotalSubdomains = row.TotalSubdomains
		s.LastAnalyzed = row.LastAnalyzed
		s.NextAnalysis = row.NextAnalysis
		s.Status = row.Status
		return nil
	})
}

// GetCachedStructure 获取已完成的结构及按评分排序的页面，没有可用数据时返回 nil
func (r *StructureRepository) GetCachedStructure(ctx context.Context, companyID int64) (*model.WebsiteStructure, error) {
	var s model.WebsiteStructure
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND status = ?", companyID, model.StructureStatusCompleted).
		Preload("Pages", func(db *gorm.DB) *gorm.DB {
			return db.Order("importance_score DESC").Order("id ASC")
		}).
		Preload("Subdomains", func(db *gorm.DB) *gorm.DB {
			return db.Order("name ASC")
		}).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSummary 获取结构行（不含页面），不限状态
func (r *StructureRepository) GetSummary(ctx context.Context, companyID int64) (*model.WebsiteStructure, error) {
	var s model.WebsiteStructure
	err := r.db.WithContext(ctx).Where("company_id = ?", companyID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// NeedsRefresh 没有数据、分析未完成或下次分析时间缺失或已过时返回 true
func (r *StructureRepository) NeedsRefresh(ctx context.Context, companyID int64) (bool, error) {
	s, err := r.GetSummary(ctx, companyID)
	if err != nil {
		return false, err
	}
	return StructureNeedsRefresh(s, r.now()), nil
}

// StructureNeedsRefresh 对已加载的结构行判断是否过期
func StructureNeedsRefresh(s *model.WebsiteStructure, now time.Time) bool {
	if s == nil || s.Status != model.StructureStatusCompleted || s.NextAnalysis == nil {
		return true
	}
	return !s.NextAnalysis.After(now)
}

// ListPages 按评分分页获取公司页面
func (r *StructureRepository) ListPages(ctx context.Context, companyID int64, pageType string, page, pageSize int) ([]model.WebsitePage, int64, error) {
	var pages []model.WebsitePage
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WebsitePage{}).
		Joins("JOIN website_structures ON website_structures.id = website_pages.website_structure_id").
		Where("website_structures.company_id = ?", companyID)
	if pageType != "" {
		query = query.Where("website_pages.page_type = ?", pageType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Select("website_pages.*").
		Order("website_pages.importance_score DESC").
		Order("website_pages.id ASC").
		Offset(offset).
		Limit(pageSize).
		Find(&pages).Error
	return pages, total, err
}

// HighValuePages 查询所有公司中等级 1-2 的页面
func (r *StructureRepository) HighValuePages(ctx context.Context, f dto.HighValuePageFilter) ([]dto.HighValuePage, error) {
	maxTier := f.MaxTier
	if maxTier <= 0 || maxTier > HighValueTier {
		maxTier = HighValueTier
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := r.db.WithContext(ctx).Table("website_pages").
		Select(`website_structures.company_id AS company_id,
			COALESCE(companies.name, '') AS company_name,
			website_structures.domain AS domain,
			website_pages.url AS url,
			website_pages.title AS title,
			website_pages.page_type AS page_type,
			website_pages.bi_classification AS bi_classification,
			website_pages.business_value_tier AS business_value_tier,
			website_pages.importance_score AS importance_score`).
		Joins("JOIN website_structures ON website_structures.id = website_pages.website_structure_id").
		Joins("LEFT JOIN companies ON companies.id = website_structures.company_id").
		Where("website_structures.status = ?", model.StructureStatusCompleted).
		Where("website_pages.business_value_tier BETWEEN 1 AND ?", maxTier)

	if f.Domain != "" {
		query = query.Where("website_structures.domain LIKE ?", "%"+f.Domain+"%")
	}
	if len(f.PageTypes) > 0 {
		query = query.Where("website_pages.bi_classification IN ?", f.PageTypes)
	}

	var rows []dto.HighValuePage
	err := query.
		Order("website_pages.business_value_tier ASC").
		Order("website_pages.importance_score DESC").
		Order("website_pages.id ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// BusinessIntelligenceSummary 按等级和分类统计页面数和公司数
func (r *StructureRepository) BusinessIntelligenceSummary(ctx context.Context, f dto.BISummaryFilter) ([]dto.BISummaryRow, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Table("website_pages").
		Select(`website_pages.business_value_tier AS business_value_tier,
			website_pages.bi_classification AS bi_classification,
			COUNT(*) AS page_count,
			COUNT(DISTINCT website_structures.company_id) AS company_count`).
		Joins("JOIN website_structures ON website_structures.id = website_pages.website_structure_id").
		Where("website_structures.status = ?", model.StructureStatusCompleted)

	if f.Tier > 0 {
		query = query.Where("website_pages.business_value_tier = ?", f.Tier)
	}
	if f.Classification != "" {
		query = query.Where("website_pages.bi_classification = ?", f.Classification)
	}

	var rows []dto.BISummaryRow
	err := query.
		Group("website_pages.business_value_tier, website_pages.bi_classification").
		Order("website_pages.business_value_tier ASC").
		Order("page_count DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// ListStaleCompanyIDs 获取结构已到期需要重新分析的公司
func (r *StructureRepository) ListStaleCompanyIDs(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&model.WebsiteStructure{}).
		Where("status = ? AND (next_analysis IS NULL OR next_analysis <= ?)", model.StructureStatusCompleted, r.now()).
		Order("next_analysis ASC").
		Limit(limit).
		Pluck("company_id", &ids).Error
	return ids, err
}

// ListLocalArchives 获取快照仍在本地磁盘的结构
func (r *StructureRepository) ListLocalArchives(ctx context.Context, limit int) ([]model.WebsiteStructure, error) {
	var rows []model.WebsiteStructure
	err := r.db.WithContext(ctx).
		Where("archive_url LIKE ?", LocalArchivePrefix+"%").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// UpdateArchiveURL 更新公司结构的快照地址
func (r *StructureRepository) UpdateArchiveURL(ctx context.Context, companyID int64, archiveURL string) error {
	result := r.db.WithContext(ctx).Model(&model.WebsiteStructure{}).
		Where("company_id = ?", companyID).
		Update("archive_url", archiveURL)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
