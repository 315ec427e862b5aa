package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/site_structure_server/internal/model"
)

var ErrCompanyNotFound = errors.New("company not found")

// CompanyRepository 公司数据访问（只读）
type CompanyRepository struct {
	db *gorm.DB
}

func NewCompanyRepository(db *gorm.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

func (r *CompanyRepository) GetByID(ctx context.Context, id int64) (*model.Company, error) {
	var company model.Company
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&company).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *CompanyRepository) GetByIDs(ctx context.Context, ids []int64) ([]model.Company, error) {
	var companies []model.Company
	if len(ids) == 0 {
		return companies, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&companies).Error
	return companies, err
}

// ListWithWebsite 按 id 顺序获取有网站的公司
func (r *CompanyRepository) ListWithWebsite(ctx context.Context, afterID int64, limit int) ([]model.Company, error) {
	var companies []model.Company
	err := r.db.WithContext(ctx).
		Where("website IS NOT NULL AND website <> ''").
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&companies).Error
	return companies, err
}
