package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/types"
)

type CompanyRepo interface {
	Create(ctx context.Context, tx *gorm.DB, company *types.Company) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Company, error)
	GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.Company, error)
	Update(ctx context.Context, tx *gorm.DB, company *types.Company) error
	List(ctx context.Context, tx *gorm.DB) ([]types.Company, error)
}

type companyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCompanyRepo(db *gorm.DB, log *logger.Logger) CompanyRepo {
	return &companyRepo{db: db, log: log.With("repo", "company")}
}

func (r *companyRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *companyRepo) Create(ctx context.Context, tx *gorm.DB, company *types.Company) error {
	if err := r.conn(tx).WithContext(ctx).Create(company).Error; err != nil {
		r.log.Error("create company failed", "error", err.Error())
		return err
	}
	return nil
}

func (r *companyRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Company, error) {
	var company types.Company
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&company).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *companyRepo) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.Company, error) {
	var company types.Company
	err := r.conn(tx).WithContext(ctx).Where("email = ?", email).First(&company).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *companyRepo) Update(ctx context.Context, tx *gorm.DB, company *types.Company) error {
	return r.conn(tx).WithContext(ctx).Save(company).Error
}

func (r *companyRepo) List(ctx context.Context, tx *gorm.DB) ([]types.Company, error) {
	var companies []types.Company
	err := r.conn(tx).WithContext(ctx).
		Where("status = ?", types.CompanyStatusActive).
		Order("created_at DESC").
		Find(&companies).Error
	if err != nil {
		return nil, err
	}
	return companies, nil
}
