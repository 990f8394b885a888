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

type CompanyUserRepo interface {
	Create(ctx context.Context, tx *gorm.DB, user *types.CompanyUser) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CompanyUser, error)
	GetByEmail(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, email string) (*types.CompanyUser, error)
}

type companyUserRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCompanyUserRepo(db *gorm.DB, log *logger.Logger) CompanyUserRepo {
	return &companyUserRepo{db: db, log: log.With("repo", "company_user")}
}

func (r *companyUserRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *companyUserRepo) Create(ctx context.Context, tx *gorm.DB, user *types.CompanyUser) error {
	if err := r.conn(tx).WithContext(ctx).Create(user).Error; err != nil {
		r.log.Error("create user failed", "error", err.Error())
		return err
	}
	return nil
}

func (r *companyUserRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CompanyUser, error) {
	var user types.CompanyUser
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *companyUserRepo) GetByEmail(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, email string) (*types.CompanyUser, error) {
	var user types.CompanyUser
	err := r.conn(tx).WithContext(ctx).
		Where("company_id = ? AND email = ?", companyID, email).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
