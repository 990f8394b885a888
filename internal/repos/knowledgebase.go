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

type KnowledgeBaseRepo interface {
	Create(ctx context.Context, tx *gorm.DB, kb *types.KnowledgeBase) error
	GetByCompany(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) (*types.KnowledgeBase, error)
	// AdjustFileCount moves file_count by delta atomically in SQL so
	// concurrent uploads never lose an increment.
	AdjustFileCount(ctx context.Context, tx *gorm.DB, id uuid.UUID, delta int) error
	SetFileCount(ctx context.Context, tx *gorm.DB, id uuid.UUID, count int) error
}

type knowledgeBaseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeBaseRepo(db *gorm.DB, log *logger.Logger) KnowledgeBaseRepo {
	return &knowledgeBaseRepo{db: db, log: log.With("repo", "knowledge_base")}
}

func (r *knowledgeBaseRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *knowledgeBaseRepo) Create(ctx context.Context, tx *gorm.DB, kb *types.KnowledgeBase) error {
	if err := r.conn(tx).WithContext(ctx).Create(kb).Error; err != nil {
		r.log.Error("create knowledge base failed", "error", err.Error())
		return err
	}
	return nil
}

func (r *knowledgeBaseRepo) GetByCompany(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) (*types.KnowledgeBase, error) {
	var kb types.KnowledgeBase
	err := r.conn(tx).WithContext(ctx).Where("company_id = ?", companyID).First(&kb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

func (r *knowledgeBaseRepo) AdjustFileCount(ctx context.Context, tx *gorm.DB, id uuid.UUID, delta int) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.KnowledgeBase{}).
		Where("id = ?", id).
		Update("file_count", gorm.Expr("file_count + ?", delta)).Error
}

func (r *knowledgeBaseRepo) SetFileCount(ctx context.Context, tx *gorm.DB, id uuid.UUID, count int) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.KnowledgeBase{}).
		Where("id = ?", id).
		Update("file_count", count).Error
}
