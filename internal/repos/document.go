package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/types"
)

type DocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, doc *types.Document) error
	GetByID(ctx context.Context, tx *gorm.DB, companyID, id uuid.UUID) (*types.Document, error)
	ListByCompany(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) ([]types.Document, error)
	// ListUnfinished returns documents stuck in pending/processing, for the
	// startup reconcile sweep.
	ListUnfinished(ctx context.Context, tx *gorm.DB) ([]types.Document, error)
	ListCompletedByCompany(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) ([]types.Document, error)
	SetEmbeddingsStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, embeddedAt *time.Time) error
	Delete(ctx context.Context, tx *gorm.DB, companyID, id uuid.UUID) error
	DeleteByCompany(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) (int64, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, log *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: log.With("repo", "document")}
}

func (r *documentRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *documentRepo) Create(ctx context.Context, tx *gorm.DB, doc *types.Document) error {
	if err := r.conn(tx).WithContext(ctx).Create(doc).Error; err != nil {
		r.log.Error("create document failed", "error", err.Error())
		return err
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, tx *gorm.DB, companyID, id uuid.UUID) (*types.Document, error) {
	var doc types.Document
	err := r.conn(tx).WithContext(ctx).
		Where("id = ? AND company_id = ?", id, companyID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) ListByCompany(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) ([]types.Document, error) {
	var docs []types.Document
	err := r.conn(tx).WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("created_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepo) ListUnfinished(ctx context.Context, tx *gorm.DB) ([]types.Document, error) {
	var docs []types.Document
	err := r.conn(tx).WithContext(ctx).
		Where("embeddings_status IN ?", []string{types.EmbeddingsPending, types.EmbeddingsProcessing}).
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepo) ListCompletedByCompany(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) ([]types.Document, error) {
	var docs []types.Document
	err := r.conn(tx).WithContext(ctx).
		Where("company_id = ? AND embeddings_status = ?", companyID, types.EmbeddingsCompleted).
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepo) SetEmbeddingsStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, embeddedAt *time.Time) error {
	updates := map[string]any{"embeddings_status": status}
	if embeddedAt != nil {
		updates["embedded_at"] = *embeddedAt
	}
	return r.conn(tx).WithContext(ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *documentRepo) Delete(ctx context.Context, tx *gorm.DB, companyID, id uuid.UUID) error {
	res := r.conn(tx).WithContext(ctx).
		Where("id = ? AND company_id = ?", id, companyID).
		Delete(&types.Document{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.ErrNotFound
	}
	return nil
}

func (r *documentRepo) DeleteByCompany(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) (int64, error) {
	res := r.conn(tx).WithContext(ctx).
		Where("company_id = ?", companyID).
		Delete(&types.Document{})
	return res.RowsAffected, res.Error
}
