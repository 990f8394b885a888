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

// ChatOwner scopes chat queries to the principal that owns them. Exactly one
// of UserID/SessionID is set.
type ChatOwner struct {
	UserID    *uuid.UUID
	SessionID *uuid.UUID
}

type ChatRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chat *types.Chat) error
	// GetByID is tenant-scoped: a chat id belonging to another company comes
	// back as not-found, never as a different error.
	GetByID(ctx context.Context, tx *gorm.DB, companyID, id uuid.UUID) (*types.Chat, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, owner ChatOwner) ([]types.Chat, error)
	Rename(ctx context.Context, tx *gorm.DB, companyID, id uuid.UUID, title string) error
	SoftDelete(ctx context.Context, tx *gorm.DB, companyID, id uuid.UUID) error
	Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, log *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: log.With("repo", "chat")}
}

func (r *chatRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *chatRepo) Create(ctx context.Context, tx *gorm.DB, chat *types.Chat) error {
	if err := r.conn(tx).WithContext(ctx).Create(chat).Error; err != nil {
		r.log.Error("create chat failed", "error", err.Error())
		return err
	}
	return nil
}

func (r *chatRepo) GetByID(ctx context.Context, tx *gorm.DB, companyID, id uuid.UUID) (*types.Chat, error) {
	var chat types.Chat
	err := r.conn(tx).WithContext(ctx).
		Where("id = ? AND company_id = ?", id, companyID).
		First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepo) ListByOwner(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, owner ChatOwner) ([]types.Chat, error) {
	q := r.conn(tx).WithContext(ctx).
		Where("company_id = ? AND is_deleted = ?", companyID, false)
	switch {
	case owner.UserID != nil:
		q = q.Where("user_id = ?", *owner.UserID)
	case owner.SessionID != nil:
		q = q.Where("session_id = ?", *owner.SessionID)
	default:
		return nil, apierr.ErrValidation
	}
	var chats []types.Chat
	if err := q.Order("updated_at DESC").Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *chatRepo) Rename(ctx context.Context, tx *gorm.DB, companyID, id uuid.UUID, title string) error {
	res := r.conn(tx).WithContext(ctx).
		Model(&types.Chat{}).
		Where("id = ? AND company_id = ? AND is_deleted = ?", id, companyID, false).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.ErrNotFound
	}
	return nil
}

func (r *chatRepo) SoftDelete(ctx context.Context, tx *gorm.DB, companyID, id uuid.UUID) error {
	res := r.conn(tx).WithContext(ctx).
		Model(&types.Chat{}).
		Where("id = ? AND company_id = ? AND is_deleted = ?", id, companyID, false).
		Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.ErrNotFound
	}
	return nil
}

func (r *chatRepo) Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.Chat{}).
		Where("id = ?", id).
		Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}
