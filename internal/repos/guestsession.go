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

type GuestSessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, session *types.GuestSession) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GuestSession, error)
	// MarkConverted flips converted from false to true. Returns
	// apierr.ErrConflict when another caller already won the flip; the
	// conditional WHERE makes concurrent conversions race safely.
	MarkConverted(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type guestSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGuestSessionRepo(db *gorm.DB, log *logger.Logger) GuestSessionRepo {
	return &guestSessionRepo{db: db, log: log.With("repo", "guest_session")}
}

func (r *guestSessionRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *guestSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.GuestSession) error {
	if err := r.conn(tx).WithContext(ctx).Create(session).Error; err != nil {
		r.log.Error("create guest session failed", "error", err.Error())
		return err
	}
	return nil
}

func (r *guestSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GuestSession, error) {
	var session types.GuestSession
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *guestSessionRepo) MarkConverted(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	res := r.conn(tx).WithContext(ctx).
		Model(&types.GuestSession{}).
		Where("id = ? AND converted = ?", id, false).
		Update("converted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.ErrConflict
	}
	return nil
}
