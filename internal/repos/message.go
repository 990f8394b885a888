package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/types"
)

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, msg *types.Message) error
	// ListByChat returns the full transcript ordered by timestamp ascending.
	ListByChat(ctx context.Context, tx *gorm.DB, companyID, chatID uuid.UUID) ([]types.Message, error)
	// ListRecent returns the last n messages, still in ascending order.
	ListRecent(ctx context.Context, tx *gorm.DB, companyID, chatID uuid.UUID, n int) ([]types.Message, error)
	// MaxTimestamp returns the greatest timestamp in the chat, 0 when empty.
	MaxTimestamp(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "message")}
}

func (r *messageRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *messageRepo) Create(ctx context.Context, tx *gorm.DB, msg *types.Message) error {
	if err := r.conn(tx).WithContext(ctx).Create(msg).Error; err != nil {
		r.log.Error("create message failed", "error", err.Error())
		return err
	}
	return nil
}

func (r *messageRepo) ListByChat(ctx context.Context, tx *gorm.DB, companyID, chatID uuid.UUID) ([]types.Message, error) {
	var msgs []types.Message
	err := r.conn(tx).WithContext(ctx).
		Where("chat_id = ? AND company_id = ?", chatID, companyID).
		Order("timestamp ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepo) ListRecent(ctx context.Context, tx *gorm.DB, companyID, chatID uuid.UUID, n int) ([]types.Message, error) {
	var msgs []types.Message
	err := r.conn(tx).WithContext(ctx).
		Where("chat_id = ? AND company_id = ?", chatID, companyID).
		Order("timestamp DESC").
		Limit(n).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *messageRepo) MaxTimestamp(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) (int64, error) {
	var ts *int64
	err := r.conn(tx).WithContext(ctx).
		Model(&types.Message{}).
		Where("chat_id = ?", chatID).
		Select("MAX(timestamp)").
		Scan(&ts).Error
	if err != nil {
		return 0, err
	}
	if ts == nil {
		return 0, nil
	}
	return *ts, nil
}
