package types

import (
	"time"

	"github.com/google/uuid"
)

// Chat belongs to one company and exactly one of {user, guest session}.
// Soft-deleted via IsDeleted, never removed.
type Chat struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID uuid.UUID  `gorm:"type:uuid;not null;index;column:company_id" json:"company_id"`
	UserID    *uuid.UUID `gorm:"type:uuid;index;column:user_id" json:"user_id,omitempty"`
	SessionID *uuid.UUID `gorm:"type:uuid;index;column:session_id" json:"session_id,omitempty"`
	Title     string     `gorm:"not null;column:title" json:"title"`
	IsGuest   bool       `gorm:"not null;default:false;column:is_guest" json:"is_guest"`
	IsDeleted bool       `gorm:"not null;default:false;column:is_deleted" json:"is_deleted"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (Chat) TableName() string {
	return "chat"
}
