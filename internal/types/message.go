package types

import (
	"github.com/google/uuid"
)

const (
	MessageRoleHuman  = "human"
	MessageRoleAI     = "ai"
	MessageRoleSystem = "system"
)

// Message is append-only. CompanyID is denormalized from the chat for
// defense-in-depth filtering. Timestamp is unix nanoseconds; within one
// exchange the ai row always carries a strictly greater value than the human
// row.
type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID    uuid.UUID `gorm:"type:uuid;not null;index;column:chat_id" json:"chat_id"`
	CompanyID uuid.UUID `gorm:"type:uuid;not null;index;column:company_id" json:"company_id"`
	Role      string    `gorm:"not null;column:role" json:"role"`
	Content   string    `gorm:"type:text;not null;column:content" json:"content"`
	Timestamp int64     `gorm:"not null;index;column:timestamp" json:"timestamp"`
}

func (Message) TableName() string {
	return "message"
}
