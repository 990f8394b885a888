package types

import (
	"time"

	"github.com/google/uuid"
)

// KnowledgeBase is singleton-per-tenant in practice (get-or-create keyed by
// company id). FileCount mirrors the number of live Document rows and is only
// ever moved by atomic increments at the repo layer.
type KnowledgeBase struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex;column:company_id" json:"company_id"`
	Name        string    `gorm:"not null;column:name" json:"name"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	Status      string    `gorm:"not null;default:ready;column:status" json:"status"`
	FileCount   int       `gorm:"not null;default:0;column:file_count" json:"file_count"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (KnowledgeBase) TableName() string {
	return "knowledge_base"
}
