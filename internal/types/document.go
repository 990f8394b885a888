package types

import (
	"time"

	"github.com/google/uuid"
)

// Embeddings status machine: pending -> processing -> completed | failed.
// "completed" is only written after the chunks are in the index; a crash in
// between leaves pending/processing rows for the reconcile sweep.
const (
	EmbeddingsPending    = "pending"
	EmbeddingsProcessing = "processing"
	EmbeddingsCompleted  = "completed"
	EmbeddingsFailed     = "failed"
)

type Document struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	KnowledgeBaseID  uuid.UUID  `gorm:"type:uuid;not null;index;column:knowledge_base_id" json:"knowledge_base_id"`
	CompanyID        uuid.UUID  `gorm:"type:uuid;not null;index;column:company_id" json:"company_id"`
	Filename         string     `gorm:"not null;column:filename" json:"filename"`
	Content          string     `gorm:"type:text;not null;column:content" json:"-"`
	ContentType      string     `gorm:"not null;default:text/plain;column:content_type" json:"content_type"`
	FileSize         int64      `gorm:"not null;column:file_size" json:"file_size"`
	EmbeddingsStatus string     `gorm:"not null;default:pending;column:embeddings_status" json:"embeddings_status"`
	EmbeddedAt       *time.Time `gorm:"column:embedded_at" json:"embedded_at,omitempty"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null" json:"updated_at"`
}

func (Document) TableName() string {
	return "document"
}
