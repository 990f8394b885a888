package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	CompanyStatusActive    = "active"
	CompanyStatusSuspended = "suspended"
	CompanyStatusDeleted   = "deleted"
)

// Company is a tenant. Rows are never physically deleted; Status transitions
// instead.
type Company struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string         `gorm:"not null;column:name" json:"name"`
	Email        string         `gorm:"uniqueIndex;not null;column:email" json:"email"`
	PasswordHash string         `gorm:"not null;column:password_hash" json:"-"`
	Status       string         `gorm:"not null;default:active;column:status" json:"status"`
	Settings     datatypes.JSON `gorm:"column:settings" json:"settings,omitempty"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

func (Company) TableName() string {
	return "company"
}

// Namespace is the tenant's partition in the shared vector index. Derived
// deterministically from the id so every component lands on the same one.
func (c *Company) Namespace() string {
	return CompanyNamespace(c.ID)
}

func CompanyNamespace(companyID uuid.UUID) string {
	return "company_" + companyID.String()
}
