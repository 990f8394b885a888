package types

import (
	"time"

	"github.com/google/uuid"
)

// CompanyUser is a registered end-user of one tenant's chatbot. Email is
// unique per company, not globally.
type CompanyUser struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_company_user_email;column:company_id" json:"company_id"`
	Email     string    `gorm:"not null;uniqueIndex:idx_company_user_email;column:email" json:"email"`
	Name      string    `gorm:"not null;column:name" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (CompanyUser) TableName() string {
	return "company_user"
}
