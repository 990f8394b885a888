package types

import (
	"time"

	"github.com/google/uuid"
)

// GuestSession is an anonymous principal scoped to one tenant. Expiry and
// conversion are both authentication failures, not metadata: a session past
// ExpiresAt or with Converted set must never authenticate again.
type GuestSession struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID uuid.UUID `gorm:"type:uuid;not null;index;column:company_id" json:"company_id"`
	IPAddress string    `gorm:"column:ip_address" json:"ip_address,omitempty"`
	UserAgent string    `gorm:"column:user_agent" json:"user_agent,omitempty"`
	ExpiresAt time.Time `gorm:"not null;column:expires_at" json:"expires_at"`
	Converted bool      `gorm:"not null;default:false;column:converted" json:"converted"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (GuestSession) TableName() string {
	return "guest_session"
}

func (gs *GuestSession) Live(now time.Time) bool {
	return !gs.Converted && gs.ExpiresAt.After(now)
}
