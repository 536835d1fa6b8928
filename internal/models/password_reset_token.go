package models

import (
	"time"

	"github.com/google/uuid"
)

// PasswordResetToken is a single-use reset link. Only the hash of the token
// is stored; UsedAt is set once the link has been spent.
type PasswordResetToken struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID string     `gorm:"size:64;not null;index" json:"account_id"`
	TokenHash string     `gorm:"uniqueIndex;not null;size:64" json:"-"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
