package models

import (
	"time"

	"gorm.io/gorm"
)

// Auth providers an account can be linked to.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
	ProviderGitHub   = "github"
	ProviderApple    = "apple"
)

// Account is the identity record owned by the identity service. Its ID is the
// opaque identity id handed to clients and reused as the profile id.
type Account struct {
	ID              string         `gorm:"size:64;primaryKey" json:"id"`
	Email           string         `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Password        string         `gorm:"not null;default:''" json:"-"`
	DisplayName     string         `gorm:"size:100" json:"display_name"`
	EmailVerified   bool           `gorm:"default:false" json:"email_verified"`
	AuthProvider    string         `gorm:"size:50;default:'password'" json:"auth_provider"`
	ProviderSubject *string        `gorm:"size:255;index" json:"-"`
	Disabled        bool           `gorm:"default:false" json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}
