package models

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusPending:
		return true
	}
	return false
}

// Profile is the business-facing user record. ID always equals the identity
// id it was created for.
type Profile struct {
	ID              string     `gorm:"size:64;primaryKey" json:"id"`
	Name            string     `gorm:"size:100;not null" json:"name"`
	Email           string     `gorm:"size:255;not null;index" json:"email"`
	PhoneNumber     string     `gorm:"size:32" json:"phone_number,omitempty"`
	ProfileImage    string     `gorm:"size:1024" json:"profile_image,omitempty"`
	Role            Role       `gorm:"size:20;default:'user'" json:"role"`
	Status          Status     `gorm:"size:20;default:'active'" json:"status"`
	IsEmailVerified bool       `gorm:"default:false" json:"is_email_verified"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// IsModerator is true for moderators and admins.
func (p *Profile) IsModerator() bool {
	return p.Role == RoleAdmin || p.Role == RoleModerator
}

// IsActive treats an unset status as active.
func (p *Profile) IsActive() bool {
	return p.Status == StatusActive || p.Status == ""
}

// DisplayName falls back to the local part of the email.
func (p *Profile) DisplayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	local, _, _ := strings.Cut(p.Email, "@")
	return local
}

// Initials returns up to two upper-case initials of the display name.
func (p *Profile) Initials() string {
	var b strings.Builder
	for _, word := range strings.Fields(p.DisplayName()) {
		r, _ := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
		if utf8.RuneCountInString(b.String()) == 2 {
			break
		}
	}
	return b.String()
}

// ProfileSeed is the data a profile is created from.
type ProfileSeed struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	IsEmailVerified bool   `json:"is_email_verified"`
}

// ProfileUpdate is a partial update; nil fields are left untouched. An empty
// phone number or profile image clears the stored value.
type ProfileUpdate struct {
	Name            *string    `json:"name,omitempty" validate:"omitnil,min=2,max=50"`
	Email           *string    `json:"email,omitempty" validate:"omitnil,email"`
	PhoneNumber     *string    `json:"phone_number,omitempty" validate:"omitempty,phone"`
	ProfileImage    *string    `json:"profile_image,omitempty" validate:"omitempty,url"`
	IsEmailVerified *bool      `json:"is_email_verified,omitempty"`
	Role            *Role      `json:"role,omitempty" validate:"omitnil,oneof=user admin moderator"`
	Status          *Status    `json:"status,omitempty" validate:"omitnil,oneof=active inactive suspended pending"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
}

// Empty reports whether the update carries no field at all.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.PhoneNumber == nil &&
		u.ProfileImage == nil && u.IsEmailVerified == nil && u.Role == nil &&
		u.Status == nil && u.LastLoginAt == nil
}

// Columns returns the update as a gorm column map.
func (u ProfileUpdate) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if u.Name != nil {
		cols["name"] = *u.Name
	}
	if u.Email != nil {
		cols["email"] = *u.Email
	}
	if u.PhoneNumber != nil {
		cols["phone_number"] = *u.PhoneNumber
	}
	if u.ProfileImage != nil {
		cols["profile_image"] = *u.ProfileImage
	}
	if u.IsEmailVerified != nil {
		cols["is_email_verified"] = *u.IsEmailVerified
	}
	if u.Role != nil {
		cols["role"] = string(*u.Role)
	}
	if u.Status != nil {
		cols["status"] = string(*u.Status)
	}
	if u.LastLoginAt != nil {
		cols["last_login_at"] = *u.LastLoginAt
	}
	return cols
}
