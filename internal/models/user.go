package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// User is a calendar account. PartnerID is the symmetric back-reference kept
// in lockstep with the partner's own PartnerID by the partner service; the
// schema deliberately carries no foreign key for it.
type User struct {
	BaseModel

	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `json:"-"`

	Name      string `gorm:"type:varchar(100)" json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"`

	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	IsActive        bool       `gorm:"default:true" json:"is_active"`

	PartnerID *string `gorm:"type:uuid;index" json:"partner_id"`
	Partner   *User   `gorm:"-" json:"partner,omitempty"`

	Sessions []Session `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastSeenAt  *time.Time `json:"last_seen_at"`

	FailedAttempts int        `gorm:"default:0" json:"-"`
	LockedUntil    *time.Time `json:"-"`
}

// BeforeSave normalises the email address used for lookups and invitation matching.
func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Email = NormalizeEmail(u.Email)
	u.Name = strings.TrimSpace(u.Name)
	return nil
}

// HasPartner reports whether the user is currently linked.
func (u *User) HasPartner() bool {
	return u != nil && u.PartnerID != nil && *u.PartnerID != ""
}

// DisplayName falls back to the email when no name is set.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	return u.Email
}

// PublicProfile is the subset of a user shown to the partner or an invitee.
type PublicProfile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

// Profile returns the public profile of u.
func (u *User) Profile() PublicProfile {
	return PublicProfile{
		ID:     u.ID,
		Name:   u.DisplayName(),
		Email:  u.Email,
		Avatar: u.Avatar,
	}
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
