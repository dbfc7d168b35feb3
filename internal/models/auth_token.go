package models

import "time"

// TokenPurpose identifies what a single-use auth token unlocks.
type TokenPurpose string

const (
	TokenEmailVerification TokenPurpose = "email_verification"
	TokenPasswordReset     TokenPurpose = "password_reset"
	TokenMagicLink         TokenPurpose = "magic_link"
)

// AuthToken is a single-use, expiring token. Magic link tokens may precede
// the account they sign in, so UserID is optional and Email is always set.
type AuthToken struct {
	BaseModel

	Purpose   TokenPurpose `gorm:"type:varchar(32);not null;index" json:"purpose"`
	UserID    *string      `gorm:"type:uuid;index" json:"user_id"`
	Email     string       `gorm:"not null;index" json:"email"`
	TokenHash string       `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time    `gorm:"index" json:"expires_at"`
	UsedAt    *time.Time   `json:"used_at"`
}

// Usable reports whether the token can still be consumed at now.
func (t *AuthToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
