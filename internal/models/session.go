package models

import "time"

// Session is a refresh token session. Only the token hash is stored.
type Session struct {
	BaseModel

	UserID           string     `gorm:"type:uuid;not null;index" json:"user_id"`
	User             *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	RefreshTokenHash string     `gorm:"uniqueIndex;not null" json:"-"`
	IPAddress        string     `json:"ip_address"`
	UserAgent        string     `json:"user_agent"`
	ExpiresAt        time.Time  `gorm:"index" json:"expires_at"`
	LastUsedAt       time.Time  `json:"last_used_at"`
	RevokedAt        *time.Time `json:"revoked_at"`
}
