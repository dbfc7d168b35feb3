package models

import "time"

// RateLimitBucket is a fixed-window request counter keyed by client and route.
type RateLimitBucket struct {
	Key       string    `gorm:"column:bucket_key;primaryKey;type:varchar(255)"`
	Count     int64     `gorm:"not null;default:0"`
	ExpiresAt time.Time `gorm:"index;not null"`
	UpdatedAt time.Time
}
