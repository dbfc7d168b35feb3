package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/duocal/internal/models"
)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// DatabaseRateStore keeps fixed-window counters in the primary database so
// every server instance shares them.
type DatabaseRateStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewDatabaseRateStore builds a RateStore backed by the rate_limit_buckets table.
func NewDatabaseRateStore(db *gorm.DB, clock func() time.Time) (*DatabaseRateStore, error) {
	if db == nil {
		return nil, errors.New("rate store: db is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &DatabaseRateStore{db: db, clock: clock}, nil
}

// Increment bumps the counter for key, opening a new window when the previous one has elapsed.
func (s *DatabaseRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock().UTC()
	var bucket models.RateLimitBucket
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&bucket, "bucket_key = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			bucket = models.RateLimitBucket{Key: key, Count: 1, ExpiresAt: now.Add(window)}
			return tx.Create(&bucket).Error
		}
		if err != nil {
			return err
		}

		if !bucket.ExpiresAt.After(now) {
			bucket.Count = 0
			bucket.ExpiresAt = now.Add(window)
		}
		bucket.Count++
		return tx.Model(&models.RateLimitBucket{}).Where("bucket_key = ?", key).Updates(map[string]any{
			"count":      bucket.Count,
			"expires_at": bucket.ExpiresAt,
		}).Error
	})
	if err != nil {
		return 0, 0, fmt.Errorf("rate store: increment %q: %w", key, err)
	}
	return int(bucket.Count), bucket.ExpiresAt.Sub(now), nil
}

// Cleanup removes buckets whose window has elapsed.
func (s *DatabaseRateStore) Cleanup(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := s.db.WithContext(ctx).Where("expires_at <= ?", s.clock().UTC()).Delete(&models.RateLimitBucket{})
	if result.Error != nil {
		return 0, fmt.Errorf("rate store: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}
