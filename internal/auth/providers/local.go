// Package providers holds credential checks that turn a login attempt into a user.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/pkg/crypto"
)

var (
	// ErrInvalidCredentials is returned when the supplied email/password pair is invalid.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountLocked signals that the user has exceeded the permitted failed attempts.
	ErrAccountLocked = errors.New("auth: account locked")
	// ErrAccountDisabled signals that the user has been deactivated.
	ErrAccountDisabled = errors.New("auth: account disabled")
	// ErrEmailNotVerified is returned when verification is required and still pending.
	ErrEmailNotVerified = errors.New("auth: email not verified")
)

// LocalConfig defines tunable behaviour for the local provider.
type LocalConfig struct {
	LockoutThreshold         int
	LockoutDuration          time.Duration
	RequireEmailVerification bool
	Clock                    func() time.Time
}

// AuthenticateInput contains the credentials of a login attempt.
type AuthenticateInput struct {
	Email     string
	Password  string
	IPAddress string
}

// LocalProvider implements email/password authentication with account lockout controls.
type LocalProvider struct {
	db            *gorm.DB
	clock         func() time.Time
	threshold     int
	duration      time.Duration
	requireVerify bool
}

// NewLocalProvider builds a provider with sane defaults.
func NewLocalProvider(db *gorm.DB, cfg LocalConfig) (*LocalProvider, error) {
	if db == nil {
		return nil, errors.New("local provider: db is required")
	}

	threshold := cfg.LockoutThreshold
	if threshold <= 0 {
		threshold = 5
	}
	duration := cfg.LockoutDuration
	if duration <= 0 {
		duration = 15 * time.Minute
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &LocalProvider{
		db:            db,
		clock:         clock,
		threshold:     threshold,
		duration:      duration,
		requireVerify: cfg.RequireEmailVerification,
	}, nil
}

// Authenticate verifies the supplied credentials and returns the associated user when successful.
func (p *LocalProvider) Authenticate(ctx context.Context, input AuthenticateInput) (*models.User, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	email := models.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	db := p.db.WithContext(ctx)
	var user models.User
	err := db.Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("local provider: query user: %w", err)
	}

	now := p.clock().UTC()
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		return nil, ErrAccountLocked
	}
	if user.LockedUntil != nil {
		// Lockout elapsed: start counting again.
		user.LockedUntil = nil
		user.FailedAttempts = 0
	}

	if !crypto.VerifyPassword(user.Password, input.Password) {
		return nil, p.handleFailedAttempt(db, &user, now)
	}
	if p.requireVerify && user.EmailVerifiedAt == nil {
		return nil, ErrEmailNotVerified
	}

	if err := columns(db).Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]any{
		"failed_attempts": 0,
		"locked_until":    nil,
		"last_login_at":   now,
	}).Error; err != nil {
		return nil, fmt.Errorf("local provider: update user: %w", err)
	}
	user.FailedAttempts = 0
	user.LastLoginAt = &now
	return &user, nil
}

func (p *LocalProvider) handleFailedAttempt(db *gorm.DB, user *models.User, now time.Time) error {
	user.FailedAttempts++
	updates := map[string]any{
		"failed_attempts": user.FailedAttempts,
		"locked_until":    nil,
	}
	if user.FailedAttempts >= p.threshold {
		lockUntil := now.Add(p.duration)
		user.LockedUntil = &lockUntil
		updates["locked_until"] = lockUntil
	}

	if err := columns(db).Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("local provider: update failed attempts: %w", err)
	}
	if user.LockedUntil != nil {
		return ErrAccountLocked
	}
	return ErrInvalidCredentials
}

func columns(db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{SkipHooks: true})
}
