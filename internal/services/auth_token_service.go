package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/pkg/crypto"
)

const defaultAuthTokenBytes = 32

// TokenTTLs sets the lifetime of each token purpose.
type TokenTTLs struct {
	EmailVerification time.Duration
	PasswordReset     time.Duration
	MagicLink         time.Duration
}

// DefaultTokenTTLs mirrors the lifetimes announced in the emails.
func DefaultTokenTTLs() TokenTTLs {
	return TokenTTLs{
		EmailVerification: 24 * time.Hour,
		PasswordReset:     time.Hour,
		MagicLink:         15 * time.Minute,
	}
}

func (t TokenTTLs) forPurpose(purpose models.TokenPurpose) time.Duration {
	defaults := DefaultTokenTTLs()
	pick := func(value, fallback time.Duration) time.Duration {
		if value > 0 {
			return value
		}
		return fallback
	}
	switch purpose {
	case models.TokenPasswordReset:
		return pick(t.PasswordReset, defaults.PasswordReset)
	case models.TokenMagicLink:
		return pick(t.MagicLink, defaults.MagicLink)
	default:
		return pick(t.EmailVerification, defaults.EmailVerification)
	}
}

// TokenOption customises the AuthTokenService.
type TokenOption func(*AuthTokenService)

// WithTokenClock injects a custom time source.
func WithTokenClock(clock func() time.Time) TokenOption {
	return func(s *AuthTokenService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTokenTTLs overrides token lifetimes.
func WithTokenTTLs(ttls TokenTTLs) TokenOption {
	return func(s *AuthTokenService) {
		s.ttls = ttls
	}
}

// WithTokenSize adjusts the number of random bytes in generated tokens.
func WithTokenSize(size int) TokenOption {
	return func(s *AuthTokenService) {
		if size > 0 {
			s.tokenLength = size
		}
	}
}

// AuthTokenService is the token store for single-use, expiring links.
// Only token hashes are persisted.
type AuthTokenService struct {
	db          *gorm.DB
	ttls        TokenTTLs
	tokenLength int
	now         func() time.Time
}

// NewAuthTokenService constructs the token store.
func NewAuthTokenService(db *gorm.DB, opts ...TokenOption) (*AuthTokenService, error) {
	if db == nil {
		return nil, errors.New("auth token service: db is required")
	}
	service := &AuthTokenService{
		db:          db,
		ttls:        DefaultTokenTTLs(),
		tokenLength: defaultAuthTokenBytes,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Issue creates a token for email and returns the raw value. Unused tokens of
// the same purpose for that email are revoked first.
func (s *AuthTokenService) Issue(ctx context.Context, purpose models.TokenPurpose, email string, userID *string) (string, *models.AuthToken, error) {
	ctx = ensureContext(ctx)
	email = models.NormalizeEmail(email)
	if email == "" {
		return "", nil, errors.New("auth token service: email is required")
	}

	raw, hash, err := crypto.NewHashedToken(s.tokenLength)
	if err != nil {
		return "", nil, fmt.Errorf("auth token service: generate token: %w", err)
	}

	token := &models.AuthToken{
		Purpose:   purpose,
		UserID:    userID,
		Email:     email,
		TokenHash: hash,
		ExpiresAt: s.now().UTC().Add(s.ttls.forPurpose(purpose)),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("purpose = ? AND email = ? AND used_at IS NULL", purpose, email).
			Delete(&models.AuthToken{}).Error; err != nil {
			return fmt.Errorf("auth token service: revoke previous: %w", err)
		}
		if err := tx.Create(token).Error; err != nil {
			return fmt.Errorf("auth token service: create token: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return raw, token, nil
}

// Consume validates and burns a token of the given purpose.
func (s *AuthTokenService) Consume(ctx context.Context, purpose models.TokenPurpose, raw string) (*models.AuthToken, error) {
	ctx = ensureContext(ctx)

	hash, err := crypto.HashToken(strings.TrimSpace(raw))
	if err != nil {
		return nil, ErrTokenInvalid
	}

	var token models.AuthToken
	if err := s.db.WithContext(ctx).
		Where("token_hash = ? AND purpose = ?", hash, purpose).
		First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("auth token service: find token: %w", err)
	}

	now := s.now().UTC()
	if token.UsedAt != nil {
		return nil, ErrTokenInvalid
	}
	if !token.Usable(now) {
		return nil, ErrTokenExpired
	}

	result := s.db.WithContext(ctx).Model(&models.AuthToken{}).
		Where("id = ? AND used_at IS NULL", token.ID).
		Update("used_at", now)
	if result.Error != nil {
		return nil, fmt.Errorf("auth token service: mark used: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		return nil, ErrTokenInvalid
	}

	token.UsedAt = &now
	return &token, nil
}

// Cleanup deletes used and expired tokens.
func (s *AuthTokenService) Cleanup(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("used_at IS NOT NULL OR expires_at <= ?", s.now().UTC()).
		Delete(&models.AuthToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("auth token service: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}
