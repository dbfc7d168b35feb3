package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/pkg/crypto"
	apperrors "github.com/charlesng35/duocal/pkg/errors"
)

// ErrUserNotFound indicates the requested user does not exist.
var ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)

// RegisterInput describes a local sign-up.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// UpdateProfileInput enumerates mutable profile attributes.
type UpdateProfileInput struct {
	Name      *string
	FirstName *string
	LastName  *string
	Avatar    *string
}

// UserService is the identity store: accounts, credentials and verification state.
type UserService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, now: time.Now}, nil
}

// Register provisions a new local account with a hashed password.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := models.NormalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Email:    email,
		Password: hashed,
		Name:     strings.TrimSpace(input.Name),
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailInUse
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}
	return user, nil
}

// GetByID loads a user and, when linked, the partner.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}

	if user.HasPartner() {
		var partner models.User
		err := s.db.WithContext(ctx).First(&partner, "id = ?", *user.PartnerID).Error
		switch {
		case err == nil:
			user.Partner = &partner
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("user service: get partner: %w", err)
		}
	}
	return &user, nil
}

// FindByEmail loads a user by (normalised) email.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", models.NormalizeEmail(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find by email: %w", err)
	}
	return &user, nil
}

// FindOrCreatePasswordless returns the account for email, creating a verified
// account without a password on first use. The boolean reports creation.
func (s *UserService) FindOrCreatePasswordless(ctx context.Context, email string) (*models.User, bool, error) {
	ctx = ensureContext(ctx)

	user, err := s.FindByEmail(ctx, email)
	if err == nil {
		if user.EmailVerifiedAt == nil {
			if err := s.MarkEmailVerified(ctx, user.ID); err != nil {
				return nil, false, err
			}
			now := s.now().UTC()
			user.EmailVerifiedAt = &now
		}
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	now := s.now().UTC()
	user = &models.User{
		Email:           models.NormalizeEmail(email),
		Name:            strings.Split(models.NormalizeEmail(email), "@")[0],
		EmailVerifiedAt: &now,
		IsActive:        true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			// Lost a race with a concurrent first sign-in.
			existing, findErr := s.FindByEmail(ctx, email)
			return existing, false, findErr
		}
		return nil, false, fmt.Errorf("user service: create passwordless user: %w", err)
	}
	return user, true, nil
}

// UpdateProfile persists mutable profile attributes.
func (s *UserService) UpdateProfile(ctx context.Context, id string, input UpdateProfileInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}

	updates := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewBadRequest("name cannot be empty")
		}
		updates["name"] = name
	}
	if input.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*input.LastName)
	}
	if input.Avatar != nil {
		updates["avatar"] = strings.TrimSpace(*input.Avatar)
	}

	if len(updates) == 0 {
		return &user, nil
	}

	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: update user: %w", err)
	}
	return s.GetByID(ctx, id)
}

// SetPassword replaces the user's password and clears any lockout.
func (s *UserService) SetPassword(ctx context.Context, id, password string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(password) == "" {
		return apperrors.NewBadRequest("password is required")
	}
	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("user service: hash password: %w", err)
	}

	result := bulk(s.db.WithContext(ctx)).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password":        hashed,
			"failed_attempts": 0,
			"locked_until":    nil,
		})
	if result.Error != nil {
		return fmt.Errorf("user service: set password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkEmailVerified records the verification time unless already set.
func (s *UserService) MarkEmailVerified(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	if err := bulk(s.db.WithContext(ctx)).Model(&models.User{}).
		Where("id = ? AND email_verified_at IS NULL", id).
		Update("email_verified_at", s.now().UTC()).Error; err != nil {
		return fmt.Errorf("user service: mark verified: %w", err)
	}
	return nil
}

// Touch updates the last seen timestamp.
func (s *UserService) Touch(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	if err := bulk(s.db.WithContext(ctx)).Model(&models.User{}).
		Where("id = ?", id).
		Update("last_seen_at", s.now().UTC()).Error; err != nil {
		return fmt.Errorf("user service: touch user: %w", err)
	}
	return nil
}
