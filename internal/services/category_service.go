package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/models"
	apperrors "github.com/charlesng35/duocal/pkg/errors"
)

const defaultCategoryColor = "#3b82f6"

// CategoryInput describes category create/update payloads.
type CategoryInput struct {
	Name  string
	Color string
	Icon  string
}

// CategoryService manages per-user labels for events and todos.
type CategoryService struct {
	db *gorm.DB
}

// NewCategoryService constructs a category service.
func NewCategoryService(db *gorm.DB) (*CategoryService, error) {
	if db == nil {
		return nil, errors.New("category service: db is required")
	}
	return &CategoryService{db: db}, nil
}

// List returns the user's categories ordered by name.
func (s *CategoryService) List(ctx context.Context, userID string) ([]models.Category, error) {
	ctx = ensureContext(ctx)
	var categories []models.Category
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("name ASC").
		Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("category service: list: %w", err)
	}
	return categories, nil
}

// Create adds a category for the user.
func (s *CategoryService) Create(ctx context.Context, userID string, input CategoryInput) (*models.Category, error) {
	ctx = ensureContext(ctx)
	category := models.Category{UserID: userID}
	if err := applyCategoryInput(&category, input); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(&category).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrCategoryExists
		}
		return nil, fmt.Errorf("category service: create: %w", err)
	}
	return &category, nil
}

// Update replaces name, color and icon of an owned category.
func (s *CategoryService) Update(ctx context.Context, userID, categoryID string, input CategoryInput) (*models.Category, error) {
	ctx = ensureContext(ctx)
	category, err := s.Get(ctx, userID, categoryID)
	if err != nil {
		return nil, err
	}
	if err := applyCategoryInput(category, input); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(category).
		Select("name", "color", "icon").
		Updates(category).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrCategoryExists
		}
		return nil, fmt.Errorf("category service: update: %w", err)
	}
	return category, nil
}

// Delete removes an owned category. Events and todos keep existing without it.
func (s *CategoryService) Delete(ctx context.Context, userID, categoryID string) error {
	ctx = ensureContext(ctx)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", categoryID, userID).Delete(&models.Category{})
		if result.Error != nil {
			return fmt.Errorf("category service: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}
		for _, model := range []any{&models.Event{}, &models.Todo{}} {
			if err := bulk(tx).Model(model).
				Where("category_id = ?", categoryID).
				Update("category_id", nil).Error; err != nil {
				return fmt.Errorf("category service: detach category: %w", err)
			}
		}
		return nil
	})
}

// Get loads an owned category.
func (s *CategoryService) Get(ctx context.Context, userID, categoryID string) (*models.Category, error) {
	ctx = ensureContext(ctx)
	var category models.Category
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", categoryID, userID).
		First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("category service: get: %w", err)
	}
	return &category, nil
}

// EnsureOwned verifies that categoryID, when set, belongs to userID.
func (s *CategoryService) EnsureOwned(ctx context.Context, userID string, categoryID *string) error {
	return s.ensureOwnedTx(s.db.WithContext(ensureContext(ctx)), userID, categoryID)
}

func (s *CategoryService) ensureOwnedTx(tx *gorm.DB, userID string, categoryID *string) error {
	if categoryID == nil || strings.TrimSpace(*categoryID) == "" {
		return nil
	}
	var count int64
	if err := tx.Model(&models.Category{}).
		Where("id = ? AND user_id = ?", strings.TrimSpace(*categoryID), userID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("category service: check category: %w", err)
	}
	if count == 0 {
		return apperrors.NewBadRequest("unknown category")
	}
	return nil
}

func applyCategoryInput(category *models.Category, input CategoryInput) error {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return apperrors.NewBadRequest("category name is required")
	}
	if len(name) > 50 {
		return apperrors.NewBadRequest("category name is too long")
	}
	color := strings.TrimSpace(defaultIfEmpty(input.Color, defaultCategoryColor))
	if !hexColorPattern.MatchString(color) {
		return apperrors.NewBadRequest("category color must be a #rrggbb value")
	}
	category.Name = name
	category.Color = strings.ToLower(color)
	category.Icon = strings.TrimSpace(input.Icon)
	return nil
}
