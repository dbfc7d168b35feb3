package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/models"
	apperrors "github.com/charlesng35/duocal/pkg/errors"
)

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

var (
	validThemes        = map[string]struct{}{"light": {}, "dark": {}, "system": {}}
	validCalendarViews = map[string]struct{}{"day": {}, "week": {}, "month": {}, "year": {}}
	validTimeFormats   = map[string]struct{}{"12h": {}, "24h": {}}
	validDateFormats   = map[string]struct{}{"DD/MM/YYYY": {}, "MM/DD/YYYY": {}, "YYYY-MM-DD": {}}
)

// maxReminderMinutes is one week.
const maxReminderMinutes = 7 * 24 * 60

// UpdateSettingsInput is a partial settings update; nil fields are left untouched.
type UpdateSettingsInput struct {
	Theme                    *string
	PrimaryColor             *string
	CalendarStartDay         *int
	DefaultCalendarView      *string
	TimeFormat               *string
	DateFormat               *string
	EmailNotifications       *bool
	PushNotifications        *bool
	ReminderDefault          *int
	ShareLocationWithPartner *bool
	ShowBusyToPartner        *bool
}

// SettingsService manages per-user display and notification preferences.
type SettingsService struct {
	db *gorm.DB
}

// NewSettingsService constructs a SettingsService.
func NewSettingsService(db *gorm.DB) (*SettingsService, error) {
	if db == nil {
		return nil, errors.New("settings service: db is required")
	}
	return &SettingsService{db: db}, nil
}

// Get returns the user's settings, creating the defaults on first access.
func (s *SettingsService) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	settings := models.DefaultUserSettings(userID)
	if err := s.db.WithContext(ctx).
		Where(models.UserSettings{UserID: userID}).
		FirstOrCreate(&settings).Error; err != nil {
		return nil, fmt.Errorf("settings service: load settings: %w", err)
	}
	return &settings, nil
}

// Update validates and applies a partial update.
func (s *SettingsService) Update(ctx context.Context, userID string, input UpdateSettingsInput) (*models.UserSettings, error) {
	ctx = ensureContext(ctx)

	settings, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates, err := settingsUpdates(input)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return settings, nil
	}

	if err := s.db.WithContext(ctx).Model(settings).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("settings service: update settings: %w", err)
	}
	return s.Get(ctx, userID)
}

func settingsUpdates(input UpdateSettingsInput) (map[string]any, error) {
	updates := map[string]any{}

	pickEnum := func(column string, value *string, allowed map[string]struct{}, normalise func(string) string) error {
		if value == nil {
			return nil
		}
		v := normalise(strings.TrimSpace(*value))
		if _, ok := allowed[v]; !ok {
			return apperrors.NewBadRequest(fmt.Sprintf("invalid %s %q", strings.ReplaceAll(column, "_", " "), *value))
		}
		updates[column] = v
		return nil
	}
	identity := func(v string) string { return v }

	if err := pickEnum("theme", input.Theme, validThemes, strings.ToLower); err != nil {
		return nil, err
	}
	if err := pickEnum("default_calendar_view", input.DefaultCalendarView, validCalendarViews, strings.ToLower); err != nil {
		return nil, err
	}
	if err := pickEnum("time_format", input.TimeFormat, validTimeFormats, strings.ToLower); err != nil {
		return nil, err
	}
	if err := pickEnum("date_format", input.DateFormat, validDateFormats, identity); err != nil {
		return nil, err
	}

	if input.PrimaryColor != nil {
		color := strings.TrimSpace(*input.PrimaryColor)
		if !hexColorPattern.MatchString(color) {
			return nil, apperrors.NewBadRequest("primary color must be a #rrggbb value")
		}
		updates["primary_color"] = strings.ToLower(color)
	}
	if input.CalendarStartDay != nil {
		if *input.CalendarStartDay < 0 || *input.CalendarStartDay > 6 {
			return nil, apperrors.NewBadRequest("calendar start day must be between 0 and 6")
		}
		updates["calendar_start_day"] = *input.CalendarStartDay
	}
	if input.ReminderDefault != nil {
		if *input.ReminderDefault < 0 || *input.ReminderDefault > maxReminderMinutes {
			return nil, apperrors.NewBadRequest("reminder default is out of range")
		}
		updates["reminder_default"] = *input.ReminderDefault
	}

	flags := map[string]*bool{
		"email_notifications":         input.EmailNotifications,
		"push_notifications":          input.PushNotifications,
		"share_location_with_partner": input.ShareLocationWithPartner,
		"show_busy_to_partner":        input.ShowBusyToPartner,
	}
	for column, value := range flags {
		if value != nil {
			updates[column] = *value
		}
	}
	return updates, nil
}
