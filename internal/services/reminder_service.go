package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/internal/recurrence"
	"github.com/charlesng35/duocal/pkg/logger"
	"github.com/charlesng35/duocal/pkg/mail"
)

// ReminderOption customises the ReminderService.
type ReminderOption func(*ReminderService)

// WithReminderClock injects a custom time source.
func WithReminderClock(clock func() time.Time) ReminderOption {
	return func(s *ReminderService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// ReminderService turns due event reminders into notifications and emails.
type ReminderService struct {
	db       *gorm.DB
	mailer   mail.Mailer
	notifier Notifier
	settings *SettingsService
	log      *zap.Logger
	now      func() time.Time
}

// NewReminderService constructs the reminder dispatcher.
func NewReminderService(db *gorm.DB, mailer mail.Mailer, notifier Notifier, settings *SettingsService, opts ...ReminderOption) (*ReminderService, error) {
	if db == nil {
		return nil, errors.New("reminder service: db is required")
	}
	if settings == nil {
		return nil, errors.New("reminder service: settings service is required")
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	service := &ReminderService{
		db:       db,
		mailer:   mailer,
		notifier: notifier,
		settings: settings,
		log:      logger.WithModule("reminders"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// DispatchDue delivers every reminder whose fire time has passed for the next
// occurrence of its event. Each reminder is claimed with a conditional update
// before delivery so a reminder fires at most once per occurrence.
func (s *ReminderService) DispatchDue(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	now := s.now().UTC()

	upcoming := s.db.Model(&models.Event{}).
		Select("id").
		Where("is_recurring = ? OR start_date >= ?", true, now)

	var reminders []models.Reminder
	if err := s.db.WithContext(ctx).
		Preload("Event").
		Where("event_id IN (?)", upcoming).
		Find(&reminders).Error; err != nil {
		return 0, fmt.Errorf("reminder service: load reminders: %w", err)
	}

	var (
		sent int
		errs error
	)
	for i := range reminders {
		reminder := &reminders[i]
		if reminder.Event == nil {
			continue
		}
		start, fireAt, ok := s.nextFire(reminder, now)
		if !ok {
			continue
		}

		claimed := s.db.WithContext(ctx).Model(&models.Reminder{}).
			Where("id = ? AND (sent_at IS NULL OR sent_at < ?)", reminder.ID, fireAt).
			Update("sent_at", now)
		if claimed.Error != nil {
			errs = multierr.Append(errs, fmt.Errorf("reminder service: claim %s: %w", reminder.ID, claimed.Error))
			continue
		}
		if claimed.RowsAffected == 0 {
			continue
		}

		if err := s.deliver(ctx, reminder, start); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sent++
	}
	return sent, errs
}

// nextFire finds the next occurrence start at or after now and reports
// whether the reminder for it is due and not yet sent.
func (s *ReminderService) nextFire(reminder *models.Reminder, now time.Time) (time.Time, time.Time, bool) {
	ev := *reminder.Event
	lead := time.Duration(reminder.MinutesBefore) * time.Minute

	start := ev.StartDate
	if ev.IsRecurring {
		occurrences, _, err := recurrence.Expand(ev, now, now.Add(lead), 0)
		if err != nil {
			s.log.Warn("skipping reminder with invalid recurrence", zap.String("event_id", ev.ID), zap.Error(err))
			return time.Time{}, time.Time{}, false
		}
		found := false
		for _, occ := range occurrences {
			if !occ.Start.Before(now) {
				start, found = occ.Start, true
				break
			}
		}
		if !found {
			return time.Time{}, time.Time{}, false
		}
	}
	if start.Before(now) {
		return time.Time{}, time.Time{}, false
	}

	fireAt := start.Add(-lead)
	if now.Before(fireAt) {
		return time.Time{}, time.Time{}, false
	}
	if reminder.SentAt != nil && !reminder.SentAt.Before(fireAt) {
		return time.Time{}, time.Time{}, false
	}
	return start, fireAt, true
}

func (s *ReminderService) deliver(ctx context.Context, reminder *models.Reminder, start time.Time) error {
	ev := reminder.Event
	var owner models.User
	if err := s.db.WithContext(ctx).First(&owner, "id = ?", ev.OwnerID).Error; err != nil {
		return fmt.Errorf("reminder service: load owner: %w", err)
	}

	if reminder.Type.Notifies() {
		s.notifier.Notify(ctx, CreateNotificationInput{
			UserID:    owner.ID,
			Type:      models.NotificationEventReminder,
			Title:     fmt.Sprintf("%s starts in %d minutes", ev.Title, reminder.MinutesBefore),
			Message:   start.Format(time.RFC3339),
			ActionURL: "/calendar?event=" + ev.ID,
			EventID:   stringPtr(ev.ID),
		})
	}

	if !reminder.Type.Emails() || s.mailer == nil {
		return nil
	}
	settings, err := s.settings.Get(ctx, owner.ID)
	if err != nil {
		return err
	}
	if !settings.EmailNotifications {
		return nil
	}
	msg, err := mail.EventReminder(owner.Email, mail.ReminderData{Name: owner.DisplayName(), Title: ev.Title, StartsAt: start})
	if err != nil {
		return fmt.Errorf("reminder service: render reminder: %w", err)
	}
	if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return fmt.Errorf("reminder service: send reminder: %w", err)
	}
	return nil
}
