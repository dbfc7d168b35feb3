package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/internal/recurrence"
	"github.com/charlesng35/duocal/internal/visibility"
	apperrors "github.com/charlesng35/duocal/pkg/errors"
	"github.com/charlesng35/duocal/pkg/logger"
)

const (
	maxEventTitle    = 100
	maxEventLocation = 200
	maxReminders     = 5
)

// Calendar views accepted by ViewWindow.
const (
	ViewDay   = "day"
	ViewWeek  = "week"
	ViewMonth = "month"
	ViewYear  = "year"
)

// ReminderInput describes one reminder of an event.
type ReminderInput struct {
	MinutesBefore int
	Type          string
}

// EventInput is the full set of writable event fields. Update replaces every
// field; a nil Reminders slice leaves reminders untouched.
type EventInput struct {
	Title          string
	Description    *string
	Location       *string
	StartDate      time.Time
	EndDate        time.Time
	IsAllDay       bool
	Visibility     string
	Status         string
	Color          *string
	CategoryID     *string
	IsRecurring    bool
	RecurrenceRule *string
	RecurrenceEnd  *time.Time
	Reminders      []ReminderInput
}

// ListEventsInput selects the window and whose events to include.
type ListEventsInput struct {
	ViewerID       string
	From           time.Time
	To             time.Time
	IncludePartner bool
}

// EventOccurrence is one resolved instance of an event inside a window.
type EventOccurrence struct {
	models.Event
	OccurrenceStart time.Time `json:"occurrence_start"`
	OccurrenceEnd   time.Time `json:"occurrence_end"`
	IsOwn           bool      `json:"is_own"`
	Redacted        bool      `json:"redacted"`
}

// EventOption customises the EventService.
type EventOption func(*EventService)

// WithEventClock injects a custom time source.
func WithEventClock(clock func() time.Time) EventOption {
	return func(s *EventService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithEventNotifier sets the in-app notification sink used for partner updates.
func WithEventNotifier(notifier Notifier) EventOption {
	return func(s *EventService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithMaxOccurrences caps the occurrences expanded per recurring event.
func WithMaxOccurrences(max int) EventOption {
	return func(s *EventService) {
		if max > 0 {
			s.maxOccurrences = max
		}
	}
}

// EventService owns calendar events. Reads that can return the partner's
// events run every record through the visibility resolver.
type EventService struct {
	db             *gorm.DB
	categories     *CategoryService
	notifier       Notifier
	maxOccurrences int
	log            *zap.Logger
	now            func() time.Time
}

// NewEventService constructs an EventService.
func NewEventService(db *gorm.DB, categories *CategoryService, opts ...EventOption) (*EventService, error) {
	if db == nil {
		return nil, errors.New("event service: db is required")
	}
	if categories == nil {
		var err error
		if categories, err = NewCategoryService(db); err != nil {
			return nil, err
		}
	}
	service := &EventService{
		db:             db,
		categories:     categories,
		notifier:       noopNotifier{},
		maxOccurrences: recurrence.DefaultMaxOccurrences,
		log:            logger.WithModule("events"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// ViewWindow returns the inclusive window of a calendar view around ref.
// Weeks start on Monday.
func ViewWindow(view string, ref time.Time) (time.Time, time.Time, error) {
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	var start, end time.Time
	switch strings.ToLower(strings.TrimSpace(view)) {
	case ViewDay:
		start, end = day, day.AddDate(0, 0, 1)
	case "", ViewWeek:
		offset := (int(day.Weekday()) + 6) % 7
		start = day.AddDate(0, 0, -offset)
		end = start.AddDate(0, 0, 7)
	case ViewMonth:
		start = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
		end = start.AddDate(0, 1, 0)
	case ViewYear:
		start = time.Date(ref.Year(), time.January, 1, 0, 0, 0, 0, ref.Location())
		end = start.AddDate(1, 0, 0)
	default:
		return time.Time{}, time.Time{}, apperrors.NewBadRequest(fmt.Sprintf("unknown view %q", view))
	}
	return start, end.Add(-time.Nanosecond), nil
}

// List returns the viewer's events, and optionally the partner's resolved
// events, expanded into occurrences inside the window and sorted by start.
func (s *EventService) List(ctx context.Context, input ListEventsInput) ([]EventOccurrence, error) {
	ctx = ensureContext(ctx)
	if input.To.Before(input.From) {
		return nil, apperrors.NewBadRequest("window end is before its start")
	}

	viewer, err := s.loadUser(ctx, input.ViewerID)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&models.Event{}).
		Preload("Category").
		Preload("Reminders").
		Where("start_date <= ?", input.To).
		Where("(is_recurring = ? AND end_date >= ?) OR (is_recurring = ? AND (recurrence_end IS NULL OR recurrence_end >= ?))",
			false, input.From, true, input.From)
	var partner *models.User
	if input.IncludePartner {
		if partner, err = s.partnerOf(ctx, viewer); err != nil {
			return nil, err
		}
	}
	query = query.Scopes(visibleEventOwners(s.db.WithContext(ctx), viewer, partner))

	var rows []models.Event
	if err := query.Order("start_date ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("event service: list events: %w", err)
	}

	lookup := visibility.PartnerLookup(partner)
	var out []EventOccurrence
	for _, row := range rows {
		decision := visibility.EventDecision(&row, viewer.ID, lookup(row.OwnerID))
		resolved, ok := visibility.Event(row, viewer.ID, lookup(row.OwnerID))
		if !ok {
			continue
		}
		occurrences, truncated, err := recurrence.Expand(resolved, input.From, input.To, s.maxOccurrences)
		if err != nil {
			s.log.Warn("recurrence expansion failed", zap.String("event_id", row.ID), zap.Error(err))
			if !resolved.Overlaps(input.From, input.To) {
				continue
			}
			occurrences = []recurrence.Occurrence{{Event: resolved, Start: resolved.StartDate, End: resolved.EndDate}}
		}
		if truncated {
			s.log.Debug("recurrence expansion truncated", zap.String("event_id", row.ID))
		}
		for _, occ := range occurrences {
			out = append(out, EventOccurrence{
				Event:           occ.Event,
				OccurrenceStart: occ.Start,
				OccurrenceEnd:   occ.End,
				IsOwn:           row.OwnerID == viewer.ID,
				Redacted:        decision == visibility.Redacted,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurrenceStart.Before(out[j].OccurrenceStart)
	})
	return out, nil
}

// Get returns a single event as the viewer may see it. Events the viewer may
// not see are reported as not found.
func (s *EventService) Get(ctx context.Context, viewerID, eventID string) (*models.Event, error) {
	ctx = ensureContext(ctx)
	viewer, err := s.loadUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	var ev models.Event
	if err := s.db.WithContext(ctx).
		Preload("Category").
		Preload("Reminders").
		First(&ev, "id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("event service: get event: %w", err)
	}

	var owner *models.User
	if ev.OwnerID != viewer.ID {
		if owner, err = s.partnerOf(ctx, viewer); err != nil {
			return nil, err
		}
	}
	resolved, ok := visibility.Event(ev, viewer.ID, visibility.PartnerLookup(owner)(ev.OwnerID))
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &resolved, nil
}

// Create adds an event owned by ownerID.
func (s *EventService) Create(ctx context.Context, ownerID string, input EventInput) (*models.Event, error) {
	return s.create(ctx, ownerID, input, nil)
}

func (s *EventService) create(ctx context.Context, ownerID string, input EventInput, fromTodoID *string) (*models.Event, error) {
	ctx = ensureContext(ctx)
	owner, err := s.loadUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	ev := models.Event{OwnerID: owner.ID, ConvertedFromTodoID: fromTodoID}
	if err := applyEventInput(&ev, input); err != nil {
		return nil, err
	}
	if err := s.categories.EnsureOwned(ctx, owner.ID, ev.CategoryID); err != nil {
		return nil, err
	}
	reminders, err := buildReminders(input.Reminders)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Reminders", "Category", "Owner").Create(&ev).Error; err != nil {
			if fromTodoID != nil && isUniqueConstraintError(err) {
				return ErrAlreadyConverted
			}
			return fmt.Errorf("event service: create event: %w", err)
		}
		if err := replaceReminders(tx, ev.ID, reminders); err != nil {
			return err
		}
		ev.Reminders = reminders
		return recordHistory(tx, ev.ID, owner.ID, models.HistoryCreated, eventSnapshot(&ev))
	})
	if err != nil {
		return nil, err
	}

	s.notifyPartner(ctx, owner, &ev, models.NotificationEventCreated, "added")
	return &ev, nil
}

// Update replaces the writable fields of an owned event.
func (s *EventService) Update(ctx context.Context, ownerID, eventID string, input EventInput) (*models.Event, error) {
	ctx = ensureContext(ctx)
	owner, err := s.loadUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	var updated models.Event
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Event
		if err := tx.Where("id = ? AND owner_id = ?", eventID, owner.ID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			return fmt.Errorf("event service: load event: %w", err)
		}

		updated = current
		if err := applyEventInput(&updated, input); err != nil {
			return err
		}
		if err := s.categories.ensureOwnedTx(tx, owner.ID, updated.CategoryID); err != nil {
			return err
		}

		if err := tx.Model(&updated).
			Select("title", "description", "location", "start_date", "end_date", "is_all_day",
				"visibility", "status", "color", "category_id", "is_recurring", "recurrence_rule", "recurrence_end").
			Updates(&updated).Error; err != nil {
			return fmt.Errorf("event service: update event: %w", err)
		}

		if input.Reminders != nil {
			reminders, err := buildReminders(input.Reminders)
			if err != nil {
				return err
			}
			if err := replaceReminders(tx, updated.ID, reminders); err != nil {
				return err
			}
		}

		if changes := eventChanges(&current, &updated); len(changes) > 0 {
			if err := recordHistory(tx, updated.ID, owner.ID, models.HistoryUpdated, changes); err != nil {
				return err
			}
		}
		return tx.Preload("Category").Preload("Reminders").First(&updated, "id = ?", updated.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.notifyPartner(ctx, owner, &updated, models.NotificationEventUpdated, "updated")
	return &updated, nil
}

// Delete removes an owned event and its reminders. History rows are kept.
func (s *EventService) Delete(ctx context.Context, ownerID, eventID string) error {
	ctx = ensureContext(ctx)
	owner, err := s.loadUser(ctx, ownerID)
	if err != nil {
		return err
	}

	var ev models.Event
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND owner_id = ?", eventID, owner.ID).First(&ev).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			return fmt.Errorf("event service: load event: %w", err)
		}
		if err := tx.Where("event_id = ?", ev.ID).Delete(&models.Reminder{}).Error; err != nil {
			return fmt.Errorf("event service: delete reminders: %w", err)
		}
		if err := tx.Delete(&models.Event{}, "id = ?", ev.ID).Error; err != nil {
			return fmt.Errorf("event service: delete event: %w", err)
		}
		return recordHistory(tx, ev.ID, owner.ID, models.HistoryDeleted, eventSnapshot(&ev))
	})
	if err != nil {
		return err
	}

	s.notifyPartner(ctx, owner, &ev, models.NotificationEventDeleted, "removed")
	return nil
}

// History returns the change log of an owned event, oldest first.
func (s *EventService) History(ctx context.Context, ownerID, eventID string) ([]models.EventHistory, error) {
	ctx = ensureContext(ctx)
	var rows []models.EventHistory
	if err := s.db.WithContext(ctx).
		Where("event_id = ? AND user_id = ?", eventID, ownerID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("event service: load history: %w", err)
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return rows, nil
}

// Reminders lists the reminders of an owned event.
func (s *EventService) Reminders(ctx context.Context, ownerID, eventID string) ([]models.Reminder, error) {
	ctx = ensureContext(ctx)
	if err := s.ensureOwnedEvent(s.db.WithContext(ctx), ownerID, eventID); err != nil {
		return nil, err
	}
	var reminders []models.Reminder
	if err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("minutes_before DESC").
		Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("event service: list reminders: %w", err)
	}
	return reminders, nil
}

// SetReminders replaces the reminders of an owned event.
func (s *EventService) SetReminders(ctx context.Context, ownerID, eventID string, inputs []ReminderInput) ([]models.Reminder, error) {
	ctx = ensureContext(ctx)
	reminders, err := buildReminders(inputs)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureOwnedEvent(tx, ownerID, eventID); err != nil {
			return err
		}
		return replaceReminders(tx, eventID, reminders)
	})
	if err != nil {
		return nil, err
	}
	return reminders, nil
}

func (s *EventService) ensureOwnedEvent(db *gorm.DB, ownerID, eventID string) error {
	var count int64
	if err := db.Model(&models.Event{}).
		Where("id = ? AND owner_id = ?", eventID, ownerID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("event service: load event: %w", err)
	}
	if count == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *EventService) loadUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", strings.TrimSpace(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, fmt.Errorf("event service: load user: %w", err)
	}
	return &user, nil
}

// partnerOf loads the user the viewer names as partner. Callers resolve with
// that row's own partner_id, so a link that is not reciprocated in storage
// grants nothing. A dangling reference yields nil.
func (s *EventService) partnerOf(ctx context.Context, viewer *models.User) (*models.User, error) {
	if viewer == nil || !viewer.HasPartner() {
		return nil, nil
	}
	var partner models.User
	err := s.db.WithContext(ctx).Take(&partner, "id = ?", *viewer.PartnerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("event service: load partner: %w", err)
	}
	return &partner, nil
}

// linkedPartner selects the partner's id only while the partner's own row
// points back at the viewer.
func linkedPartner(db *gorm.DB, viewer, partner *models.User) *gorm.DB {
	return db.Model(&models.User{}).Select("id").
		Where("id = ? AND partner_id = ?", partner.ID, viewer.ID)
}

// visibleEventOwners limits a query to the viewer's events and the
// non-private events of a reciprocated partner.
func visibleEventOwners(db *gorm.DB, viewer, partner *models.User) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if partner == nil {
			return q.Where("owner_id = ?", viewer.ID)
		}
		return q.Where("owner_id = ? OR (owner_id IN (?) AND visibility <> ?)",
			viewer.ID, linkedPartner(db, viewer, partner), models.VisibilityPrivate)
	}
}

// notifyPartner tells the owner's partner about a change they can see.
func (s *EventService) notifyPartner(ctx context.Context, owner *models.User, ev *models.Event, kind, verb string) {
	if !owner.HasPartner() {
		return
	}
	partnerID := *owner.PartnerID
	resolved, ok := visibility.Event(*ev, partnerID, owner.PartnerID)
	if !ok {
		return
	}
	input := CreateNotificationInput{
		UserID:  partnerID,
		Type:    kind,
		Title:   fmt.Sprintf("%s %s %q", owner.DisplayName(), verb, resolved.Title),
		Message: resolved.StartDate.Format(time.RFC3339),
	}
	if kind != models.NotificationEventDeleted {
		input.EventID = stringPtr(ev.ID)
		input.ActionURL = "/calendar?event=" + ev.ID
	}
	s.notifier.Notify(ctx, input)
}

func applyEventInput(ev *models.Event, input EventInput) error {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return apperrors.NewBadRequest("title is required")
	}
	if utf8.RuneCountInString(title) > maxEventTitle {
		return apperrors.NewBadRequest("title is too long")
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return apperrors.NewBadRequest("start and end dates are required")
	}
	if input.EndDate.Before(input.StartDate) {
		return apperrors.NewBadRequest("end date must not be before start date")
	}
	location := trimmedPtr(input.Location)
	if location != nil && utf8.RuneCountInString(*location) > maxEventLocation {
		return apperrors.NewBadRequest("location is too long")
	}

	vis, err := models.ParseVisibility(input.Visibility)
	if err != nil {
		return apperrors.NewBadRequest(err.Error())
	}
	status := models.EventStatus(strings.ToUpper(strings.TrimSpace(defaultIfEmpty(input.Status, string(models.EventStatusBusy)))))
	switch status {
	case models.EventStatusBusy, models.EventStatusAvailable, models.EventStatusOutOfOffice, models.EventStatusTentative:
	default:
		return apperrors.NewBadRequest(fmt.Sprintf("invalid status %q", input.Status))
	}

	color := trimmedPtr(input.Color)
	if color != nil && !hexColorPattern.MatchString(*color) {
		return apperrors.NewBadRequest("color must be a #rrggbb value")
	}

	rule := trimmedPtr(input.RecurrenceRule)
	recurring := input.IsRecurring || rule != nil
	if recurring {
		if rule == nil {
			return apperrors.NewBadRequest("recurring events need a recurrence rule")
		}
		if err := recurrence.Validate(*rule); err != nil {
			return apperrors.NewBadRequest(err.Error())
		}
		if input.RecurrenceEnd != nil && input.RecurrenceEnd.Before(input.StartDate) {
			return apperrors.NewBadRequest("recurrence end must not be before start date")
		}
	}

	ev.Title = title
	ev.Description = trimmedPtr(input.Description)
	ev.Location = location
	ev.StartDate = input.StartDate
	ev.EndDate = input.EndDate
	ev.IsAllDay = input.IsAllDay
	ev.Visibility = vis
	ev.Status = status
	ev.Color = color
	ev.CategoryID = trimmedPtr(input.CategoryID)
	ev.IsRecurring = recurring
	if recurring {
		ev.RecurrenceRule = rule
		ev.RecurrenceEnd = input.RecurrenceEnd
	} else {
		ev.RecurrenceRule = nil
		ev.RecurrenceEnd = nil
	}
	return nil
}

func buildReminders(inputs []ReminderInput) ([]models.Reminder, error) {
	if len(inputs) > maxReminders {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("at most %d reminders are allowed", maxReminders))
	}
	reminders := make([]models.Reminder, 0, len(inputs))
	seen := map[int]struct{}{}
	for _, input := range inputs {
		if input.MinutesBefore < 0 || input.MinutesBefore > maxReminderMinutes {
			return nil, apperrors.NewBadRequest("reminder offset is out of range")
		}
		if _, dup := seen[input.MinutesBefore]; dup {
			continue
		}
		seen[input.MinutesBefore] = struct{}{}

		kind := models.ReminderType(strings.ToUpper(strings.TrimSpace(defaultIfEmpty(input.Type, string(models.ReminderNotification)))))
		if !kind.Notifies() && !kind.Emails() {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("invalid reminder type %q", input.Type))
		}
		reminders = append(reminders, models.Reminder{MinutesBefore: input.MinutesBefore, Type: kind})
	}
	return reminders, nil
}

func replaceReminders(tx *gorm.DB, eventID string, reminders []models.Reminder) error {
	if err := tx.Where("event_id = ?", eventID).Delete(&models.Reminder{}).Error; err != nil {
		return fmt.Errorf("event service: clear reminders: %w", err)
	}
	for i := range reminders {
		reminders[i].EventID = eventID
		if err := tx.Omit("Event").Create(&reminders[i]).Error; err != nil {
			return fmt.Errorf("event service: create reminder: %w", err)
		}
	}
	return nil
}

func recordHistory(tx *gorm.DB, eventID, userID, action string, changes map[string]any) error {
	payload, err := encodeJSON(changes)
	if err != nil {
		return fmt.Errorf("event service: encode history: %w", err)
	}
	entry := models.EventHistory{EventID: eventID, UserID: userID, Action: action, Changes: payload}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("event service: record history: %w", err)
	}
	return nil
}

func eventSnapshot(ev *models.Event) map[string]any {
	return map[string]any{
		"title":      ev.Title,
		"start_date": ev.StartDate,
		"end_date":   ev.EndDate,
		"visibility": ev.Visibility,
		"status":     ev.Status,
	}
}

func eventChanges(before, after *models.Event) map[string]any {
	changes := map[string]any{}
	diff := func(field string, from, to any) {
		changes[field] = map[string]any{"from": from, "to": to}
	}
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}

	if before.Title != after.Title {
		diff("title", before.Title, after.Title)
	}
	if deref(before.Description) != deref(after.Description) {
		diff("description", deref(before.Description), deref(after.Description))
	}
	if deref(before.Location) != deref(after.Location) {
		diff("location", deref(before.Location), deref(after.Location))
	}
	if !before.StartDate.Equal(after.StartDate) {
		diff("start_date", before.StartDate, after.StartDate)
	}
	if !before.EndDate.Equal(after.EndDate) {
		diff("end_date", before.EndDate, after.EndDate)
	}
	if before.IsAllDay != after.IsAllDay {
		diff("is_all_day", before.IsAllDay, after.IsAllDay)
	}
	if before.Visibility != after.Visibility {
		diff("visibility", before.Visibility, after.Visibility)
	}
	if before.Status != after.Status {
		diff("status", before.Status, after.Status)
	}
	if deref(before.CategoryID) != deref(after.CategoryID) {
		diff("category_id", deref(before.CategoryID), deref(after.CategoryID))
	}
	if deref(before.RecurrenceRule) != deref(after.RecurrenceRule) {
		diff("recurrence_rule", deref(before.RecurrenceRule), deref(after.RecurrenceRule))
	}
	return changes
}
