package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/ics"
	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/internal/visibility"
	apperrors "github.com/charlesng35/duocal/pkg/errors"
	"github.com/charlesng35/duocal/pkg/logger"
)

// maxImportEvents bounds a single iCalendar upload.
const maxImportEvents = 1000

// ImportResult summarises an iCalendar import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// CalendarService moves events in and out of iCalendar documents.
type CalendarService struct {
	db     *gorm.DB
	events *EventService
	log    *zap.Logger
}

// NewCalendarService constructs a CalendarService.
func NewCalendarService(db *gorm.DB, events *EventService) (*CalendarService, error) {
	if db == nil {
		return nil, errors.New("calendar service: db is required")
	}
	if events == nil {
		return nil, errors.New("calendar service: event service is required")
	}
	return &CalendarService{db: db, events: events, log: logger.WithModule("calendar")}, nil
}

// Export writes the viewer's events, and the partner's events as the viewer
// may see them, as an iCalendar document.
func (s *CalendarService) Export(ctx context.Context, viewerID string, w io.Writer) error {
	ctx = ensureContext(ctx)
	viewer, err := s.events.loadUser(ctx, viewerID)
	if err != nil {
		return err
	}

	partner, err := s.events.partnerOf(ctx, viewer)
	if err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	query := db.Model(&models.Event{}).Scopes(visibleEventOwners(db, viewer, partner))

	var rows []models.Event
	if err := query.Order("start_date ASC").Find(&rows).Error; err != nil {
		return fmt.Errorf("calendar service: load events: %w", err)
	}

	resolved := visibility.Events(rows, viewer.ID, visibility.PartnerLookup(partner))
	cal := ics.Export(resolved, ics.ExportOptions{
		Name:    viewer.DisplayName(),
		StampAt: s.events.now().UTC(),
	})
	if err := ics.Write(w, cal); err != nil {
		return fmt.Errorf("calendar service: write calendar: %w", err)
	}
	return nil
}

// Import creates private events owned by ownerID from an iCalendar document.
// Events that fail validation are skipped and reported.
func (s *CalendarService) Import(ctx context.Context, ownerID string, r io.Reader) (*ImportResult, error) {
	ctx = ensureContext(ctx)
	parsed, skipped, err := ics.Parse(r)
	if err != nil {
		if errors.Is(err, ics.ErrNoEvents) {
			return nil, apperrors.NewBadRequest("calendar contains no events")
		}
		return nil, apperrors.NewBadRequest("invalid calendar file").WithInternal(err)
	}
	if len(parsed) > maxImportEvents {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("at most %d events can be imported at once", maxImportEvents))
	}

	result := &ImportResult{Skipped: len(skipped)}
	var failures error
	for _, err := range skipped {
		result.Errors = append(result.Errors, err.Error())
	}

	for _, item := range parsed {
		input := EventInput{
			Title:          truncate(defaultIfEmpty(item.Title, "Untitled"), maxEventTitle),
			Description:    item.Description,
			Location:       item.Location,
			StartDate:      item.StartDate,
			EndDate:        item.EndDate,
			IsAllDay:       item.IsAllDay,
			Visibility:     string(models.VisibilityPrivate),
			Status:         string(item.Status),
			RecurrenceRule: item.RecurrenceRule,
		}
		if _, err := s.events.Create(ctx, ownerID, input); err != nil {
			if errors.Is(err, apperrors.ErrUnauthorized) {
				return nil, err
			}
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", item.UID, err.Error()))
			failures = multierr.Append(failures, err)
			continue
		}
		result.Imported++
	}

	if failures != nil {
		s.log.Debug("calendar import skipped events",
			zap.String("user_id", ownerID),
			zap.Int("skipped", result.Skipped),
			zap.Error(failures))
	}
	s.log.Info("calendar imported",
		zap.String("user_id", ownerID),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit]))
}
