// Package ics converts calendar events to and from iCalendar documents.
package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/charlesng35/duocal/internal/models"
)

const (
	productID = "-//duocal//Calendar Export//EN"
	uidSuffix = "@duocal"
)

// ExportOptions controls calendar level metadata.
type ExportOptions struct {
	Name    string
	StampAt time.Time
}

// Export builds an iCalendar document from already resolved events. Callers
// are expected to run every record through the visibility resolver first.
func Export(events []models.Event, opts ExportOptions) *ical.Calendar {
	if opts.StampAt.IsZero() {
		opts.StampAt = time.Now()
	}

	cal := ical.NewCalendarFor("duocal")
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for i := range events {
		addEvent(cal, &events[i], opts.StampAt)
	}
	return cal
}

// Write serializes the calendar with CRLF line endings.
func Write(w io.Writer, cal *ical.Calendar) error {
	return cal.SerializeTo(w, ical.WithNewLineWindows)
}

func addEvent(cal *ical.Calendar, ev *models.Event, stamp time.Time) {
	ve := cal.AddEvent(ev.ID + uidSuffix)
	ve.SetDtStampTime(stamp)
	if !ev.UpdatedAt.IsZero() {
		ve.SetLastModifiedAt(ev.UpdatedAt)
	}

	if ev.IsAllDay {
		start := dateOnly(ev.StartDate)
		ve.SetAllDayStartAt(start)
		end := dateOnly(ev.EndDate).AddDate(0, 0, 1)
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		ve.SetAllDayEndAt(end)
	} else {
		ve.SetStartAt(ev.StartDate)
		ve.SetEndAt(ev.EndDate)
	}

	ve.SetSummary(ev.Title)
	if ev.Description != nil && *ev.Description != "" {
		ve.SetDescription(*ev.Description)
	}
	if ev.Location != nil && *ev.Location != "" {
		ve.SetLocation(*ev.Location)
	}
	ve.SetClass(classification(ev.Visibility))
	ve.SetStatus(objectStatus(ev.Status))
	if ev.Status == models.EventStatusAvailable {
		ve.SetProperty(ical.ComponentPropertyTransp, "TRANSPARENT")
	}
	if ev.IsRecurring && ev.RecurrenceRule != nil && *ev.RecurrenceRule != "" {
		ve.AddRrule(*ev.RecurrenceRule)
	}
}

func classification(v models.Visibility) ical.Classification {
	switch v {
	case models.VisibilityShared:
		return ical.ClassificationPublic
	case models.VisibilityBusyOnly:
		return ical.ClassificationConfidential
	default:
		return ical.ClassificationPrivate
	}
}

func objectStatus(s models.EventStatus) ical.ObjectStatus {
	if s == models.EventStatusTentative {
		return ical.ObjectStatusTentative
	}
	return ical.ObjectStatusConfirmed
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
