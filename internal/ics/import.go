package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/charlesng35/duocal/internal/models"
)

// ErrNoEvents is returned when a document holds no usable VEVENT.
var ErrNoEvents = errors.New("ics: no events found")

// ImportedEvent is a VEVENT translated into event fields.
type ImportedEvent struct {
	UID            string
	Title          string
	Description    *string
	Location       *string
	StartDate      time.Time
	EndDate        time.Time
	IsAllDay       bool
	RecurrenceRule *string
	Status         models.EventStatus
}

// Parse reads an iCalendar document. Events without a start are skipped and
// reported in the returned error slice; the document itself failing to parse
// is fatal.
func Parse(r io.Reader) ([]ImportedEvent, []error, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, nil, fmt.Errorf("ics: parse calendar: %w", err)
	}

	var (
		out     []ImportedEvent
		skipped []error
	)
	for _, ve := range cal.Events() {
		ev, err := convert(ve)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		out = append(out, ev)
	}
	if len(out) == 0 {
		return nil, skipped, ErrNoEvents
	}
	return out, skipped, nil
}

func convert(ve *ical.VEvent) (ImportedEvent, error) {
	ev := ImportedEvent{
		UID:    ve.Id(),
		Status: models.EventStatusBusy,
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = strings.TrimSpace(p.Value)
	}
	if ev.Title == "" {
		ev.Title = "Untitled"
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil && p.Value != "" {
		v := p.Value
		ev.Description = &v
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil && p.Value != "" {
		v := p.Value
		ev.Location = &v
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, string(ical.ObjectStatusTentative)) {
		ev.Status = models.EventStatusTentative
	}
	if p := ve.GetProperty(ical.ComponentPropertyTransp); p != nil && strings.EqualFold(p.Value, "TRANSPARENT") {
		ev.Status = models.EventStatusAvailable
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		v := p.Value
		ev.RecurrenceRule = &v
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return ImportedEvent{}, fmt.Errorf("ics: event %q has no DTSTART", ev.UID)
	}
	ev.IsAllDay = isDateValue(startProp)

	var err error
	if ev.IsAllDay {
		ev.StartDate, err = ve.GetAllDayStartAt()
		if err != nil {
			return ImportedEvent{}, fmt.Errorf("ics: event %q: %w", ev.UID, err)
		}
		ev.StartDate = calendarDate(ev.StartDate)
		ev.EndDate = ev.StartDate.AddDate(0, 0, 1)
		if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
			if end, perr := time.Parse("20060102", strings.TrimSpace(endProp.Value)); perr == nil && end.After(ev.StartDate) {
				ev.EndDate = end
			}
		}
		// Stored all-day events end on the last second of their last day.
		ev.EndDate = ev.EndDate.Add(-time.Second)
		return ev, nil
	}

	ev.StartDate, err = ve.GetStartAt()
	if err != nil {
		return ImportedEvent{}, fmt.Errorf("ics: event %q: %w", ev.UID, err)
	}
	ev.EndDate, err = ve.GetEndAt()
	if err != nil || ev.EndDate.Before(ev.StartDate) {
		ev.EndDate = ev.StartDate.Add(time.Hour)
	}
	return ev, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	for _, v := range p.ICalParameters[string(ical.ParameterValue)] {
		if strings.EqualFold(v, string(ical.ValueDataTypeDate)) {
			return true
		}
	}
	return len(strings.TrimSpace(p.Value)) == 8
}

// calendarDate keeps the wall clock date of t, whatever its location.
func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
