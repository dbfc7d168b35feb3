package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Visibility governs what the owner's partner may see of an event.
type Visibility string

const (
	VisibilityPrivate  Visibility = "PRIVATE"
	VisibilityShared   Visibility = "SHARED"
	VisibilityBusyOnly Visibility = "BUSY_ONLY"
)

var validVisibilities = map[Visibility]struct{}{
	VisibilityPrivate:  {},
	VisibilityShared:   {},
	VisibilityBusyOnly: {},
}

// ParseVisibility validates a visibility string, defaulting blank to PRIVATE.
func ParseVisibility(value string) (Visibility, error) {
	v := Visibility(strings.ToUpper(strings.TrimSpace(value)))
	if v == "" {
		return VisibilityPrivate, nil
	}
	if _, ok := validVisibilities[v]; !ok {
		return "", fmt.Errorf("invalid visibility %q", value)
	}
	return v, nil
}

// EventStatus is the availability the event implies for its owner.
type EventStatus string

const (
	EventStatusBusy        EventStatus = "BUSY"
	EventStatusAvailable   EventStatus = "AVAILABLE"
	EventStatusOutOfOffice EventStatus = "OUT_OF_OFFICE"
	EventStatusTentative   EventStatus = "TENTATIVE"
)

var validEventStatuses = map[EventStatus]struct{}{
	EventStatusBusy:        {},
	EventStatusAvailable:   {},
	EventStatusOutOfOffice: {},
	EventStatusTentative:   {},
}

// Event is a calendar entry owned by exactly one user.
type Event struct {
	BaseModel

	OwnerID     string      `gorm:"type:uuid;not null;index:idx_events_owner_start,priority:1" json:"owner_id"`
	Title       string      `gorm:"type:varchar(100);not null" json:"title"`
	Description *string     `gorm:"type:text" json:"description"`
	Location    *string     `gorm:"type:varchar(200)" json:"location"`
	StartDate   time.Time   `gorm:"not null;index:idx_events_owner_start,priority:2" json:"start_date"`
	EndDate     time.Time   `gorm:"not null;index" json:"end_date"`
	IsAllDay    bool        `gorm:"default:false" json:"is_all_day"`
	Visibility  Visibility  `gorm:"type:varchar(16);not null;default:'PRIVATE';index" json:"visibility"`
	Status      EventStatus `gorm:"type:varchar(16);not null;default:'BUSY'" json:"status"`
	Color       *string     `gorm:"type:varchar(7)" json:"color"`
	CategoryID  *string     `gorm:"type:uuid;index" json:"category_id"`

	IsRecurring    bool       `gorm:"default:false" json:"is_recurring"`
	RecurrenceRule *string    `gorm:"type:text" json:"recurrence_rule"`
	RecurrenceEnd  *time.Time `json:"recurrence_end"`

	ConvertedFromTodoID *string `gorm:"type:uuid;uniqueIndex" json:"converted_from_todo_id,omitempty"`

	Owner     *User      `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"owner,omitempty"`
	Category  *Category  `gorm:"foreignKey:CategoryID;constraint:OnDelete:SET NULL" json:"category,omitempty"`
	Reminders []Reminder `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"reminders,omitempty"`
}

// BeforeSave validates enum columns and the date range.
func (e *Event) BeforeSave(tx *gorm.DB) error {
	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		return errors.New("event: title is required")
	}
	if e.Visibility == "" {
		e.Visibility = VisibilityPrivate
	}
	if _, ok := validVisibilities[e.Visibility]; !ok {
		return fmt.Errorf("event: invalid visibility %q", e.Visibility)
	}
	if e.Status == "" {
		e.Status = EventStatusBusy
	}
	if _, ok := validEventStatuses[e.Status]; !ok {
		return fmt.Errorf("event: invalid status %q", e.Status)
	}
	if e.EndDate.Before(e.StartDate) {
		return errors.New("event: end_date must not be before start_date")
	}
	return nil
}

// Duration is the length of a single occurrence.
func (e *Event) Duration() time.Duration {
	return e.EndDate.Sub(e.StartDate)
}

// Overlaps reports whether the event intersects [from, to].
func (e *Event) Overlaps(from, to time.Time) bool {
	return !e.EndDate.Before(from) && !e.StartDate.After(to)
}
