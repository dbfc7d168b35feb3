package models

import "time"

// ReminderType selects the delivery channel of a reminder.
type ReminderType string

const (
	ReminderNotification ReminderType = "NOTIFICATION"
	ReminderEmail        ReminderType = "EMAIL"
	ReminderBoth         ReminderType = "BOTH"
)

// Reminder fires MinutesBefore the start of its event.
type Reminder struct {
	BaseModel

	EventID       string       `gorm:"type:uuid;not null;index" json:"event_id"`
	MinutesBefore int          `gorm:"not null" json:"minutes_before"`
	Type          ReminderType `gorm:"type:varchar(16);not null;default:'NOTIFICATION'" json:"type"`
	SentAt        *time.Time   `gorm:"index" json:"sent_at"`

	Event *Event `gorm:"foreignKey:EventID" json:"-"`
}

// Notifies reports whether the reminder produces an in-app notification.
func (t ReminderType) Notifies() bool {
	return t == ReminderNotification || t == ReminderBoth
}

// Emails reports whether the reminder produces an email.
func (t ReminderType) Emails() bool {
	return t == ReminderEmail || t == ReminderBoth
}
