package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification types emitted by the services.
const (
	NotificationEventCreated      = "EVENT_CREATED"
	NotificationEventUpdated      = "EVENT_UPDATED"
	NotificationEventDeleted      = "EVENT_DELETED"
	NotificationEventReminder     = "EVENT_REMINDER"
	NotificationTodoAssigned      = "TODO_ASSIGNED"
	NotificationTodoCompleted     = "TODO_COMPLETED"
	NotificationPartnerInvitation = "PARTNER_INVITATION"
	NotificationPartnerAccepted   = "PARTNER_ACCEPTED"
	NotificationPartnerDeclined   = "PARTNER_DECLINED"
	NotificationPartnerUnlinked   = "PARTNER_UNLINKED"
)

// Notification is an in-app notification for a user.
type Notification struct {
	BaseModel

	UserID    string         `gorm:"type:uuid;index" json:"user_id"`
	Type      string         `gorm:"type:varchar(64);not null" json:"type"`
	Title     string         `gorm:"type:varchar(255);not null" json:"title"`
	Message   string         `gorm:"type:text" json:"message"`
	ActionURL string         `gorm:"type:text" json:"action_url"`
	EventID   *string        `gorm:"type:uuid;index" json:"event_id"`
	TodoID    *string        `gorm:"type:uuid;index" json:"todo_id"`
	Metadata  datatypes.JSON `json:"metadata"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`
}
