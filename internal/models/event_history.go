package models

import "gorm.io/datatypes"

// History actions.
const (
	HistoryCreated = "CREATED"
	HistoryUpdated = "UPDATED"
	HistoryDeleted = "DELETED"
)

// EventHistory is an append-only change log for an event.
type EventHistory struct {
	BaseModel

	EventID string         `gorm:"type:uuid;not null;index" json:"event_id"`
	UserID  string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Action  string         `gorm:"type:varchar(16);not null" json:"action"`
	Changes datatypes.JSON `json:"changes"`
}
