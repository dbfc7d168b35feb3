package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// TodoPriority orders todos within a list.
type TodoPriority string

const (
	PriorityLow    TodoPriority = "LOW"
	PriorityMedium TodoPriority = "MEDIUM"
	PriorityHigh   TodoPriority = "HIGH"
	PriorityUrgent TodoPriority = "URGENT"
)

var validPriorities = map[TodoPriority]struct{}{
	PriorityLow:    {},
	PriorityMedium: {},
	PriorityHigh:   {},
	PriorityUrgent: {},
}

// ParsePriority validates a priority string, defaulting blank to MEDIUM.
func ParsePriority(value string) (TodoPriority, error) {
	p := TodoPriority(strings.ToUpper(strings.TrimSpace(value)))
	if p == "" {
		return PriorityMedium, nil
	}
	if _, ok := validPriorities[p]; !ok {
		return "", fmt.Errorf("invalid priority %q", value)
	}
	return p, nil
}

// Todo is a task owned by one user and optionally shared with or assigned to the partner.
type Todo struct {
	BaseModel

	OwnerID     string       `gorm:"type:uuid;not null;index" json:"owner_id"`
	Title       string       `gorm:"type:varchar(200);not null" json:"title"`
	Description *string      `gorm:"type:text" json:"description"`
	Priority    TodoPriority `gorm:"type:varchar(16);not null;default:'MEDIUM'" json:"priority"`
	DueDate     *time.Time   `gorm:"index" json:"due_date"`
	Completed   bool         `gorm:"default:false;index" json:"completed"`
	CompletedAt *time.Time   `json:"completed_at"`
	IsShared    bool         `gorm:"default:false;index" json:"is_shared"`
	AssigneeID  *string      `gorm:"type:uuid;index" json:"assignee_id"`
	CategoryID  *string      `gorm:"type:uuid;index" json:"category_id"`
	SortOrder   int          `gorm:"default:0" json:"sort_order"`

	Owner    *User     `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"owner,omitempty"`
	Assignee *User     `gorm:"foreignKey:AssigneeID;constraint:OnDelete:SET NULL" json:"assignee,omitempty"`
	Category *Category `gorm:"foreignKey:CategoryID;constraint:OnDelete:SET NULL" json:"category,omitempty"`
}

// BeforeSave validates the title and priority.
func (t *Todo) BeforeSave(tx *gorm.DB) error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return errors.New("todo: title is required")
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if _, ok := validPriorities[t.Priority]; !ok {
		return fmt.Errorf("todo: invalid priority %q", t.Priority)
	}
	return nil
}

// AssignedTo reports whether userID is the todo's assignee.
func (t *Todo) AssignedTo(userID string) bool {
	return t.AssigneeID != nil && *t.AssigneeID == userID
}
