package models

// Category is a per-user label for events and todos.
type Category struct {
	BaseModel

	UserID string `gorm:"type:uuid;not null;uniqueIndex:idx_category_user_name,priority:1" json:"user_id"`
	Name   string `gorm:"type:varchar(50);not null;uniqueIndex:idx_category_user_name,priority:2" json:"name"`
	Color  string `gorm:"type:varchar(7);not null;default:'#3b82f6'" json:"color"`
	Icon   string `gorm:"type:varchar(50)" json:"icon,omitempty"`
}
