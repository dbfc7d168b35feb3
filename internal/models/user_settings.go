package models

// UserSettings holds per-user display and notification preferences.
type UserSettings struct {
	BaseModel

	UserID string `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`

	Theme               string `gorm:"type:varchar(16);default:'system'" json:"theme"`
	PrimaryColor        string `gorm:"type:varchar(7);default:'#3b82f6'" json:"primary_color"`
	CalendarStartDay    int    `gorm:"default:1" json:"calendar_start_day"`
	DefaultCalendarView string `gorm:"type:varchar(8);default:'week'" json:"default_calendar_view"`
	TimeFormat          string `gorm:"type:varchar(4);default:'24h'" json:"time_format"`
	DateFormat          string `gorm:"type:varchar(16);default:'DD/MM/YYYY'" json:"date_format"`

	EmailNotifications bool `gorm:"default:true" json:"email_notifications"`
	PushNotifications  bool `gorm:"default:true" json:"push_notifications"`
	ReminderDefault    int  `gorm:"default:15" json:"reminder_default"`

	ShareLocationWithPartner bool `gorm:"default:true" json:"share_location_with_partner"`
	ShowBusyToPartner        bool `gorm:"default:true" json:"show_busy_to_partner"`
}

// DefaultUserSettings returns the settings row created on first read.
func DefaultUserSettings(userID string) UserSettings {
	return UserSettings{
		UserID:                   userID,
		Theme:                    "system",
		PrimaryColor:             "#3b82f6",
		CalendarStartDay:         1,
		DefaultCalendarView:      "week",
		TimeFormat:               "24h",
		DateFormat:               "DD/MM/YYYY",
		EmailNotifications:       true,
		PushNotifications:        true,
		ReminderDefault:          15,
		ShareLocationWithPartner: true,
		ShowBusyToPartner:        true,
	}
}
