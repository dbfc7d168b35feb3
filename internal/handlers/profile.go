package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/duocal/internal/services"
	"github.com/charlesng35/duocal/pkg/crypto"
	appErrors "github.com/charlesng35/duocal/pkg/errors"
	"github.com/charlesng35/duocal/pkg/response"
)

// ProfileHandler exposes current-user account management endpoints.
type ProfileHandler struct {
	users    *services.UserService
	settings *services.SettingsService
}

// NewProfileHandler configures a profile handler with required services.
func NewProfileHandler(users *services.UserService, settings *services.SettingsService) *ProfileHandler {
	return &ProfileHandler{users: users, settings: settings}
}

type updateProfileRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=100"`
	FirstName *string `json:"first_name" validate:"omitempty,max=128"`
	LastName  *string `json:"last_name" validate:"omitempty,max=128"`
	Avatar    *string `json:"avatar" validate:"omitempty,max=512"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" validate:"required,password"`
}

type updateSettingsRequest struct {
	Theme                    *string `json:"theme" validate:"omitempty,oneof=light dark system"`
	PrimaryColor             *string `json:"primary_color" validate:"omitempty,hexcolor_opt"`
	CalendarStartDay         *int    `json:"calendar_start_day" validate:"omitempty,min=0,max=6"`
	DefaultCalendarView      *string `json:"default_calendar_view" validate:"omitempty,oneof=day week month year"`
	TimeFormat               *string `json:"time_format" validate:"omitempty,oneof=12h 24h"`
	DateFormat               *string `json:"date_format"`
	EmailNotifications       *bool   `json:"email_notifications"`
	PushNotifications        *bool   `json:"push_notifications"`
	ReminderDefault          *int    `json:"reminder_default" validate:"omitempty,min=0"`
	ShareLocationWithPartner *bool   `json:"share_location_with_partner"`
	ShowBusyToPartner        *bool   `json:"show_busy_to_partner"`
}

// GET /api/user/profile
func (h *ProfileHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// PUT /api/user/profile
func (h *ProfileHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req updateProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}
	user, err := h.users.UpdateProfile(requestContext(c), userID, services.UpdateProfileInput{
		Name:      req.Name,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Avatar:    req.Avatar,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// PUT /api/user/password. Accounts created by magic link have no password
// yet and may set one without supplying the current password.
func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req passwordChangeRequest
	if !bindAndValidate(c, &req) {
		return
	}
	ctx := requestContext(c)

	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if user.Password != "" && !crypto.VerifyPassword(user.Password, req.CurrentPassword) {
		response.Error(c, appErrors.ErrInvalidCredentials.WithMessage("Current password is incorrect"))
		return
	}
	if err := h.users.SetPassword(ctx, userID, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

// GET /api/user/settings
func (h *ProfileHandler) Settings(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	settings, err := h.settings.Get(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

// PUT /api/user/settings
func (h *ProfileHandler) UpdateSettings(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req updateSettingsRequest
	if !bindAndValidate(c, &req) {
		return
	}
	settings, err := h.settings.Update(requestContext(c), userID, services.UpdateSettingsInput{
		Theme:                    req.Theme,
		PrimaryColor:             req.PrimaryColor,
		CalendarStartDay:         req.CalendarStartDay,
		DefaultCalendarView:      req.DefaultCalendarView,
		TimeFormat:               req.TimeFormat,
		DateFormat:               req.DateFormat,
		EmailNotifications:       req.EmailNotifications,
		PushNotifications:        req.PushNotifications,
		ReminderDefault:          req.ReminderDefault,
		ShareLocationWithPartner: req.ShareLocationWithPartner,
		ShowBusyToPartner:        req.ShowBusyToPartner,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}
