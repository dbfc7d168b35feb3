package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/duocal/internal/services"
	"github.com/charlesng35/duocal/pkg/errors"
	"github.com/charlesng35/duocal/pkg/response"
	appValidator "github.com/charlesng35/duocal/pkg/validator"
)

// EventHandler serves calendar events.
type EventHandler struct {
	svc *services.EventService
	now func() time.Time
}

func NewEventHandler(svc *services.EventService) *EventHandler {
	return &EventHandler{svc: svc, now: time.Now}
}

type reminderRequest struct {
	MinutesBefore int    `json:"minutes_before" validate:"min=0,max=10080"`
	Type          string `json:"type" validate:"omitempty,oneof=NOTIFICATION EMAIL BOTH notification email both"`
}

type eventRequest struct {
	appValidator.DateRange
	Title          string            `json:"title" validate:"required,max=100"`
	Description    *string           `json:"description"`
	Location       *string           `json:"location" validate:"omitempty,max=200"`
	IsAllDay       bool              `json:"is_all_day"`
	Visibility     string            `json:"visibility"`
	Status         string            `json:"status"`
	Color          *string           `json:"color" validate:"omitempty,hexcolor_opt"`
	CategoryID     *string           `json:"category_id"`
	IsRecurring    bool              `json:"is_recurring"`
	RecurrenceRule *string           `json:"recurrence_rule"`
	RecurrenceEnd  *time.Time        `json:"recurrence_end"`
	Reminders      []reminderRequest `json:"reminders" validate:"omitempty,max=5,dive"`
}

type remindersRequest struct {
	Reminders []reminderRequest `json:"reminders" validate:"max=5,dive"`
}

func (r eventRequest) input() services.EventInput {
	input := services.EventInput{
		Title:          r.Title,
		Description:    r.Description,
		Location:       r.Location,
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
		IsAllDay:       r.IsAllDay,
		Visibility:     r.Visibility,
		Status:         r.Status,
		Color:          r.Color,
		CategoryID:     r.CategoryID,
		IsRecurring:    r.IsRecurring,
		RecurrenceRule: r.RecurrenceRule,
		RecurrenceEnd:  r.RecurrenceEnd,
	}
	if r.Reminders != nil {
		input.Reminders = reminderInputs(r.Reminders)
	}
	return input
}

func reminderInputs(reqs []reminderRequest) []services.ReminderInput {
	out := make([]services.ReminderInput, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, services.ReminderInput{MinutesBefore: r.MinutesBefore, Type: strings.ToUpper(r.Type)})
	}
	return out
}

// GET /api/events?view=week&date=2024-05-01&include_partner=true
// An explicit from/to pair overrides the view window.
func (h *EventHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	from, to, err := h.window(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	occurrences, err := h.svc.List(requestContext(c), services.ListEventsInput{
		ViewerID:       userID,
		From:           from,
		To:             to,
		IncludePartner: parseBoolQuery(c, "include_partner", true),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if occurrences == nil {
		occurrences = []services.EventOccurrence{}
	}
	response.Success(c, http.StatusOK, occurrences)
}

func (h *EventHandler) window(c *gin.Context) (time.Time, time.Time, error) {
	from, hasFrom, err := parseTimeQuery(c, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, hasTo, err := parseTimeQuery(c, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if hasFrom && hasTo {
		return from, to, nil
	}
	if hasFrom != hasTo {
		return time.Time{}, time.Time{}, errors.NewBadRequest("from and to must be given together")
	}

	ref, hasRef, err := parseTimeQuery(c, "date")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !hasRef {
		ref = h.now().UTC()
	}
	return services.ViewWindow(c.Query("view"), ref)
}

// GET /api/events/:id
func (h *EventHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	event, err := h.svc.Get(requestContext(c), userID, pathID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, event)
}

// POST /api/events
func (h *EventHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req eventRequest
	if !bindAndValidate(c, &req) {
		return
	}
	event, err := h.svc.Create(requestContext(c), userID, req.input())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, event)
}

// PUT /api/events/:id
func (h *EventHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req eventRequest
	if !bindAndValidate(c, &req) {
		return
	}
	event, err := h.svc.Update(requestContext(c), userID, pathID(c), req.input())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, event)
}

// DELETE /api/events/:id
func (h *EventHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(requestContext(c), userID, pathID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/events/:id/history
func (h *EventHandler) History(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	history, err := h.svc.History(requestContext(c), userID, pathID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, history)
}

// GET /api/events/:id/reminders
func (h *EventHandler) Reminders(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	reminders, err := h.svc.Reminders(requestContext(c), userID, pathID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, reminders)
}

// PUT /api/events/:id/reminders replaces the whole reminder set.
func (h *EventHandler) SetReminders(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req remindersRequest
	if !bindAndValidate(c, &req) {
		return
	}
	reminders, err := h.svc.SetReminders(requestContext(c), userID, pathID(c), reminderInputs(req.Reminders))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, reminders)
}
