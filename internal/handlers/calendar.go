package handlers

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/duocal/internal/services"
	"github.com/charlesng35/duocal/pkg/errors"
	"github.com/charlesng35/duocal/pkg/response"
)

// maxCalendarUpload is the largest iCalendar document accepted for import.
const maxCalendarUpload = 2 << 20

// CalendarHandler moves events in and out of iCalendar documents.
type CalendarHandler struct {
	svc *services.CalendarService
}

func NewCalendarHandler(svc *services.CalendarService) *CalendarHandler {
	return &CalendarHandler{svc: svc}
}

// GET /api/calendar.ics
func (h *CalendarHandler) Export(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.svc.Export(requestContext(c), userID, &buf); err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="duocal.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}

// POST /api/calendar/import accepts either a multipart "file" field or a raw
// text/calendar body.
func (h *CalendarHandler) Import(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	body, err := calendarBody(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer body.Close()

	result, err := h.svc.Import(requestContext(c), userID, io.LimitReader(body, maxCalendarUpload))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func calendarBody(c *gin.Context) (io.ReadCloser, error) {
	if file, err := c.FormFile("file"); err == nil {
		if file.Size > maxCalendarUpload {
			return nil, errors.NewBadRequest("calendar file is too large")
		}
		return file.Open()
	}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil, errors.NewBadRequest("an iCalendar document is required")
	}
	return c.Request.Body, nil
}
