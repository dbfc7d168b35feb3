package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/internal/services"
	"github.com/charlesng35/duocal/pkg/response"
)

// TodoHandler serves personal and shared todos.
type TodoHandler struct {
	svc *services.TodoService
}

func NewTodoHandler(svc *services.TodoService) *TodoHandler {
	return &TodoHandler{svc: svc}
}

type todoRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=1000"`
	Priority    string     `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT low medium high urgent"`
	DueDate     *time.Time `json:"due_date"`
	IsShared    bool       `json:"is_shared"`
	AssigneeID  *string    `json:"assignee_id"`
	CategoryID  *string    `json:"category_id"`
	SortOrder   *int       `json:"sort_order"`
}

type reorderTodosRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

func (r todoRequest) input() services.TodoInput {
	return services.TodoInput{
		Title:       r.Title,
		Description: r.Description,
		Priority:    r.Priority,
		DueDate:     r.DueDate,
		IsShared:    r.IsShared,
		AssigneeID:  r.AssigneeID,
		CategoryID:  r.CategoryID,
		SortOrder:   r.SortOrder,
	}
}

// GET /api/todos?scope=all|shared|personal&filter=all|active|completed&priority=HIGH
func (h *TodoHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	todos, err := h.svc.List(requestContext(c), services.ListTodosInput{
		ViewerID: userID,
		Scope:    c.Query("scope"),
		Filter:   c.Query("filter"),
		Priority: c.Query("priority"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if todos == nil {
		todos = []models.Todo{}
	}
	response.Success(c, http.StatusOK, todos)
}

// GET /api/todos/:id
func (h *TodoHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	todo, err := h.svc.Get(requestContext(c), userID, pathID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, todo)
}

// POST /api/todos
func (h *TodoHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req todoRequest
	if !bindAndValidate(c, &req) {
		return
	}
	todo, err := h.svc.Create(requestContext(c), userID, req.input())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, todo)
}

// PUT /api/todos/:id
func (h *TodoHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req todoRequest
	if !bindAndValidate(c, &req) {
		return
	}
	todo, err := h.svc.Update(requestContext(c), userID, pathID(c), req.input())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, todo)
}

// DELETE /api/todos/:id
func (h *TodoHandler) Delete(c *gin.Context) {
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

// POST /api/todos/:id/toggle may be called by the owner or the assignee.
func (h *TodoHandler) Toggle(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	todo, err := h.svc.Toggle(requestContext(c), userID, pathID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, todo)
}

// POST /api/todos/:id/convert
func (h *TodoHandler) Convert(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	event, err := h.svc.ConvertToEvent(requestContext(c), userID, pathID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, event)
}

// PUT /api/todos/reorder
func (h *TodoHandler) Reorder(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req reorderTodosRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.svc.Reorder(requestContext(c), userID, req.IDs); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reordered": len(req.IDs)})
}
