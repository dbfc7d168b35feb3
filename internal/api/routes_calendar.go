package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/duocal/internal/handlers"
)

type calendarRouteDeps struct {
	Events     *handlers.EventHandler
	Todos      *handlers.TodoHandler
	Categories *handlers.CategoryHandler
	Calendar   *handlers.CalendarHandler
}

func registerCalendarRoutes(api *gin.RouterGroup, deps calendarRouteDeps) {
	events := api.Group("/events")
	{
		events.GET("", deps.Events.List)
		events.POST("", deps.Events.Create)
		events.GET("/:id", deps.Events.Get)
		events.PUT("/:id", deps.Events.Update)
		events.DELETE("/:id", deps.Events.Delete)
		events.GET("/:id/history", deps.Events.History)
		events.GET("/:id/reminders", deps.Events.Reminders)
		events.PUT("/:id/reminders", deps.Events.SetReminders)
	}

	todos := api.Group("/todos")
	{
		todos.GET("", deps.Todos.List)
		todos.POST("", deps.Todos.Create)
		todos.PUT("/reorder", deps.Todos.Reorder)
		todos.GET("/:id", deps.Todos.Get)
		todos.PUT("/:id", deps.Todos.Update)
		todos.DELETE("/:id", deps.Todos.Delete)
		todos.POST("/:id/toggle", deps.Todos.Toggle)
		todos.POST("/:id/convert", deps.Todos.Convert)
	}

	categories := api.Group("/categories")
	{
		categories.GET("", deps.Categories.List)
		categories.POST("", deps.Categories.Create)
		categories.PUT("/:id", deps.Categories.Update)
		categories.DELETE("/:id", deps.Categories.Delete)
	}

	api.GET("/calendar.ics", deps.Calendar.Export)
	api.POST("/calendar/import", deps.Calendar.Import)
}
