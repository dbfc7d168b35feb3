package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/duocal/internal/handlers"
)

func registerUserRoutes(api *gin.RouterGroup, profile *handlers.ProfileHandler, notifications *handlers.NotificationHandler) {
	user := api.Group("/user")
	{
		user.GET("/profile", profile.Get)
		user.PUT("/profile", profile.Update)
		user.PUT("/password", profile.ChangePassword)
		user.GET("/settings", profile.Settings)
		user.PUT("/settings", profile.UpdateSettings)
	}

	group := api.Group("/notifications")
	{
		group.GET("", notifications.List)
		group.GET("/unread-count", notifications.UnreadCount)
		group.POST("/read-all", notifications.MarkAllRead)
		group.POST("/:id/read", notifications.MarkRead)
		group.POST("/:id/unread", notifications.MarkUnread)
		group.DELETE("/:id", notifications.Delete)
	}
}
