package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/duocal/internal/handlers"
)

func registerPartnerRoutes(engine *gin.Engine, api *gin.RouterGroup, handler *handlers.PartnerHandler) {
	// The invitation landing page is reachable before sign-in.
	engine.GET("/api/partner/invite/:token", handler.GetInvitation)

	partner := api.Group("/partner")
	{
		partner.GET("", handler.Overview)
		partner.POST("/invite", handler.Invite)
		partner.DELETE("/invite/:id", handler.CancelInvitation)
		partner.POST("/accept", handler.Accept)
		partner.POST("/decline", handler.Decline)
		partner.DELETE("/unlink", handler.Unlink)
	}
}
