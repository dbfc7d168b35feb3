package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/duocal/internal/handlers"
)

func registerAuthRoutes(engine *gin.Engine, api *gin.RouterGroup, handler *handlers.AuthHandler) {
	auth := engine.Group("/api/auth")
	{
		auth.POST("/register", handler.Register)
		auth.POST("/login", handler.Login)
		auth.POST("/refresh", handler.Refresh)
		auth.POST("/verify-email", handler.VerifyEmail)
		auth.POST("/forgot-password", handler.ForgotPassword)
		auth.POST("/reset-password", handler.ResetPassword)
		auth.POST("/magic-link", handler.RequestMagicLink)
		auth.POST("/magic-link/consume", handler.ConsumeMagicLink)
	}

	api.GET("/auth/me", handler.Me)
	api.POST("/auth/logout", handler.Logout)
	api.POST("/auth/verify-email/resend", handler.ResendVerification)
}
