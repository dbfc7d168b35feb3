package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/app"
	iauth "github.com/charlesng35/duocal/internal/auth"
	"github.com/charlesng35/duocal/internal/handlers"
	"github.com/charlesng35/duocal/internal/middleware"
)

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(db *gorm.DB, cfg *app.Config, jwt *iauth.JWTService, sessions *iauth.SessionService, svc *Services, rateStore middleware.RateStore) (*gin.Engine, error) {
	if db == nil {
		return nil, errors.New("database handle must be provided")
	}
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}
	if jwt == nil {
		return nil, errors.New("jwt service must be provided")
	}
	if sessions == nil {
		return nil, errors.New("session service must be provided")
	}
	if svc == nil {
		return nil, errors.New("services must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))
	r.Use(middleware.RateLimit(rateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))

	r.GET("/health", handlers.Health(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))

	registerAuthRoutes(r, api, handlers.NewAuthHandler(svc.Users, svc.Accounts, svc.Local, sessions))
	registerPartnerRoutes(r, api, handlers.NewPartnerHandler(svc.Partners))
	registerCalendarRoutes(api, calendarRouteDeps{
		Events:     handlers.NewEventHandler(svc.Events),
		Todos:      handlers.NewTodoHandler(svc.Todos),
		Categories: handlers.NewCategoryHandler(svc.Categories),
		Calendar:   handlers.NewCalendarHandler(svc.Calendar),
	})
	registerUserRoutes(api,
		handlers.NewProfileHandler(svc.Users, svc.Settings),
		handlers.NewNotificationHandler(svc.Notifications),
	)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
