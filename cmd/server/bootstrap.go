package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/api"
	"github.com/charlesng35/duocal/internal/app"
	"github.com/charlesng35/duocal/internal/app/maintenance"
	iauth "github.com/charlesng35/duocal/internal/auth"
	"github.com/charlesng35/duocal/internal/database"
	"github.com/charlesng35/duocal/internal/middleware"
	"github.com/charlesng35/duocal/pkg/logger"
	"github.com/charlesng35/duocal/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	SessionSvc *iauth.SessionService
	Services   *api.Services
	Cleaner    *maintenance.Cleaner
	RateStore  middleware.RateStore
	Router     *gin.Engine
}

// bootstrapRuntime opens the database, wires services and builds the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}
	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp disabled; invitation and account emails will fail to send")
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.SessionSvc, err = iauth.NewSessionService(stack.DB, jwtSvc, cfg.Auth.SessionServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.Services, err = api.NewServices(stack.DB, cfg, mailer)
	if err != nil {
		return nil, fmt.Errorf("initialise services: %w", err)
	}

	rateStore, err := middleware.NewDatabaseRateStore(stack.DB, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise rate limit store: %w", err)
	}
	stack.RateStore = rateStore

	if cfg.Maintenance.Enabled {
		stack.Cleaner = newCleaner(cfg, stack.Services, stack.SessionSvc, rateStore)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(stack.DB, cfg, jwtSvc, stack.SessionSvc, stack.Services, stack.RateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func newCleaner(cfg *app.Config, svc *api.Services, sessions *iauth.SessionService, rateStore *middleware.DatabaseRateStore) *maintenance.Cleaner {
	return maintenance.NewCleaner(maintenance.Jobs{
		Invitations: svc.Partners,
		Links:       svc.Partners,
		Reminders:   svc.Reminders,
		Tokens:      svc.Tokens,
		Sessions:    sessions,
		RateLimits:  rateStore,
	}, maintenance.WithSchedules(maintenance.Schedules{
		ExpireInvitations: cfg.Maintenance.ExpireInvitations,
		Cleanup:           cfg.Maintenance.Cleanup,
		ConsistencyCheck:  cfg.Maintenance.ConsistencyCheck,
		Reminders:         cfg.Maintenance.Reminders,
	}))
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown run failed", zap.Error(err))
		}
		s.Cleaner = nil
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
		s.DB = nil
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndIndex(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	var auth app.DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		auth = cfg.Database.Postgres
	case "mysql":
		auth = cfg.Database.MySQL
	default:
		// Open reports the unsupported driver.
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(auth.Host)
	dbCfg.Port = auth.Port
	dbCfg.Name = strings.TrimSpace(auth.Database)
	dbCfg.User = strings.TrimSpace(auth.Username)
	dbCfg.Password = strings.TrimSpace(auth.Password)
	return dbCfg
}
