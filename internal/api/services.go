package api

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/app"
	"github.com/charlesng35/duocal/internal/auth/providers"
	"github.com/charlesng35/duocal/internal/services"
	"github.com/charlesng35/duocal/pkg/mail"
)

// Services is the full set of domain services behind the HTTP surface and
// the maintenance jobs.
type Services struct {
	Users         *services.UserService
	Tokens        *services.AuthTokenService
	Accounts      *services.AccountService
	Local         *providers.LocalProvider
	Partners      *services.PartnerService
	Categories    *services.CategoryService
	Events        *services.EventService
	Todos         *services.TodoService
	Settings      *services.SettingsService
	Notifications *services.NotificationService
	Reminders     *services.ReminderService
	Calendar      *services.CalendarService
}

// ServicesOption customises NewServices.
type ServicesOption func(*servicesOptions)

type servicesOptions struct {
	clock func() time.Time
}

// WithClock drives every service from the same time source.
func WithClock(clock func() time.Time) ServicesOption {
	return func(o *servicesOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewServices wires the domain services from configuration.
func NewServices(db *gorm.DB, cfg *app.Config, mailer mail.Mailer, opts ...ServicesOption) (*Services, error) {
	if db == nil {
		return nil, errors.New("database handle must be provided")
	}
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}

	o := servicesOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	out := &Services{}
	var err error

	if out.Users, err = services.NewUserService(db); err != nil {
		return nil, fmt.Errorf("user service: %w", err)
	}
	if out.Tokens, err = services.NewAuthTokenService(db,
		services.WithTokenClock(o.clock),
		services.WithTokenTTLs(cfg.Auth.TokenTTLs()),
	); err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	if out.Accounts, err = services.NewAccountService(out.Users, out.Tokens, mailer, cfg.Server.BaseURL); err != nil {
		return nil, fmt.Errorf("account service: %w", err)
	}

	localCfg := cfg.Auth.LocalProviderConfig()
	localCfg.Clock = o.clock
	if out.Local, err = providers.NewLocalProvider(db, localCfg); err != nil {
		return nil, fmt.Errorf("local provider: %w", err)
	}

	if out.Notifications, err = services.NewNotificationService(db); err != nil {
		return nil, fmt.Errorf("notification service: %w", err)
	}
	if out.Partners, err = services.NewPartnerService(db, mailer, cfg.Partner.EngineConfig(cfg.Server.BaseURL),
		services.WithPartnerClock(o.clock),
		services.WithPartnerNotifier(out.Notifications),
	); err != nil {
		return nil, fmt.Errorf("partner service: %w", err)
	}

	if out.Categories, err = services.NewCategoryService(db); err != nil {
		return nil, fmt.Errorf("category service: %w", err)
	}
	if out.Events, err = services.NewEventService(db, out.Categories,
		services.WithEventClock(o.clock),
		services.WithEventNotifier(out.Notifications),
	); err != nil {
		return nil, fmt.Errorf("event service: %w", err)
	}
	if out.Todos, err = services.NewTodoService(db, out.Categories, out.Events,
		services.WithTodoClock(o.clock),
		services.WithTodoNotifier(out.Notifications),
	); err != nil {
		return nil, fmt.Errorf("todo service: %w", err)
	}

	if out.Settings, err = services.NewSettingsService(db); err != nil {
		return nil, fmt.Errorf("settings service: %w", err)
	}
	if out.Reminders, err = services.NewReminderService(db, mailer, out.Notifications, out.Settings,
		services.WithReminderClock(o.clock),
	); err != nil {
		return nil, fmt.Errorf("reminder service: %w", err)
	}
	if out.Calendar, err = services.NewCalendarService(db, out.Events); err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}

	return out, nil
}
