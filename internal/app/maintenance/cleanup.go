// Package maintenance runs the periodic jobs that keep pairing state, tokens
// and reminders moving without user interaction.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/duocal/internal/services"
	"github.com/charlesng35/duocal/pkg/logger"
	"github.com/charlesng35/duocal/pkg/metrics"
)

const (
	defaultExpireSpec      = "@hourly"
	defaultCleanupSpec     = "@daily"
	defaultConsistencySpec = "@daily"
	defaultReminderSpec    = "@every 1m"
	defaultJobTimeout      = 5 * time.Minute
)

// InvitationExpirer moves overdue pending invitations to EXPIRED.
type InvitationExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// LinkChecker reports partner links that are not reciprocated.
type LinkChecker interface {
	CheckConsistency(ctx context.Context) ([]services.LinkViolation, error)
}

// ReminderDispatcher fires reminders that have come due.
type ReminderDispatcher interface {
	DispatchDue(ctx context.Context) (int, error)
}

// Purger deletes rows that are no longer usable.
type Purger interface {
	Cleanup(ctx context.Context) (int64, error)
}

// SessionPurger deletes expired and revoked refresh sessions.
type SessionPurger interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Jobs lists the collaborators the Cleaner drives. A nil field skips its job.
type Jobs struct {
	Invitations InvitationExpirer
	Links       LinkChecker
	Reminders   ReminderDispatcher
	Tokens      Purger
	Sessions    SessionPurger
	RateLimits  Purger
}

// Schedules holds cron specs per job. Empty values keep the defaults.
type Schedules struct {
	ExpireInvitations string
	Cleanup           string
	ConsistencyCheck  string
	Reminders         string
}

// Cleaner coordinates background maintenance tasks on a cron scheduler.
type Cleaner struct {
	jobs      Jobs
	schedules Schedules
	cron      *cron.Cron
	timeout   time.Duration
	log       *zap.Logger
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSchedules overrides the cron specifications of individual jobs.
func WithSchedules(s Schedules) Option {
	return func(cleaner *Cleaner) {
		if s.ExpireInvitations != "" {
			cleaner.schedules.ExpireInvitations = s.ExpireInvitations
		}
		if s.Cleanup != "" {
			cleaner.schedules.Cleanup = s.Cleanup
		}
		if s.ConsistencyCheck != "" {
			cleaner.schedules.ConsistencyCheck = s.ConsistencyCheck
		}
		if s.Reminders != "" {
			cleaner.schedules.Reminders = s.Reminders
		}
	}
}

// WithJobTimeout bounds a single job execution.
func WithJobTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.timeout = d
		}
	}
}

// NewCleaner constructs a Cleaner with default schedules.
func NewCleaner(jobs Jobs, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		jobs: jobs,
		schedules: Schedules{
			ExpireInvitations: defaultExpireSpec,
			Cleanup:           defaultCleanupSpec,
			ConsistencyCheck:  defaultConsistencySpec,
			Reminders:         defaultReminderSpec,
		},
		timeout: defaultJobTimeout,
		log:     logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	}
	return cleaner
}

type job struct {
	name string
	spec string
	run  func(context.Context) error
}

func (c *Cleaner) registered() []job {
	var jobs []job
	if c.jobs.Invitations != nil {
		jobs = append(jobs, job{"expire_invitations", c.schedules.ExpireInvitations, c.expireInvitations})
	}
	if c.jobs.Tokens != nil || c.jobs.Sessions != nil || c.jobs.RateLimits != nil {
		jobs = append(jobs, job{"cleanup", c.schedules.Cleanup, c.cleanup})
	}
	if c.jobs.Links != nil {
		jobs = append(jobs, job{"consistency_check", c.schedules.ConsistencyCheck, c.checkLinks})
	}
	if c.jobs.Reminders != nil {
		jobs = append(jobs, job{"reminders", c.schedules.Reminders, c.dispatchReminders})
	}
	return jobs
}

// Start registers jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	jobs := c.registered()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		j := j
		if _, err := c.cron.AddFunc(j.spec, func() { c.execute(context.Background(), j) }); err != nil {
			return fmt.Errorf("maintenance: schedule %s (%q): %w", j.name, j.spec, err)
		}
	}

	c.cron.Start()
	c.log.Info("maintenance scheduler started", zap.Int("jobs", len(jobs)))
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially and aggregates failures.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.registered() {
		errs = multierr.Append(errs, c.execute(ctx, j))
	}
	return errs
}

func (c *Cleaner) execute(ctx context.Context, j job) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := j.run(ctx)
	result := "success"
	if err != nil {
		result = "failure"
		c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
	}
	metrics.MaintenanceRuns.WithLabelValues(j.name, result).Inc()
	return err
}

func (c *Cleaner) expireInvitations(ctx context.Context) error {
	expired, err := c.jobs.Invitations.ExpireStale(ctx)
	if err != nil {
		return err
	}
	if expired > 0 {
		c.log.Info("invitations expired", zap.Int64("count", expired))
	}
	return nil
}

func (c *Cleaner) cleanup(ctx context.Context) error {
	var errs error
	if c.jobs.Tokens != nil {
		removed, err := c.jobs.Tokens.Cleanup(ctx)
		errs = multierr.Append(errs, err)
		if removed > 0 {
			c.log.Debug("auth tokens purged", zap.Int64("count", removed))
		}
	}
	if c.jobs.Sessions != nil {
		removed, err := c.jobs.Sessions.CleanupExpired(ctx)
		errs = multierr.Append(errs, err)
		if removed > 0 {
			c.log.Debug("sessions purged", zap.Int64("count", removed))
		}
	}
	if c.jobs.RateLimits != nil {
		_, err := c.jobs.RateLimits.Cleanup(ctx)
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (c *Cleaner) checkLinks(ctx context.Context) error {
	violations, err := c.jobs.Links.CheckConsistency(ctx)
	if err != nil {
		return err
	}
	for _, v := range violations {
		back := ""
		if v.BackRef != nil {
			back = *v.BackRef
		}
		c.log.Error("asymmetric partner link",
			zap.String("user_id", v.UserID),
			zap.String("partner_id", v.PartnerID),
			zap.String("back_ref", back),
		)
	}
	return nil
}

func (c *Cleaner) dispatchReminders(ctx context.Context) error {
	sent, err := c.jobs.Reminders.DispatchDue(ctx)
	if sent > 0 {
		c.log.Info("reminders dispatched", zap.Int("count", sent))
	}
	return err
}
