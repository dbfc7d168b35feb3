package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/duocal/internal/models"
)

type reminderFixture struct {
	*eventFixture
	mailer    *recordingMailer
	settings  *SettingsService
	reminders *ReminderService
}

func newReminderFixture(t *testing.T) *reminderFixture {
	t.Helper()
	f := newEventFixture(t)
	mailer := &recordingMailer{}

	notifier, err := NewNotificationService(f.db)
	require.NoError(t, err)
	settings, err := NewSettingsService(f.db)
	require.NoError(t, err)
	reminders, err := NewReminderService(f.db, mailer, notifier, settings, WithReminderClock(f.clock.Now))
	require.NoError(t, err)

	return &reminderFixture{eventFixture: f, mailer: mailer, settings: settings, reminders: reminders}
}

func TestReminderDispatchFiresOnce(t *testing.T) {
	f := newReminderFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")

	input := eventAt("Dentist", models.VisibilityPrivate, f.clock.Now().Add(time.Hour))
	input.Reminders = []ReminderInput{{MinutesBefore: 30, Type: "BOTH"}}
	_, err := f.events.Create(ctx, alice.ID, input)
	require.NoError(t, err)

	sent, err := f.reminders.DispatchDue(ctx)
	require.NoError(t, err)
	require.Zero(t, sent)

	f.clock.Advance(31 * time.Minute)
	sent, err = f.reminders.DispatchDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	notes := f.notifications(t, alice.ID)
	require.Len(t, notes, 1)
	require.Equal(t, models.NotificationEventReminder, notes[0].Type)
	require.Len(t, f.mailer.Sent(), 1)
	require.Equal(t, []string{"alice@example.com"}, f.mailer.Sent()[0].To)

	f.clock.Advance(time.Minute)
	sent, err = f.reminders.DispatchDue(ctx)
	require.NoError(t, err)
	require.Zero(t, sent)
	require.Len(t, f.notifications(t, alice.ID), 1)
}

func TestReminderEmailHonoursSettings(t *testing.T) {
	f := newReminderFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")

	off := false
	_, err := f.settings.Update(ctx, alice.ID, UpdateSettingsInput{EmailNotifications: &off})
	require.NoError(t, err)

	input := eventAt("Call mum", models.VisibilityPrivate, f.clock.Now().Add(10*time.Minute))
	input.Reminders = []ReminderInput{{MinutesBefore: 15, Type: "EMAIL"}}
	_, err = f.events.Create(ctx, alice.ID, input)
	require.NoError(t, err)

	sent, err := f.reminders.DispatchDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	require.Empty(t, f.mailer.Sent())
	require.Empty(t, f.notifications(t, alice.ID))
}

func TestReminderRecurringEventFiresPerOccurrence(t *testing.T) {
	f := newReminderFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")

	input := eventAt("Standup", models.VisibilityPrivate, f.clock.Now().Add(-24*time.Hour+30*time.Minute))
	rule := "FREQ=DAILY"
	input.RecurrenceRule = &rule
	input.Reminders = []ReminderInput{{MinutesBefore: 30}}
	_, err := f.events.Create(ctx, alice.ID, input)
	require.NoError(t, err)

	sent, err := f.reminders.DispatchDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	sent, err = f.reminders.DispatchDue(ctx)
	require.NoError(t, err)
	require.Zero(t, sent)

	f.clock.Advance(24 * time.Hour)
	sent, err = f.reminders.DispatchDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	require.Len(t, f.notifications(t, alice.ID), 2)
	require.Empty(t, f.mailer.Sent())
}

func TestReminderSkipsPastEvents(t *testing.T) {
	f := newReminderFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")

	input := eventAt("Yesterday", models.VisibilityPrivate, f.clock.Now().Add(-24*time.Hour))
	input.Reminders = []ReminderInput{{MinutesBefore: 10}}
	_, err := f.events.Create(ctx, alice.ID, input)
	require.NoError(t, err)

	sent, err := f.reminders.DispatchDue(ctx)
	require.NoError(t, err)
	require.Zero(t, sent)
}
