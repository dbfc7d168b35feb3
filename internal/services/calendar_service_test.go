package services

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/duocal/internal/models"
	apperrors "github.com/charlesng35/duocal/pkg/errors"
)

const importFixture = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:ok-1\r\n" +
	"DTSTAMP:20240301T000000Z\r\n" +
	"DTSTART:20240306T120000Z\r\n" +
	"DTEND:20240306T130000Z\r\n" +
	"SUMMARY:Lunch with Sam\r\n" +
	"LOCATION:Cafe\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:no-start\r\n" +
	"DTSTAMP:20240301T000000Z\r\n" +
	"SUMMARY:Floating\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:bad-rule\r\n" +
	"DTSTAMP:20240301T000000Z\r\n" +
	"DTSTART:20240307T120000Z\r\n" +
	"RRULE:FREQ=FORTNIGHTLY\r\n" +
	"SUMMARY:Broken\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func newCalendarService(t *testing.T, f *eventFixture) *CalendarService {
	t.Helper()
	svc, err := NewCalendarService(f.db, f.events)
	require.NoError(t, err)
	return svc
}

func TestCalendarExportAppliesVisibility(t *testing.T) {
	f := newEventFixture(t)
	svc := newCalendarService(t, f)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	linkUsers(t, f.db, alice, bob)

	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	_, err := f.events.Create(ctx, alice.ID, eventAt("Dinner", models.VisibilityShared, start))
	require.NoError(t, err)
	_, err = f.events.Create(ctx, alice.ID, eventAt("Therapy", models.VisibilityBusyOnly, start))
	require.NoError(t, err)
	_, err = f.events.Create(ctx, alice.ID, eventAt("Secret", models.VisibilityPrivate, start))
	require.NoError(t, err)
	_, err = f.events.Create(ctx, bob.ID, eventAt("Gym", models.VisibilityPrivate, start))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, bob.ID, &buf))
	out := buf.String()

	require.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR"))
	require.Contains(t, out, "SUMMARY:Gym")
	require.Contains(t, out, "SUMMARY:Dinner")
	require.Contains(t, out, "SUMMARY:Busy")
	require.NotContains(t, out, "Therapy")
	require.NotContains(t, out, "Secret")
	require.Equal(t, 3, strings.Count(out, "BEGIN:VEVENT"))
}

func TestCalendarImportCreatesPrivateEvents(t *testing.T) {
	f := newEventFixture(t)
	svc := newCalendarService(t, f)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	linkUsers(t, f.db, alice, bob)

	res, err := svc.Import(ctx, alice.ID, strings.NewReader(importFixture))
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)
	require.Equal(t, 2, res.Skipped)
	require.Len(t, res.Errors, 2)

	var events []models.Event
	require.NoError(t, f.db.Where("owner_id = ?", alice.ID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, "Lunch with Sam", events[0].Title)
	require.Equal(t, models.VisibilityPrivate, events[0].Visibility)
	require.Equal(t, "Cafe", *events[0].Location)

	require.Empty(t, f.notifications(t, bob.ID))
}

func TestCalendarImportRejectsUnusableDocuments(t *testing.T) {
	f := newEventFixture(t)
	svc := newCalendarService(t, f)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")

	_, err := svc.Import(ctx, alice.ID, strings.NewReader("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"))
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.Import(ctx, "ghost", strings.NewReader(importFixture))
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestCalendarRoundTrip(t *testing.T) {
	f := newEventFixture(t)
	svc := newCalendarService(t, f)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	carol := seedUser(t, f.db, "carol@example.com")

	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	input := eventAt("Yoga", models.VisibilityShared, start)
	rule := "FREQ=WEEKLY;COUNT=4"
	input.RecurrenceRule = &rule
	_, err := f.events.Create(ctx, alice.ID, input)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, alice.ID, &buf))

	res, err := svc.Import(ctx, carol.ID, &buf)
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)

	var imported models.Event
	require.NoError(t, f.db.First(&imported, "owner_id = ?", carol.ID).Error)
	require.Equal(t, "Yoga", imported.Title)
	require.True(t, imported.StartDate.Equal(start))
	require.True(t, imported.IsRecurring)
	require.Equal(t, models.VisibilityPrivate, imported.Visibility)
}
