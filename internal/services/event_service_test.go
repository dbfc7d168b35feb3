package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/database/testutil"
	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/internal/visibility"
	apperrors "github.com/charlesng35/duocal/pkg/errors"
)

type eventFixture struct {
	db     *gorm.DB
	clock  *testClock
	events *EventService
	todos  *TodoService
}

func newEventFixture(t *testing.T) *eventFixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	notifier, err := NewNotificationService(db)
	require.NoError(t, err)
	categories, err := NewCategoryService(db)
	require.NoError(t, err)
	events, err := NewEventService(db, categories, WithEventClock(clock.Now), WithEventNotifier(notifier))
	require.NoError(t, err)
	todos, err := NewTodoService(db, categories, events, WithTodoClock(clock.Now), WithTodoNotifier(notifier))
	require.NoError(t, err)

	return &eventFixture{db: db, clock: clock, events: events, todos: todos}
}

func (f *eventFixture) notifications(t *testing.T, userID string) []models.Notification {
	t.Helper()
	var rows []models.Notification
	require.NoError(t, f.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func eventAt(title string, vis models.Visibility, start time.Time) EventInput {
	return EventInput{
		Title:      title,
		StartDate:  start,
		EndDate:    start.Add(time.Hour),
		Visibility: string(vis),
	}
}

func TestViewWindow(t *testing.T) {
	ref := time.Date(2024, 3, 7, 15, 30, 0, 0, time.UTC) // Thursday

	from, to, err := ViewWindow("", ref)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), from)
	require.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), to)

	from, to, err = ViewWindow(ViewMonth, ref)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), from)
	require.Equal(t, 31, to.Day())

	from, _, err = ViewWindow("DAY", ref)
	require.NoError(t, err)
	require.Equal(t, 7, from.Day())

	_, _, err = ViewWindow("decade", ref)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestEventListResolvesPartnerEvents(t *testing.T) {
	f := newEventFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	linkUsers(t, f.db, alice, bob)

	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	desc := "quarterly numbers"
	busy := eventAt("Doctor", models.VisibilityBusyOnly, start)
	busy.Description = &desc

	_, err := f.events.Create(ctx, alice.ID, eventAt("Dinner", models.VisibilityShared, start.Add(8*time.Hour)))
	require.NoError(t, err)
	_, err = f.events.Create(ctx, alice.ID, busy)
	require.NoError(t, err)
	_, err = f.events.Create(ctx, alice.ID, eventAt("Surprise gift", models.VisibilityPrivate, start.Add(2*time.Hour)))
	require.NoError(t, err)
	_, err = f.events.Create(ctx, bob.ID, eventAt("Gym", models.VisibilityPrivate, start.Add(-time.Hour)))
	require.NoError(t, err)

	from, to, err := ViewWindow(ViewWeek, start)
	require.NoError(t, err)

	list, err := f.events.List(ctx, ListEventsInput{ViewerID: bob.ID, From: from, To: to, IncludePartner: true})
	require.NoError(t, err)
	require.Len(t, list, 3)

	require.Equal(t, "Gym", list[0].Title)
	require.True(t, list[0].IsOwn)

	require.Equal(t, visibility.BusyTitle, list[1].Title)
	require.True(t, list[1].Redacted)
	require.Nil(t, list[1].Description)
	require.False(t, list[1].IsOwn)

	require.Equal(t, "Dinner", list[2].Title)
	require.False(t, list[2].Redacted)

	for _, occ := range list {
		require.NotEqual(t, "Surprise gift", occ.Title)
	}

	own, err := f.events.List(ctx, ListEventsInput{ViewerID: bob.ID, From: from, To: to})
	require.NoError(t, err)
	require.Len(t, own, 1)

	var stored models.Event
	require.NoError(t, f.db.First(&stored, "title = ?", "Doctor").Error)
	require.Equal(t, "quarterly numbers", *stored.Description)
}

func TestEventGetHidesEventsFromStrangers(t *testing.T) {
	f := newEventFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	carol := seedUser(t, f.db, "carol@example.com")
	linkUsers(t, f.db, alice, bob)

	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	shared, err := f.events.Create(ctx, alice.ID, eventAt("Dinner", models.VisibilityShared, start))
	require.NoError(t, err)
	private, err := f.events.Create(ctx, alice.ID, eventAt("Secret", models.VisibilityPrivate, start))
	require.NoError(t, err)

	got, err := f.events.Get(ctx, bob.ID, shared.ID)
	require.NoError(t, err)
	require.Equal(t, "Dinner", got.Title)

	_, err = f.events.Get(ctx, bob.ID, private.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.events.Get(ctx, carol.ID, shared.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.events.Get(ctx, "missing-user", shared.ID)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestEventListExpandsRecurringEvents(t *testing.T) {
	f := newEventFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")

	start := time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)
	input := eventAt("Run", models.VisibilityPrivate, start)
	rule := "FREQ=WEEKLY;BYDAY=MO,TH"
	input.RecurrenceRule = &rule

	created, err := f.events.Create(ctx, alice.ID, input)
	require.NoError(t, err)
	require.True(t, created.IsRecurring)

	from, to, err := ViewWindow(ViewMonth, start)
	require.NoError(t, err)
	list, err := f.events.List(ctx, ListEventsInput{ViewerID: alice.ID, From: from, To: to})
	require.NoError(t, err)
	// Mondays 4, 11, 18, 25 and Thursdays 7, 14, 21, 28 of March 2024.
	require.Len(t, list, 8)
	for i := 1; i < len(list); i++ {
		require.True(t, list[i-1].OccurrenceStart.Before(list[i].OccurrenceStart))
	}
	require.Equal(t, time.Hour, list[3].OccurrenceEnd.Sub(list[3].OccurrenceStart))
}

func TestEventCreateValidation(t *testing.T) {
	f := newEventFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	cases := map[string]func(in *EventInput){
		"blank title":      func(in *EventInput) { in.Title = "   " },
		"end before start": func(in *EventInput) { in.EndDate = in.StartDate.Add(-time.Minute) },
		"bad visibility":   func(in *EventInput) { in.Visibility = "PUBLIC" },
		"bad status":       func(in *EventInput) { in.Status = "ASLEEP" },
		"bad color":        func(in *EventInput) { in.Color = stringPtr("red") },
		"rule missing":     func(in *EventInput) { in.IsRecurring = true },
		"bad rule": func(in *EventInput) {
			in.IsRecurring = true
			in.RecurrenceRule = stringPtr("FREQ=SOMETIMES")
		},
		"too many reminders": func(in *EventInput) {
			for i := 0; i < maxReminders+1; i++ {
				in.Reminders = append(in.Reminders, ReminderInput{MinutesBefore: i})
			}
		},
		"reminder out of range": func(in *EventInput) {
			in.Reminders = []ReminderInput{{MinutesBefore: maxReminderMinutes + 1}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			input := eventAt("Valid", models.VisibilityPrivate, start)
			mutate(&input)
			_, err := f.events.Create(ctx, alice.ID, input)
			require.ErrorIs(t, err, apperrors.ErrBadRequest)
		})
	}

	bobs, err := f.events.categories.Create(ctx, bob.ID, CategoryInput{Name: "Bob's"})
	require.NoError(t, err)
	input := eventAt("Borrowed category", models.VisibilityPrivate, start)
	input.CategoryID = &bobs.ID
	_, err = f.events.Create(ctx, alice.ID, input)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestEventUpdateRecordsHistoryAndReplacesReminders(t *testing.T) {
	f := newEventFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	linkUsers(t, f.db, alice, bob)

	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	input := eventAt("Lunch", models.VisibilityShared, start)
	input.Reminders = []ReminderInput{{MinutesBefore: 30}, {MinutesBefore: 30}, {MinutesBefore: 10, Type: "email"}}
	created, err := f.events.Create(ctx, alice.ID, input)
	require.NoError(t, err)
	require.Len(t, created.Reminders, 2)

	input.Title = "Long lunch"
	input.EndDate = start.Add(2 * time.Hour)
	input.Reminders = nil
	updated, err := f.events.Update(ctx, alice.ID, created.ID, input)
	require.NoError(t, err)
	require.Equal(t, "Long lunch", updated.Title)
	require.Len(t, updated.Reminders, 2)

	_, err = f.events.Update(ctx, bob.ID, created.ID, input)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	reminders, err := f.events.SetReminders(ctx, alice.ID, created.ID, []ReminderInput{{MinutesBefore: 60, Type: "BOTH"}})
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	stored, err := f.events.Reminders(ctx, alice.ID, created.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, models.ReminderBoth, stored[0].Type)

	_, err = f.events.Reminders(ctx, bob.ID, created.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	history, err := f.events.History(ctx, alice.ID, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, models.HistoryCreated, history[0].Action)
	require.Equal(t, models.HistoryUpdated, history[1].Action)
	changes := decodeJSON(history[1].Changes)
	require.Contains(t, changes, "title")
	require.Contains(t, changes, "end_date")
	require.NotContains(t, changes, "visibility")

	require.NoError(t, f.events.Delete(ctx, alice.ID, created.ID))
	require.ErrorIs(t, f.events.Delete(ctx, alice.ID, created.ID), apperrors.ErrNotFound)

	var remaining int64
	require.NoError(t, f.db.Model(&models.Reminder{}).Where("event_id = ?", created.ID).Count(&remaining).Error)
	require.Zero(t, remaining)

	history, err = f.events.History(ctx, alice.ID, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, models.HistoryDeleted, history[2].Action)
}

func TestEventNotificationsRespectVisibility(t *testing.T) {
	f := newEventFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	linkUsers(t, f.db, alice, bob)

	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	_, err := f.events.Create(ctx, alice.ID, eventAt("Secret", models.VisibilityPrivate, start))
	require.NoError(t, err)
	require.Empty(t, f.notifications(t, bob.ID))

	_, err = f.events.Create(ctx, alice.ID, eventAt("Therapy", models.VisibilityBusyOnly, start))
	require.NoError(t, err)
	_, err = f.events.Create(ctx, alice.ID, eventAt("Concert", models.VisibilityShared, start))
	require.NoError(t, err)

	rows := f.notifications(t, bob.ID)
	require.Len(t, rows, 2)
	require.Equal(t, models.NotificationEventCreated, rows[0].Type)
	require.Contains(t, rows[0].Title, visibility.BusyTitle)
	require.False(t, strings.Contains(rows[0].Title, "Therapy"))
	require.Contains(t, rows[1].Title, "Concert")

	require.Empty(t, f.notifications(t, alice.ID))
}

func TestOneSidedPartnerLinkSeesNothing(t *testing.T) {
	f := newEventFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	carol := seedUser(t, f.db, "carol@example.com")
	linkUsers(t, f.db, bob, carol)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", alice.ID).Update("partner_id", bob.ID).Error)

	start := time.Date(2024, 3, 5, 19, 0, 0, 0, time.UTC)
	ev, err := f.events.Create(ctx, bob.ID, eventAt("Anniversary with Carol", models.VisibilityShared, start))
	require.NoError(t, err)
	busy, err := f.events.Create(ctx, bob.ID, eventAt("Dentist", models.VisibilityBusyOnly, start))
	require.NoError(t, err)
	todo, err := f.todos.Create(ctx, bob.ID, TodoInput{Title: "Buy a gift", IsShared: true})
	require.NoError(t, err)

	_, err = f.events.Get(ctx, alice.ID, ev.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = f.events.Get(ctx, alice.ID, busy.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	from, to, err := ViewWindow(ViewWeek, start)
	require.NoError(t, err)
	list, err := f.events.List(ctx, ListEventsInput{ViewerID: alice.ID, From: from, To: to, IncludePartner: true})
	require.NoError(t, err)
	require.Empty(t, list)

	todos, err := f.todos.List(ctx, ListTodosInput{ViewerID: alice.ID})
	require.NoError(t, err)
	require.Empty(t, todos)
	_, err = f.todos.Get(ctx, alice.ID, todo.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	calendar, err := NewCalendarService(f.db, f.events)
	require.NoError(t, err)
	var out strings.Builder
	require.NoError(t, calendar.Export(ctx, alice.ID, &out))
	require.NotContains(t, out.String(), "Anniversary")
	require.NotContains(t, out.String(), "BEGIN:VEVENT")

	// Carol holds the reciprocated link and still sees it.
	got, err := f.events.Get(ctx, carol.ID, ev.ID)
	require.NoError(t, err)
	require.Equal(t, "Anniversary with Carol", got.Title)
}
