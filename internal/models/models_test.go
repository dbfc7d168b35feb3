package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	require.NoError(t, base.BeforeCreate(nil))
	require.NotEmpty(t, base.ID)

	existing := BaseModel{ID: "fixed"}
	require.NoError(t, existing.BeforeCreate(nil))
	require.Equal(t, "fixed", existing.ID)
}

func TestUserBeforeSaveNormalisesEmail(t *testing.T) {
	u := &User{Email: "  Alice@Example.COM ", Name: " Alice "}
	require.NoError(t, u.BeforeSave(nil))
	require.Equal(t, "alice@example.com", u.Email)
	require.Equal(t, "Alice", u.Name)
}

func TestUserHasPartnerAndDisplayName(t *testing.T) {
	u := &User{Email: "a@example.com"}
	require.False(t, u.HasPartner())
	require.Equal(t, "a@example.com", u.DisplayName())

	empty := ""
	u.PartnerID = &empty
	require.False(t, u.HasPartner())

	partner := "b"
	u.PartnerID = &partner
	u.FirstName, u.LastName = "Ada", "Lovelace"
	require.True(t, u.HasPartner())
	require.Equal(t, "Ada Lovelace", u.DisplayName())
	require.Equal(t, "Ada Lovelace", u.Profile().Name)
}

func TestPartnerInvitationBeforeSave(t *testing.T) {
	inv := &PartnerInvitation{Email: "B@Example.com"}
	require.NoError(t, inv.BeforeSave(nil))
	require.Equal(t, "b@example.com", inv.Email)
	require.Equal(t, InvitationPending, inv.Status)

	inv.Status = InvitationStatus("LOST")
	err := inv.BeforeSave(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid status")
}

func TestInvitationStatusTerminal(t *testing.T) {
	require.False(t, InvitationPending.IsTerminal())
	for _, s := range []InvitationStatus{InvitationAccepted, InvitationDeclined, InvitationExpired, InvitationCancelled} {
		require.True(t, s.IsTerminal(), s)
	}
}

func TestPartnerInvitationExpiredAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := &PartnerInvitation{ExpiresAt: now}
	require.True(t, inv.ExpiredAt(now))
	require.False(t, inv.ExpiredAt(now.Add(-time.Second)))
}

func TestEventBeforeSaveValidates(t *testing.T) {
	start := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	ev := &Event{Title: " ", StartDate: start, EndDate: start}
	require.ErrorContains(t, ev.BeforeSave(nil), "title")

	ev.Title = "Dinner"
	require.NoError(t, ev.BeforeSave(nil))
	require.Equal(t, VisibilityPrivate, ev.Visibility)
	require.Equal(t, EventStatusBusy, ev.Status)

	ev.Visibility = Visibility("PUBLIC")
	require.ErrorContains(t, ev.BeforeSave(nil), "invalid visibility")

	ev.Visibility = VisibilityBusyOnly
	ev.EndDate = start.Add(-time.Minute)
	require.ErrorContains(t, ev.BeforeSave(nil), "end_date")
}

func TestParseVisibilityAndPriority(t *testing.T) {
	v, err := ParseVisibility("busy_only")
	require.NoError(t, err)
	require.Equal(t, VisibilityBusyOnly, v)

	v, err = ParseVisibility("")
	require.NoError(t, err)
	require.Equal(t, VisibilityPrivate, v)

	_, err = ParseVisibility("friends")
	require.Error(t, err)

	p, err := ParsePriority("urgent")
	require.NoError(t, err)
	require.Equal(t, PriorityUrgent, p)

	_, err = ParsePriority("someday")
	require.Error(t, err)
}

func TestTodoAssignedTo(t *testing.T) {
	todo := &Todo{Title: "Groceries"}
	require.False(t, todo.AssignedTo("b"))
	b := "b"
	todo.AssigneeID = &b
	require.True(t, todo.AssignedTo("b"))
	require.NoError(t, todo.BeforeSave(nil))
	require.Equal(t, PriorityMedium, todo.Priority)
}

func TestAuthTokenUsable(t *testing.T) {
	now := time.Now()
	tok := &AuthToken{ExpiresAt: now.Add(time.Minute)}
	require.True(t, tok.Usable(now))
	tok.UsedAt = &now
	require.False(t, tok.Usable(now))
	require.False(t, (&AuthToken{ExpiresAt: now}).Usable(now))
}

func TestReminderTypeChannels(t *testing.T) {
	require.True(t, ReminderBoth.Notifies())
	require.True(t, ReminderBoth.Emails())
	require.False(t, ReminderEmail.Notifies())
	require.False(t, ReminderNotification.Emails())
}
