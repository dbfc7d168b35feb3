package mail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPartnerInvitationRendersLinkAndNote(t *testing.T) {
	expires := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	msg, err := PartnerInvitation("b@example.com", InvitationData{
		InviterEmail: "a@example.com",
		Note:         "Let's plan our weekends",
		Link:         "https://duocal.test/invite/tok",
		ExpiresAt:    expires,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"b@example.com"}, msg.To)
	require.Equal(t, "a@example.com invited you to share a calendar", msg.Subject)
	require.Contains(t, msg.Body, "https://duocal.test/invite/tok")
	require.Contains(t, msg.Body, "Let's plan our weekends")
	require.Contains(t, msg.Body, "Sun 8 Mar 2026 12:00 UTC")
	require.Equal(t, "a@example.com", msg.ReplyTo)
}

func TestPartnerInvitationOmitsEmptyNote(t *testing.T) {
	msg, err := PartnerInvitation("b@example.com", InvitationData{InviterName: "Alice", InviterEmail: "a@example.com", Link: "x"})
	require.NoError(t, err)
	require.NotContains(t, msg.Body, "They wrote")
	require.Equal(t, "Alice invited you to share a calendar", msg.Subject)
}

func TestLinkTemplates(t *testing.T) {
	data := LinkData{Name: "Bob", Link: "https://duocal.test/t", ExpiresAt: time.Now()}
	for _, build := range []func(string, LinkData) (Message, error){EmailVerification, PasswordReset, MagicLink} {
		msg, err := build("bob@example.com", data)
		require.NoError(t, err)
		require.Contains(t, msg.Body, data.Link)
		require.NotEmpty(t, msg.Subject)
	}
}
