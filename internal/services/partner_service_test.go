package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/database/testutil"
	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/pkg/mail"
)

type partnerFixture struct {
	db       *gorm.DB
	clock    *testClock
	mailer   *recordingMailer
	notifier *NotificationService
	svc      *PartnerService
}

func newPartnerFixture(t *testing.T, cfg PartnerConfig) *partnerFixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	mailer := &recordingMailer{}

	notifier, err := NewNotificationService(db)
	require.NoError(t, err)

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://duocal.test/"
	}
	svc, err := NewPartnerService(db, mailer, cfg,
		WithPartnerClock(clock.Now),
		WithPartnerNotifier(notifier),
	)
	require.NoError(t, err)

	return &partnerFixture{db: db, clock: clock, mailer: mailer, notifier: notifier, svc: svc}
}

func (f *partnerFixture) invitation(t *testing.T, id string) models.PartnerInvitation {
	t.Helper()
	var inv models.PartnerInvitation
	require.NoError(t, f.db.First(&inv, "id = ?", id).Error)
	return inv
}

func (f *partnerFixture) notificationsOf(t *testing.T, userID, kind string) []models.Notification {
	t.Helper()
	var rows []models.Notification
	require.NoError(t, f.db.Where("user_id = ? AND type = ?", userID, kind).Find(&rows).Error)
	return rows
}

func TestPartnerInviteCreatesPendingInvitation(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")

	res, err := f.svc.Invite(context.Background(), InviteInput{
		SenderID: alice.ID,
		Email:    "  Bob@Example.com ",
		Message:  "let's share",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	require.Equal(t, "bob@example.com", res.Email)
	require.Equal(t, "https://duocal.test/partner/invite/"+res.Token, res.Link)
	require.Equal(t, f.clock.Now().Add(7*24*time.Hour), res.ExpiresAt)

	stored := f.invitation(t, res.InvitationID)
	require.Equal(t, models.InvitationPending, stored.Status)
	require.Equal(t, alice.ID, stored.SenderID)
	require.NotEqual(t, res.Token, stored.TokenHash)
	require.Nil(t, stored.ReceiverID)

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, []string{"bob@example.com"}, sent[0].To)
	require.Equal(t, "alice@example.com", sent[0].ReplyTo)
	require.Contains(t, sent[0].Body, res.Link)
	require.Contains(t, sent[0].Body, "let's share")

	require.Len(t, f.notificationsOf(t, bob.ID, models.NotificationPartnerInvitation), 1)
}

func TestPartnerInvitePreconditions(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{AllowedEmails: []string{"Bob@example.com", "carol@example.com", "dave@example.com"}})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	carol := seedUser(t, f.db, "carol@example.com")
	dave := seedUser(t, f.db, "dave@example.com")
	erin := seedUser(t, f.db, "erin@example.com")
	linkUsers(t, f.db, carol, erin)

	_, err := f.svc.Invite(ctx, InviteInput{Email: "bob@example.com"})
	require.ErrorIs(t, err, ErrPartnerUnauthenticated)

	_, err = f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "ALICE@example.com"})
	require.ErrorIs(t, err, ErrSelfInvitation)

	_, err = f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "mallory@example.com"})
	require.ErrorIs(t, err, ErrInviteeNotAllowed)

	_, err = f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: carol.Email})
	require.ErrorIs(t, err, ErrTargetAlreadyPartnered)

	_, err = f.svc.Invite(ctx, InviteInput{SenderID: erin.ID, Email: dave.Email})
	require.ErrorIs(t, err, ErrAlreadyPartnered)

	_, err = f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "bob@example.com"})
	require.NoError(t, err)
	_, err = f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "bob@example.com"})
	require.ErrorIs(t, err, ErrDuplicateInvitation)

	var count int64
	require.NoError(t, f.db.Model(&models.PartnerInvitation{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestPartnerInviteSupersedesStalePending(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")

	first, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "bob@example.com"})
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)
	second, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "bob@example.com"})
	require.NoError(t, err)

	require.Equal(t, models.InvitationCancelled, f.invitation(t, first.InvitationID).Status)
	require.Equal(t, models.InvitationPending, f.invitation(t, second.InvitationID).Status)
}

func TestPartnerInviteRollsBackOnDeliveryFailure(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")

	first, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "bob@example.com"})
	require.NoError(t, err)
	f.clock.Advance(8 * 24 * time.Hour)

	f.mailer.err = errMailDown
	_, err = f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "bob@example.com"})
	require.ErrorIs(t, err, ErrInvitationDelivery)

	var count int64
	require.NoError(t, f.db.Model(&models.PartnerInvitation{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
	require.Equal(t, models.InvitationPending, f.invitation(t, first.InvitationID).Status)
}

func TestPartnerInviteToleratesDisabledSMTP(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	alice := seedUser(t, f.db, "alice@example.com")
	f.mailer.err = mail.ErrSMTPDisabled

	res, err := f.svc.Invite(context.Background(), InviteInput{SenderID: alice.ID, Email: "bob@example.com"})
	require.NoError(t, err)
	require.Equal(t, models.InvitationPending, f.invitation(t, res.InvitationID).Status)
}

func TestPartnerInviteAcceptScenario(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	carol := seedUser(t, f.db, "carol@example.com")

	res, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "bob@example.com", Message: "hi"})
	require.NoError(t, err)
	toCarol, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: carol.Email})
	require.NoError(t, err)
	fromCarol, err := f.svc.Invite(ctx, InviteInput{SenderID: carol.ID, Email: "bob@example.com"})
	require.NoError(t, err)

	// Bob registers after the invitation was sent.
	f.clock.Advance(2 * 24 * time.Hour)
	bob := seedUser(t, f.db, "bob@example.com")

	view, err := f.svc.GetInvitation(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, models.InvitationPending, view.Status)
	require.Equal(t, alice.ID, view.Sender.ID)
	require.Equal(t, "Alice", view.Sender.Name)
	require.Equal(t, alice.Email, view.Sender.Email)
	require.Equal(t, "hi", view.Message)

	accepted, err := f.svc.Accept(ctx, bob.ID, res.Token)
	require.NoError(t, err)
	require.Equal(t, alice.ID, accepted.Partner.ID)

	a := reloadUser(t, f.db, alice.ID)
	b := reloadUser(t, f.db, bob.ID)
	require.NotNil(t, a.PartnerID)
	require.NotNil(t, b.PartnerID)
	require.Equal(t, bob.ID, *a.PartnerID)
	require.Equal(t, alice.ID, *b.PartnerID)

	stored := f.invitation(t, res.InvitationID)
	require.Equal(t, models.InvitationAccepted, stored.Status)
	require.NotNil(t, stored.ReceiverID)
	require.Equal(t, bob.ID, *stored.ReceiverID)
	require.NotNil(t, stored.RespondedAt)

	require.Equal(t, models.InvitationCancelled, f.invitation(t, toCarol.InvitationID).Status)
	require.Equal(t, models.InvitationCancelled, f.invitation(t, fromCarol.InvitationID).Status)

	require.Len(t, f.notificationsOf(t, alice.ID, models.NotificationPartnerAccepted), 1)

	_, err = f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "dave@example.com"})
	require.ErrorIs(t, err, ErrAlreadyPartnered)

	_, err = f.svc.Accept(ctx, bob.ID, res.Token)
	require.ErrorIs(t, err, ErrInvitationResolved)

	_, err = f.svc.Unlink(ctx, alice.ID)
	require.NoError(t, err)
	_, err = f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "dave@example.com"})
	require.NoError(t, err)

	violations, err := f.svc.CheckConsistency(ctx)
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestPartnerGetInvitationExpiresLazily(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")

	res, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: bob.Email})
	require.NoError(t, err)

	f.clock.Advance(7*24*time.Hour + time.Second)

	view, err := f.svc.GetInvitation(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, models.InvitationExpired, view.Status)

	again, err := f.svc.GetInvitation(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, models.InvitationExpired, again.Status)
	require.Equal(t, models.InvitationExpired, f.invitation(t, res.InvitationID).Status)

	_, err = f.svc.Accept(ctx, bob.ID, res.Token)
	require.ErrorIs(t, err, ErrInvitationExpired)
	require.ErrorIs(t, f.svc.Decline(ctx, bob.ID, res.Token), ErrInvitationExpired)
	require.False(t, reloadUser(t, f.db, bob.ID).HasPartner())

	_, err = f.svc.GetInvitation(ctx, "unknown-token")
	require.ErrorIs(t, err, ErrInvitationNotFound)
	_, err = f.svc.GetInvitation(ctx, "")
	require.ErrorIs(t, err, ErrInvitationNotFound)
}

func TestPartnerAcceptPersistsExpiry(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{InvitationTTL: time.Hour})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")

	res, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: bob.Email})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	_, err = f.svc.Accept(ctx, bob.ID, res.Token)
	require.ErrorIs(t, err, ErrInvitationExpired)
	require.Equal(t, models.InvitationExpired, f.invitation(t, res.InvitationID).Status)
}

func TestPartnerConcurrentAcceptLinksOnce(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")

	res, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: bob.Email})
	require.NoError(t, err)

	const attempts = 2
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Accept(ctx, bob.ID, res.Token)
		}(i)
	}
	close(start)
	wg.Wait()

	var succeeded, resolved int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInvitationResolved):
			resolved++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, resolved)

	a := reloadUser(t, f.db, alice.ID)
	b := reloadUser(t, f.db, bob.ID)
	require.Equal(t, bob.ID, *a.PartnerID)
	require.Equal(t, alice.ID, *b.PartnerID)
}

func TestPartnerAcceptSenderRaceLost(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	dave := seedUser(t, f.db, "dave@example.com")

	res, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: bob.Email})
	require.NoError(t, err)

	linkUsers(t, f.db, alice, dave)

	_, err = f.svc.Accept(ctx, bob.ID, res.Token)
	require.ErrorIs(t, err, ErrSenderRaceLost)
	require.Equal(t, models.InvitationCancelled, f.invitation(t, res.InvitationID).Status)
	require.False(t, reloadUser(t, f.db, bob.ID).HasPartner())
	require.Equal(t, dave.ID, *reloadUser(t, f.db, alice.ID).PartnerID)
}

func TestPartnerAcceptRejectsWrongRecipientAndPartneredResponder(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	carol := seedUser(t, f.db, "carol@example.com")
	dave := seedUser(t, f.db, "dave@example.com")

	res, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: bob.Email})
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, carol.ID, res.Token)
	require.ErrorIs(t, err, ErrWrongRecipient)
	require.ErrorIs(t, f.svc.Decline(ctx, carol.ID, res.Token), ErrWrongRecipient)

	_, err = f.svc.Accept(ctx, "", res.Token)
	require.ErrorIs(t, err, ErrPartnerUnauthenticated)

	linkUsers(t, f.db, bob, dave)
	_, err = f.svc.Accept(ctx, bob.ID, res.Token)
	require.ErrorIs(t, err, ErrAlreadyPartnered)

	require.Equal(t, models.InvitationPending, f.invitation(t, res.InvitationID).Status)
	require.False(t, reloadUser(t, f.db, alice.ID).HasPartner())
}

func TestPartnerDeclineAndCancelAreTerminal(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")

	declined, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: bob.Email})
	require.NoError(t, err)

	require.NoError(t, f.svc.Decline(ctx, bob.ID, declined.Token))
	stored := f.invitation(t, declined.InvitationID)
	require.Equal(t, models.InvitationDeclined, stored.Status)
	require.Equal(t, bob.ID, *stored.ReceiverID)
	require.NotNil(t, stored.RespondedAt)
	require.False(t, reloadUser(t, f.db, bob.ID).HasPartner())
	require.Len(t, f.notificationsOf(t, alice.ID, models.NotificationPartnerDeclined), 1)

	_, err = f.svc.Accept(ctx, bob.ID, declined.Token)
	require.ErrorIs(t, err, ErrInvitationResolved)
	require.ErrorIs(t, f.svc.Decline(ctx, bob.ID, declined.Token), ErrInvitationResolved)
	require.ErrorIs(t, f.svc.CancelInvitation(ctx, alice.ID, declined.InvitationID), ErrInvitationResolved)

	cancelled, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: bob.Email})
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.CancelInvitation(ctx, bob.ID, cancelled.InvitationID), ErrInvitationNotFound)
	require.NoError(t, f.svc.CancelInvitation(ctx, alice.ID, cancelled.InvitationID))
	require.Equal(t, models.InvitationCancelled, f.invitation(t, cancelled.InvitationID).Status)

	_, err = f.svc.Accept(ctx, bob.ID, cancelled.Token)
	require.ErrorIs(t, err, ErrInvitationResolved)
	require.ErrorIs(t, f.svc.CancelInvitation(ctx, alice.ID, cancelled.InvitationID), ErrInvitationResolved)
}

func TestPartnerUnlinkCascade(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	carol := seedUser(t, f.db, "carol@example.com")
	linkUsers(t, f.db, alice, bob)

	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	newEvent := func(owner *models.User, visibility models.Visibility) *models.Event {
		ev := &models.Event{
			OwnerID:    owner.ID,
			Title:      string(visibility) + " event",
			StartDate:  start,
			EndDate:    start.Add(time.Hour),
			Visibility: visibility,
		}
		require.NoError(t, f.db.Create(ev).Error)
		return ev
	}
	newTodo := func(owner *models.User, shared bool, assignee *models.User) *models.Todo {
		todo := &models.Todo{OwnerID: owner.ID, Title: "todo", IsShared: shared}
		if assignee != nil {
			todo.AssigneeID = &assignee.ID
		}
		require.NoError(t, f.db.Create(todo).Error)
		return todo
	}

	aliceShared := newEvent(alice, models.VisibilityShared)
	aliceBusy := newEvent(alice, models.VisibilityBusyOnly)
	bobShared := newEvent(bob, models.VisibilityShared)
	bobPrivate := newEvent(bob, models.VisibilityPrivate)
	carolShared := newEvent(carol, models.VisibilityShared)

	aliceTodo := newTodo(alice, true, bob)
	bobTodo := newTodo(bob, true, nil)
	assignedOnly := newTodo(bob, false, alice)
	personal := newTodo(alice, false, nil)
	carolTodo := newTodo(carol, true, nil)

	result, err := f.svc.Unlink(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, bob.ID, result.FormerPartnerID)
	require.EqualValues(t, 3, result.TodosUnshared)
	require.EqualValues(t, 2, result.EventsPrivate)

	require.Nil(t, reloadUser(t, f.db, alice.ID).PartnerID)
	require.Nil(t, reloadUser(t, f.db, bob.ID).PartnerID)

	visibilityOf := func(id string) models.Visibility {
		var ev models.Event
		require.NoError(t, f.db.First(&ev, "id = ?", id).Error)
		return ev.Visibility
	}
	require.Equal(t, models.VisibilityPrivate, visibilityOf(aliceShared.ID))
	require.Equal(t, models.VisibilityBusyOnly, visibilityOf(aliceBusy.ID))
	require.Equal(t, models.VisibilityPrivate, visibilityOf(bobShared.ID))
	require.Equal(t, models.VisibilityPrivate, visibilityOf(bobPrivate.ID))
	require.Equal(t, models.VisibilityShared, visibilityOf(carolShared.ID))

	todoOf := func(id string) models.Todo {
		var todo models.Todo
		require.NoError(t, f.db.First(&todo, "id = ?", id).Error)
		return todo
	}
	for _, id := range []string{aliceTodo.ID, bobTodo.ID, assignedOnly.ID, personal.ID} {
		todo := todoOf(id)
		require.False(t, todo.IsShared)
		require.Nil(t, todo.AssigneeID)
	}
	require.True(t, todoOf(carolTodo.ID).IsShared)

	require.Len(t, f.notificationsOf(t, bob.ID, models.NotificationPartnerUnlinked), 1)

	_, err = f.svc.Unlink(ctx, alice.ID)
	require.ErrorIs(t, err, ErrNoPartner)
	_, err = f.svc.Unlink(ctx, bob.ID)
	require.ErrorIs(t, err, ErrNoPartner)
}

func TestPartnerExpireStaleAndOverview(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	carol := seedUser(t, f.db, "carol@example.com")

	old, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: "dave@example.com"})
	require.NoError(t, err)
	f.clock.Advance(4 * 24 * time.Hour)
	sent, err := f.svc.Invite(ctx, InviteInput{SenderID: alice.ID, Email: bob.Email})
	require.NoError(t, err)
	received, err := f.svc.Invite(ctx, InviteInput{SenderID: carol.ID, Email: alice.Email})
	require.NoError(t, err)
	f.clock.Advance(4 * 24 * time.Hour)

	overview, err := f.svc.Overview(ctx, alice.ID)
	require.NoError(t, err)
	require.Nil(t, overview.Partner)
	require.Len(t, overview.Sent, 1)
	require.Equal(t, sent.InvitationID, overview.Sent[0].ID)
	require.Len(t, overview.Received, 1)
	require.Equal(t, received.InvitationID, overview.Received[0].ID)
	require.Equal(t, carol.ID, overview.Received[0].Sender.ID)

	expired, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, expired)
	require.Equal(t, models.InvitationExpired, f.invitation(t, old.InvitationID).Status)

	expired, err = f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	require.Zero(t, expired)

	_, err = f.svc.Accept(ctx, bob.ID, sent.Token)
	require.NoError(t, err)
	overview, err = f.svc.Overview(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, overview.Partner)
	require.Equal(t, bob.ID, overview.Partner.ID)
	require.Empty(t, overview.Received)
}

func TestPartnerCheckConsistencyReportsAsymmetricLinks(t *testing.T) {
	f := newPartnerFixture(t, PartnerConfig{})
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice@example.com")
	bob := seedUser(t, f.db, "bob@example.com")
	carol := seedUser(t, f.db, "carol@example.com")

	linkUsers(t, f.db, alice, bob)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", carol.ID).Update("partner_id", alice.ID).Error)

	violations, err := f.svc.CheckConsistency(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Equal(t, carol.ID, violations[0].UserID)
	require.Equal(t, alice.ID, violations[0].PartnerID)
	require.NotNil(t, violations[0].BackRef)
	require.Equal(t, bob.ID, *violations[0].BackRef)
}
