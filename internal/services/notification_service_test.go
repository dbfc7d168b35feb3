package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/duocal/internal/database/testutil"
	"github.com/charlesng35/duocal/internal/models"
	apperrors "github.com/charlesng35/duocal/pkg/errors"
)

func TestNotificationServiceCreateAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	user := seedUser(t, db, "alice@example.com")

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	dto, err := svc.Create(ctx, CreateNotificationInput{
		UserID:   user.ID,
		Type:     models.NotificationPartnerAccepted,
		Title:    "Bob accepted your invitation",
		Metadata: map[string]any{"partner_id": "bob"},
	})
	require.NoError(t, err)
	require.Equal(t, models.NotificationPartnerAccepted, dto.Type)
	require.Equal(t, "bob", dto.Metadata["partner_id"])

	items, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: user.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, dto.ID, items[0].ID)
	require.False(t, items[0].IsRead)

	_, err = svc.ListForUser(ctx, ListNotificationsInput{})
	require.Error(t, err)
}

func TestNotificationServiceReadFlags(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	user := seedUser(t, db, "bob@example.com")
	other := seedUser(t, db, "carol@example.com")

	svc, err := NewNotificationService(db)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateNotificationInput{UserID: user.ID, Type: models.NotificationEventCreated})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateNotificationInput{UserID: user.ID, Type: models.NotificationEventUpdated})
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	read, err := svc.MarkRead(ctx, user.ID, first.ID)
	require.NoError(t, err)
	require.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	unread, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: user.ID, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)

	again, err := svc.MarkUnread(ctx, user.ID, first.ID)
	require.NoError(t, err)
	require.False(t, again.IsRead)
	require.Nil(t, again.ReadAt)

	_, err = svc.MarkRead(ctx, other.ID, first.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	updated, err := svc.MarkAllRead(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, updated)

	count, err = svc.UnreadCount(ctx, user.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestNotificationServiceDelete(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	user := seedUser(t, db, "dave@example.com")

	svc, err := NewNotificationService(db)
	require.NoError(t, err)
	ctx := context.Background()

	dto, err := svc.Create(ctx, CreateNotificationInput{UserID: user.ID, Type: models.NotificationTodoAssigned})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, user.ID, dto.ID))
	require.ErrorIs(t, svc.Delete(ctx, user.ID, dto.ID), apperrors.ErrNotFound)
}

func TestNotificationServiceNotifySwallowsErrors(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	require.NotPanics(t, func() {
		svc.Notify(context.Background(), CreateNotificationInput{Type: models.NotificationEventCreated})
	})
}
