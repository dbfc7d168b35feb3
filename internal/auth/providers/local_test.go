package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/database/testutil"
	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/pkg/crypto"
)

func TestAuthenticateSuccessResetsCounters(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	current := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

	provider := newLocalProvider(t, db, LocalConfig{Clock: func() time.Time { return current }})
	user := createUser(t, db, "alice@example.com", "password123", func(u *models.User) {
		u.FailedAttempts = 3
	})

	result, err := provider.Authenticate(context.Background(), AuthenticateInput{
		Email:     "  Alice@Example.com ",
		Password:  "password123",
		IPAddress: "127.0.0.1",
	})
	require.NoError(t, err)
	require.Equal(t, user.ID, result.ID)

	var updated models.User
	require.NoError(t, db.Take(&updated, "id = ?", user.ID).Error)
	require.Equal(t, 0, updated.FailedAttempts)
	require.Nil(t, updated.LockedUntil)
	require.NotNil(t, updated.LastLoginAt)
	require.True(t, updated.LastLoginAt.Equal(current))
}

func TestAuthenticateInvalidPasswordLocksAccount(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	current := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	provider := newLocalProvider(t, db, LocalConfig{
		LockoutThreshold: 3,
		LockoutDuration:  10 * time.Minute,
		Clock:            func() time.Time { return current },
	})
	user := createUser(t, db, "bob@example.com", "correct", func(u *models.User) {
		u.FailedAttempts = 1
	})

	err := tryAuthenticate(provider, "bob@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	err = tryAuthenticate(provider, "bob@example.com", "wrong")
	require.ErrorIs(t, err, ErrAccountLocked)

	var updated models.User
	require.NoError(t, db.Take(&updated, "id = ?", user.ID).Error)
	require.Equal(t, 3, updated.FailedAttempts)
	require.NotNil(t, updated.LockedUntil)
	require.True(t, updated.LockedUntil.Equal(current.Add(10*time.Minute)))

	// The right password is refused while locked.
	err = tryAuthenticate(provider, "bob@example.com", "correct")
	require.ErrorIs(t, err, ErrAccountLocked)

	current = current.Add(11 * time.Minute)
	require.NoError(t, tryAuthenticate(provider, "bob@example.com", "correct"))

	var unlocked models.User
	require.NoError(t, db.Take(&unlocked, "id = ?", user.ID).Error)
	require.Zero(t, unlocked.FailedAttempts)
	require.Nil(t, unlocked.LockedUntil)
}

func TestAuthenticateRejectsUnknownAndDisabled(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider := newLocalProvider(t, db, LocalConfig{})

	user := createUser(t, db, "carol@example.com", "secret", nil)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", false).Error)

	require.ErrorIs(t, tryAuthenticate(provider, "nobody@example.com", "secret"), ErrInvalidCredentials)
	require.ErrorIs(t, tryAuthenticate(provider, "carol@example.com", "secret"), ErrAccountDisabled)
	require.ErrorIs(t, tryAuthenticate(provider, "", ""), ErrInvalidCredentials)
}

func TestAuthenticateRequiresVerifiedEmail(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider := newLocalProvider(t, db, LocalConfig{RequireEmailVerification: true})

	createUser(t, db, "dave@example.com", "secret", nil)
	require.ErrorIs(t, tryAuthenticate(provider, "dave@example.com", "secret"), ErrEmailNotVerified)

	verified := time.Now().UTC()
	createUser(t, db, "erin@example.com", "secret", func(u *models.User) {
		u.EmailVerifiedAt = &verified
	})
	require.NoError(t, tryAuthenticate(provider, "erin@example.com", "secret"))
}

func newLocalProvider(t *testing.T, db *gorm.DB, cfg LocalConfig) *LocalProvider {
	t.Helper()
	provider, err := NewLocalProvider(db, cfg)
	require.NoError(t, err)
	return provider
}

func createUser(t *testing.T, db *gorm.DB, email, password string, mutate func(*models.User)) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(t, err)

	user := &models.User{Email: email, Password: hashed, IsActive: true}
	if mutate != nil {
		mutate(user)
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func tryAuthenticate(provider *LocalProvider, email, password string) error {
	_, err := provider.Authenticate(context.Background(), AuthenticateInput{Email: email, Password: password})
	return err
}
