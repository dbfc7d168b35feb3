package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/pkg/mail"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	err      error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) Sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

var errMailDown = errors.New("smtp: connection refused")

func seedUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	name := strings.Split(email, "@")[0]
	user := &models.User{
		Email:    email,
		Name:     strings.ToUpper(name[:1]) + name[1:],
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func reloadUser(t *testing.T, db *gorm.DB, id string) *models.User {
	t.Helper()
	var user models.User
	require.NoError(t, db.Take(&user, "id = ?", id).Error)
	return &user
}

func linkUsers(t *testing.T, db *gorm.DB, a, b *models.User) {
	t.Helper()
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", a.ID).Update("partner_id", b.ID).Error)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", b.ID).Update("partner_id", a.ID).Error)
	a.PartnerID = &b.ID
	b.PartnerID = &a.ID
}
