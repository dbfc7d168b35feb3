package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/api"
	"github.com/charlesng35/duocal/internal/app"
	iauth "github.com/charlesng35/duocal/internal/auth"
	sharedtestutil "github.com/charlesng35/duocal/internal/database/testutil"
	"github.com/charlesng35/duocal/pkg/mail"
	"github.com/charlesng35/duocal/pkg/response"
)

// TestPassword satisfies the password strength rules.
const TestPassword = "Password123"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Services *api.Services
	Mailer   *Mailer
	Clock    *Clock
}

// EnvOption adjusts the configuration before the router is built.
type EnvOption func(*app.Config)

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	clock := &Clock{now: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)}
	mailer := &Mailer{}

	cfg := &app.Config{
		Server: app.ServerConfig{BaseURL: "http://duocal.test"},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "duocal-test",
				TTL:    time.Hour,
			},
			Session: app.SessionSettings{
				RefreshTTL:    24 * time.Hour,
				RefreshLength: 32,
			},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	jwtCfg.Clock = clock.Now
	jwtSvc, err := iauth.NewJWTService(jwtCfg)
	require.NoError(t, err)

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Clock = clock.Now
	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, sessionCfg)
	require.NoError(t, err)

	svc, err := api.NewServices(db, cfg, mailer, api.WithClock(clock.Now))
	require.NoError(t, err)

	router, err := api.NewRouter(db, cfg, jwtSvc, sessionSvc, svc, nil)
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Services: svc,
		Mailer:   mailer,
		Clock:    clock,
	}
}

// Clock is a settable time source shared by every service of an Env.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Mailer records outbound mail instead of delivering it.
type Mailer struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (m *Mailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Account links carry ?token=; invitation links end in /partner/invite/<token>.
var tokenPattern = regexp.MustCompile(`(?:token=|/partner/invite/)([A-Za-z0-9_-]+)`)

// LastMessage returns the most recent mail sent to address.
func (m *Mailer) LastMessage(t *testing.T, address string) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.messages) - 1; i >= 0; i-- {
		for _, to := range m.messages[i].To {
			if strings.EqualFold(to, address) {
				return m.messages[i]
			}
		}
	}
	t.Fatalf("no mail sent to %s", address)
	return mail.Message{}
}

// LastToken returns the link token of the most recent mail sent to address.
func (m *Mailer) LastToken(t *testing.T, address string) string {
	t.Helper()
	msg := m.LastMessage(t, address)
	match := tokenPattern.FindStringSubmatch(msg.Body)
	require.Len(t, match, 2, "mail to %s carries no token link", address)
	token, err := url.QueryUnescape(match[1])
	require.NoError(t, err)
	return token
}

// Session is the data payload of register, login and refresh.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int         `json:"expires_in"`
	TokenType    string      `json:"token_type"`
	User         UserPayload `json:"user"`
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	PartnerID       *string    `json:"partner_id"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
}

// Register creates an account through the API and returns its session.
func (e *Env) Register(email, name string) Session {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    email,
		"password": TestPassword,
		"name":     name,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var session Session
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &session)
	require.NotEmpty(e.T, session.AccessToken)
	return session
}

// Login authenticates with the local provider and returns the issued session.
func (e *Env) Login(email, password string) Session {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var session Session
	DecodeInto(e.T, resp.Data, &session)
	require.NotEmpty(e.T, session.AccessToken)
	require.NotEmpty(e.T, session.RefreshToken)
	require.Greater(e.T, session.ExpiresIn, 0)
	return session
}

// Pair registers two accounts and links them through an accepted invitation.
func (e *Env) Pair(emailA, emailB string) (Session, Session) {
	e.T.Helper()

	a := e.Register(emailA, "A")
	b := e.Register(emailB, "B")

	w := e.Request(http.MethodPost, "/api/partner/invite", map[string]string{"email": emailB}, a.AccessToken)
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())
	token := e.Mailer.LastToken(e.T, emailB)

	w = e.Request(http.MethodPost, "/api/partner/accept", map[string]string{"token": token}, b.AccessToken)
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())
	return a, b
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.Do(req, token)
}

// Do sends a prepared request, adding the bearer token when given.
func (e *Env) Do(req *http.Request, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
