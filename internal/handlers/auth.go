package handlers

import (
	stdErrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/duocal/internal/auth"
	"github.com/charlesng35/duocal/internal/auth/providers"
	"github.com/charlesng35/duocal/internal/middleware"
	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/internal/services"
	"github.com/charlesng35/duocal/pkg/errors"
	"github.com/charlesng35/duocal/pkg/metrics"
	"github.com/charlesng35/duocal/pkg/response"
)

var (
	errAccountLocked   = errors.New("ACCOUNT_LOCKED", "Too many failed attempts, try again later", http.StatusLocked)
	errAccountDisabled = errors.New("ACCOUNT_DISABLED", "This account has been disabled", http.StatusForbidden)
	errSessionInvalid  = errors.ErrUnauthorized.WithMessage("Session is invalid or has expired")
)

// AuthHandler manages account creation and the login/refresh/logout flows.
type AuthHandler struct {
	users    *services.UserService
	accounts *services.AccountService
	local    *providers.LocalProvider
	sessions *iauth.SessionService
}

func NewAuthHandler(users *services.UserService, accounts *services.AccountService, local *providers.LocalProvider, sessions *iauth.SessionService) *AuthHandler {
	return &AuthHandler{users: users, accounts: accounts, local: local, sessions: sessions}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,password"`
	Name     string `json:"name" validate:"required,max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,password"`
}

type sessionResponse struct {
	iauth.TokenPair
	User *models.User `json:"user"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}
	ctx := requestContext(c)

	user, err := h.users.Register(ctx, services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.accounts.SendVerification(ctx, user); err != nil {
		response.Error(c, err)
		return
	}

	h.startSession(c, user, "password", http.StatusCreated)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.local.Authenticate(requestContext(c), providers.AuthenticateInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("password", "failure").Inc()
		response.Error(c, mapProviderError(err))
		return
	}

	h.startSession(c, user, "password", http.StatusOK)
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, session, err := h.sessions.RefreshSession(requestContext(c), req.RefreshToken)
	if err != nil {
		response.Error(c, mapSessionError(err))
		return
	}

	response.Success(c, http.StatusOK, sessionResponse{TokenPair: pair, User: session.User})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	if sessionID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	if err := h.sessions.RevokeSession(requestContext(c), sessionID); err != nil && !stdErrors.Is(err, iauth.ErrSessionNotFound) {
		response.Error(c, mapSessionError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/auth/verify-email
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req tokenRequest
	if !bindAndValidate(c, &req) {
		return
	}
	user, err := h.accounts.VerifyEmail(requestContext(c), req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/auth/verify-email/resend
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.accounts.ResendVerification(requestContext(c), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"sent": true})
}

// POST /api/auth/forgot-password always answers 202 so it never reveals whether an address is registered.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.accounts.RequestPasswordReset(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"sent": true})
}

// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}
	ctx := requestContext(c)

	user, err := h.accounts.ResetPassword(ctx, req.Token, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.sessions.RevokeUserSessions(ctx, user.ID); err != nil {
		response.Error(c, errors.Wrap(err, "Failed to revoke sessions"))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

// POST /api/auth/magic-link
func (h *AuthHandler) RequestMagicLink(c *gin.Context) {
	var req emailRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.accounts.RequestMagicLink(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"sent": true})
}

// POST /api/auth/magic-link/consume
func (h *AuthHandler) ConsumeMagicLink(c *gin.Context) {
	var req tokenRequest
	if !bindAndValidate(c, &req) {
		return
	}
	user, created, err := h.accounts.ConsumeMagicLink(requestContext(c), strings.TrimSpace(req.Token))
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("magic_link", "failure").Inc()
		response.Error(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.startSession(c, user, "magic_link", status)
}

func (h *AuthHandler) startSession(c *gin.Context, user *models.User, method string, status int) {
	pair, _, err := h.sessions.CreateSession(requestContext(c), user, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues(method, "failure").Inc()
		response.Error(c, errors.Wrap(err, "Failed to create session"))
		return
	}
	metrics.AuthAttempts.WithLabelValues(method, "success").Inc()

	response.Success(c, status, sessionResponse{TokenPair: pair, User: user})
}

func mapProviderError(err error) error {
	switch {
	case stdErrors.Is(err, providers.ErrInvalidCredentials):
		return errors.ErrInvalidCredentials
	case stdErrors.Is(err, providers.ErrAccountLocked):
		return errAccountLocked
	case stdErrors.Is(err, providers.ErrAccountDisabled):
		return errAccountDisabled
	case stdErrors.Is(err, providers.ErrEmailNotVerified):
		return errors.ErrEmailNotVerified
	default:
		return errors.Wrap(err, "Authentication failed")
	}
}

func mapSessionError(err error) error {
	switch {
	case stdErrors.Is(err, iauth.ErrSessionNotFound),
		stdErrors.Is(err, iauth.ErrSessionRevoked),
		stdErrors.Is(err, iauth.ErrSessionExpired),
		stdErrors.Is(err, iauth.ErrSessionInvalidToken):
		return errSessionInvalid
	default:
		return errors.Wrap(err, "Session operation failed")
	}
}
