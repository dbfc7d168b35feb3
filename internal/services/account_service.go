package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/pkg/logger"
	"github.com/charlesng35/duocal/pkg/mail"
)

// AccountService runs the emailed-link flows: verification, password reset and magic link sign-in.
type AccountService struct {
	users   *UserService
	tokens  *AuthTokenService
	mailer  mail.Mailer
	baseURL string
	log     *zap.Logger
}

// NewAccountService wires the account flows.
func NewAccountService(users *UserService, tokens *AuthTokenService, mailer mail.Mailer, baseURL string) (*AccountService, error) {
	if users == nil {
		return nil, errors.New("account service: user service is required")
	}
	if tokens == nil {
		return nil, errors.New("account service: token service is required")
	}
	return &AccountService{
		users:   users,
		tokens:  tokens,
		mailer:  mailer,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		log:     logger.WithModule("account"),
	}, nil
}

// SendVerification issues a verification token and mails the link.
func (s *AccountService) SendVerification(ctx context.Context, user *models.User) (string, error) {
	if user == nil {
		return "", errors.New("account service: user is required")
	}
	if user.EmailVerifiedAt != nil {
		return "", nil
	}
	raw, token, err := s.tokens.Issue(ctx, models.TokenEmailVerification, user.Email, &user.ID)
	if err != nil {
		return "", err
	}
	link := s.link("/verify-email", raw)
	msg, err := mail.EmailVerification(user.Email, mail.LinkData{Name: user.DisplayName(), Link: link, ExpiresAt: token.ExpiresAt})
	if err != nil {
		return "", fmt.Errorf("account service: render verification: %w", err)
	}
	return raw, s.send(ctx, msg)
}

// ResendVerification re-sends the link to an unverified account.
func (s *AccountService) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.SendVerification(ctx, user)
	return err
}

// VerifyEmail consumes a verification token and marks the account verified.
func (s *AccountService) VerifyEmail(ctx context.Context, raw string) (*models.User, error) {
	token, err := s.tokens.Consume(ctx, models.TokenEmailVerification, raw)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindByEmail(ctx, token.Email)
	if err != nil {
		return nil, err
	}
	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, user.ID)
}

// RequestPasswordReset mails a reset link. Unknown addresses succeed silently.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	raw, token, err := s.tokens.Issue(ctx, models.TokenPasswordReset, user.Email, &user.ID)
	if err != nil {
		return err
	}
	msg, err := mail.PasswordReset(user.Email, mail.LinkData{
		Name:      user.DisplayName(),
		Link:      s.link("/reset-password", raw),
		ExpiresAt: token.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("account service: render reset: %w", err)
	}
	return s.send(ctx, msg)
}

// ResetPassword consumes a reset token and stores the new password. It
// returns the user so callers can revoke existing sessions.
func (s *AccountService) ResetPassword(ctx context.Context, raw, password string) (*models.User, error) {
	token, err := s.tokens.Consume(ctx, models.TokenPasswordReset, raw)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindByEmail(ctx, token.Email)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetPassword(ctx, user.ID, password); err != nil {
		return nil, err
	}
	// Following a link proves ownership of the address.
	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return nil, err
	}
	s.log.Info("password reset", zap.String("user_id", user.ID))
	return user, nil
}

// RequestMagicLink mails a one-time sign-in link. The account is created when the link is used.
func (s *AccountService) RequestMagicLink(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if email == "" {
		return errors.New("account service: email is required")
	}
	var userID *string
	if user, err := s.users.FindByEmail(ctx, email); err == nil {
		userID = &user.ID
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	raw, token, err := s.tokens.Issue(ctx, models.TokenMagicLink, email, userID)
	if err != nil {
		return err
	}
	msg, err := mail.MagicLink(email, mail.LinkData{Link: s.link("/auth/magic", raw), ExpiresAt: token.ExpiresAt})
	if err != nil {
		return fmt.Errorf("account service: render magic link: %w", err)
	}
	return s.send(ctx, msg)
}

// ConsumeMagicLink signs a user in through a magic link, creating the account on first use.
func (s *AccountService) ConsumeMagicLink(ctx context.Context, raw string) (*models.User, bool, error) {
	token, err := s.tokens.Consume(ctx, models.TokenMagicLink, raw)
	if err != nil {
		return nil, false, err
	}
	user, created, err := s.users.FindOrCreatePasswordless(ctx, token.Email)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info("account created from magic link", zap.String("user_id", user.ID))
	}
	return user, created, nil
}

func (s *AccountService) link(path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", s.baseURL, path, url.QueryEscape(token))
}

func (s *AccountService) send(ctx context.Context, msg mail.Message) error {
	if s.mailer == nil {
		return nil
	}
	if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return fmt.Errorf("account service: send email: %w", err)
	}
	return nil
}
