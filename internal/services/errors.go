package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/duocal/pkg/errors"
)

// Pairing errors. They are returned unwrapped so callers can match them with errors.Is.
var (
	ErrPartnerUnauthenticated = apperrors.New("PARTNER_UNAUTHENTICATED", "You must be signed in to manage a partnership", http.StatusUnauthorized)
	ErrAlreadyPartnered       = apperrors.New("ALREADY_PARTNERED", "You already have a partner", http.StatusConflict)
	ErrTargetAlreadyPartnered = apperrors.New("TARGET_ALREADY_PARTNERED", "This person already has a partner", http.StatusConflict)
	ErrSelfInvitation         = apperrors.New("SELF_INVITATION", "You cannot invite yourself", http.StatusBadRequest)
	ErrInviteeNotAllowed      = apperrors.New("INVITEE_NOT_ALLOWED", "This email address is not allowed to join", http.StatusForbidden)
	ErrDuplicateInvitation    = apperrors.New("DUPLICATE_INVITATION", "An invitation to this email is already pending", http.StatusConflict)
	ErrInvitationNotFound     = apperrors.New("INVITATION_NOT_FOUND", "Invitation not found", http.StatusNotFound)
	ErrWrongRecipient         = apperrors.New("WRONG_RECIPIENT", "This invitation was sent to a different email address", http.StatusForbidden)
	ErrInvitationResolved     = apperrors.New("INVITATION_RESOLVED", "This invitation has already been answered", http.StatusConflict)
	ErrInvitationExpired      = apperrors.New("INVITATION_EXPIRED", "This invitation has expired", http.StatusGone)
	ErrSenderRaceLost         = apperrors.New("SENDER_ALREADY_PARTNERED", "The inviter has already paired with someone else", http.StatusConflict)
	ErrInvitationDelivery     = apperrors.New("INVITATION_DELIVERY_FAILED", "The invitation email could not be sent", http.StatusBadGateway)
	ErrNoPartner              = apperrors.New("NO_PARTNER", "You do not have a partner", http.StatusBadRequest)
)

// Account errors.
var (
	ErrEmailInUse         = apperrors.New("EMAIL_IN_USE", "An account with this email already exists", http.StatusConflict)
	ErrTokenInvalid       = apperrors.New("TOKEN_INVALID", "The link is invalid or has already been used", http.StatusBadRequest)
	ErrTokenExpired       = apperrors.New("TOKEN_EXPIRED", "The link has expired", http.StatusGone)
	ErrAssigneeNotPartner = apperrors.New("ASSIGNEE_NOT_PARTNER", "Todos can only be assigned to your partner", http.StatusBadRequest)
	ErrAlreadyConverted   = apperrors.New("TODO_ALREADY_CONVERTED", "This todo has already been converted to an event", http.StatusConflict)
	ErrCategoryExists     = apperrors.New("CATEGORY_EXISTS", "A category with this name already exists", http.StatusConflict)
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}
