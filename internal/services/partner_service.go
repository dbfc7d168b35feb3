package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/pkg/crypto"
	apperrors "github.com/charlesng35/duocal/pkg/errors"
	"github.com/charlesng35/duocal/pkg/logger"
	"github.com/charlesng35/duocal/pkg/mail"
	"github.com/charlesng35/duocal/pkg/metrics"
)

const (
	defaultInvitationTTL        = 7 * 24 * time.Hour
	defaultInvitationTokenBytes = 32
)

// PartnerConfig is the explicit configuration of the pairing engine.
type PartnerConfig struct {
	// AllowedEmails restricts who may be invited. Empty allows everyone.
	AllowedEmails []string
	InvitationTTL time.Duration
	TokenBytes    int
	// BaseURL is the public web origin used to build invitation links.
	BaseURL string
}

// PartnerOption customises the PartnerService.
type PartnerOption func(*PartnerService)

// WithPartnerClock injects a custom time source.
func WithPartnerClock(clock func() time.Time) PartnerOption {
	return func(s *PartnerService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithPartnerNotifier sets the in-app notification sink.
func WithPartnerNotifier(notifier Notifier) PartnerOption {
	return func(s *PartnerService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithPartnerLogger overrides the module logger.
func WithPartnerLogger(log *zap.Logger) PartnerOption {
	return func(s *PartnerService) {
		if log != nil {
			s.log = log
		}
	}
}

// PartnerService links two accounts through invitations and dissolves the link again.
//
// Every operation runs in a single transaction. Rows are read with FOR UPDATE
// and every state change is a conditional update whose affected row count is
// checked, so the partner_id pair and the invitation status move together or
// not at all.
type PartnerService struct {
	db       *gorm.DB
	mailer   mail.Mailer
	cfg      PartnerConfig
	allowed  map[string]struct{}
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// InviteInput captures the data needed to invite a partner.
type InviteInput struct {
	SenderID string
	Email    string
	Message  string
}

// InviteResult describes a created invitation. Token and Link are what the
// invitation email carried; the HTTP layer never returns them to the sender.
type InviteResult struct {
	InvitationID string    `json:"id"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"expires_at"`
	Token        string    `json:"-"`
	Link         string    `json:"-"`
}

// InvitationView is the landing page representation of an invitation.
type InvitationView struct {
	ID          string                  `json:"id"`
	Email       string                  `json:"email"`
	Message     string                  `json:"message,omitempty"`
	Status      models.InvitationStatus `json:"status"`
	ExpiresAt   time.Time               `json:"expires_at"`
	CreatedAt   time.Time               `json:"created_at"`
	RespondedAt *time.Time              `json:"responded_at,omitempty"`
	Sender      models.PublicProfile    `json:"sender"`
}

// AcceptResult reports the newly linked partner.
type AcceptResult struct {
	Partner models.PublicProfile `json:"partner"`
}

// UnlinkResult summarises the cascade.
type UnlinkResult struct {
	FormerPartnerID string `json:"former_partner_id"`
	TodosUnshared   int64  `json:"todos_unshared"`
	EventsPrivate   int64  `json:"events_made_private"`
}

// PartnerOverview is the partner page: the current partner and live invitations.
type PartnerOverview struct {
	Partner  *models.PublicProfile `json:"partner"`
	Sent     []InvitationView      `json:"sent"`
	Received []InvitationView      `json:"received"`
}

// LinkViolation describes a partner_id that is not reciprocated.
type LinkViolation struct {
	UserID    string  `json:"user_id"`
	PartnerID string  `json:"partner_id"`
	BackRef   *string `json:"back_ref"`
}

// NewPartnerService constructs the pairing engine.
func NewPartnerService(db *gorm.DB, mailer mail.Mailer, cfg PartnerConfig, opts ...PartnerOption) (*PartnerService, error) {
	if db == nil {
		return nil, errors.New("partner service: db is required")
	}
	if cfg.InvitationTTL <= 0 {
		cfg.InvitationTTL = defaultInvitationTTL
	}
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = defaultInvitationTokenBytes
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	service := &PartnerService{
		db:       db,
		mailer:   mailer,
		cfg:      cfg,
		allowed:  make(map[string]struct{}, len(cfg.AllowedEmails)),
		notifier: noopNotifier{},
		log:      logger.WithModule("partner"),
		now:      time.Now,
	}
	for _, email := range cfg.AllowedEmails {
		if email = models.NormalizeEmail(email); email != "" {
			service.allowed[email] = struct{}{}
		}
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Invite creates a pending invitation from the sender to an email address and mails the link.
func (s *PartnerService) Invite(ctx context.Context, input InviteInput) (result *InviteResult, err error) {
	ctx = ensureContext(ctx)
	defer func() { recordTransition("invite", err) }()

	senderID := strings.TrimSpace(input.SenderID)
	if senderID == "" {
		return nil, ErrPartnerUnauthenticated
	}
	email := models.NormalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}

	rawToken, tokenHash, err := crypto.NewHashedToken(s.cfg.TokenBytes)
	if err != nil {
		return nil, fmt.Errorf("partner service: generate token: %w", err)
	}

	now := s.now().UTC()
	var (
		invitation models.PartnerInvitation
		sender     models.User
		targetID   string
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, senderID, &sender); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPartnerUnauthenticated
			}
			return fmt.Errorf("partner service: load sender: %w", err)
		}
		if sender.HasPartner() {
			return ErrAlreadyPartnered
		}
		if email == sender.Email {
			return ErrSelfInvitation
		}
		if !s.emailAllowed(email) {
			return ErrInviteeNotAllowed
		}

		var target models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("email = ?", email).
			Take(&target).Error
		switch {
		case err == nil:
			if target.HasPartner() {
				return ErrTargetAlreadyPartnered
			}
			targetID = target.ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("partner service: load target: %w", err)
		}

		var live int64
		if err := tx.Model(&models.PartnerInvitation{}).
			Where("sender_id = ? AND email = ? AND status = ? AND expires_at > ?",
				sender.ID, email, models.InvitationPending, now).
			Count(&live).Error; err != nil {
			return fmt.Errorf("partner service: check pending: %w", err)
		}
		if live > 0 {
			return ErrDuplicateInvitation
		}

		// Whatever is still PENDING for this pair is past its expiry and is superseded.
		if err := bulk(tx).Model(&models.PartnerInvitation{}).
			Where("sender_id = ? AND email = ? AND status = ?", sender.ID, email, models.InvitationPending).
			Update("status", models.InvitationCancelled).Error; err != nil {
			return fmt.Errorf("partner service: supersede pending: %w", err)
		}

		invitation = models.PartnerInvitation{
			SenderID:  sender.ID,
			Email:     email,
			TokenHash: tokenHash,
			Message:   strings.TrimSpace(input.Message),
			Status:    models.InvitationPending,
			ExpiresAt: now.Add(s.cfg.InvitationTTL),
		}
		if err := tx.Create(&invitation).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrDuplicateInvitation
			}
			return fmt.Errorf("partner service: create invitation: %w", err)
		}

		// Delivery happens before commit so a failed send leaves nothing behind.
		return s.deliverInvitation(ctx, &sender, &invitation, rawToken)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("partner invitation created",
		zap.String("invitation_id", invitation.ID),
		zap.String("sender_id", sender.ID),
	)

	if targetID != "" {
		s.notifier.Notify(ctx, CreateNotificationInput{
			UserID:    targetID,
			Type:      models.NotificationPartnerInvitation,
			Title:     fmt.Sprintf("%s invited you to share a calendar", sender.DisplayName()),
			Message:   invitation.Message,
			ActionURL: s.invitationPath(rawToken),
			Metadata:  map[string]any{"invitation_id": invitation.ID, "sender_id": sender.ID},
		})
	}

	return &InviteResult{
		InvitationID: invitation.ID,
		Email:        invitation.Email,
		ExpiresAt:    invitation.ExpiresAt,
		Token:        rawToken,
		Link:         s.invitationLink(rawToken),
	}, nil
}

// GetInvitation returns the invitation behind a token. A pending invitation
// past its expiry is moved to EXPIRED as part of the read.
func (s *PartnerService) GetInvitation(ctx context.Context, token string) (*InvitationView, error) {
	ctx = ensureContext(ctx)

	var (
		invitation models.PartnerInvitation
		sender     models.User
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := findInvitationByToken(tx, token, &invitation); err != nil {
			return err
		}
		if err := s.ensureNotExpired(tx, &invitation); err != nil && !errors.Is(err, ErrInvitationExpired) {
			return err
		}
		if err := tx.Where("id = ?", invitation.SenderID).Take(&sender).Error; err != nil {
			return fmt.Errorf("partner service: load sender: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invitation.Sender = &sender
	view := mapInvitationView(invitation)
	return &view, nil
}

// Accept links the responder and the invitation's sender.
func (s *PartnerService) Accept(ctx context.Context, responderID, token string) (result *AcceptResult, err error) {
	ctx = ensureContext(ctx)
	defer func() { recordTransition("accept", err) }()

	responderID = strings.TrimSpace(responderID)
	if responderID == "" {
		return nil, ErrPartnerUnauthenticated
	}

	var (
		responder  models.User
		sender     models.User
		invitation models.PartnerInvitation
		outcome    error
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, responderID, &responder); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPartnerUnauthenticated
			}
			return fmt.Errorf("partner service: load responder: %w", err)
		}
		if err := findInvitationByToken(tx, token, &invitation); err != nil {
			return err
		}
		if err := s.ensureNotExpired(tx, &invitation); err != nil {
			if errors.Is(err, ErrInvitationExpired) {
				outcome = err
				return nil
			}
			return err
		}
		if invitation.Status != models.InvitationPending {
			return ErrInvitationResolved
		}
		if !strings.EqualFold(invitation.Email, responder.Email) {
			return ErrWrongRecipient
		}
		if responder.HasPartner() {
			return ErrAlreadyPartnered
		}

		err := lockUser(tx, invitation.SenderID, &sender)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("partner service: load sender: %w", err)
		}
		senderFree := err == nil && !sender.HasPartner()
		if senderFree {
			linked, err := claimPartner(tx, sender.ID, responder.ID)
			if err != nil {
				return err
			}
			senderFree = linked
		}
		if !senderFree {
			if err := transitionInvitation(tx, invitation.ID, models.InvitationCancelled, nil); err != nil {
				return err
			}
			outcome = ErrSenderRaceLost
			return nil
		}

		linked, err := claimPartner(tx, responder.ID, sender.ID)
		if err != nil {
			return err
		}
		if !linked {
			return ErrAlreadyPartnered
		}

		now := s.now().UTC()
		if err := transitionInvitation(tx, invitation.ID, models.InvitationAccepted, map[string]any{
			"receiver_id":  responder.ID,
			"responded_at": now,
		}); err != nil {
			return err
		}

		if err := bulk(tx).Model(&models.PartnerInvitation{}).
			Where("id <> ? AND status = ?", invitation.ID, models.InvitationPending).
			Where("(sender_id IN ? OR email IN ?)",
				[]string{sender.ID, responder.ID},
				[]string{sender.Email, responder.Email}).
			Update("status", models.InvitationCancelled).Error; err != nil {
			return fmt.Errorf("partner service: cancel other invitations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}

	s.log.Info("partner invitation accepted",
		zap.String("invitation_id", invitation.ID),
		zap.String("sender_id", sender.ID),
		zap.String("responder_id", responder.ID),
	)

	s.notifier.Notify(ctx, CreateNotificationInput{
		UserID:   sender.ID,
		Type:     models.NotificationPartnerAccepted,
		Title:    fmt.Sprintf("%s accepted your invitation", responder.DisplayName()),
		Metadata: map[string]any{"partner_id": responder.ID},
	})

	return &AcceptResult{Partner: sender.Profile()}, nil
}

// Decline rejects an invitation addressed to the responder.
func (s *PartnerService) Decline(ctx context.Context, responderID, token string) (err error) {
	ctx = ensureContext(ctx)
	defer func() { recordTransition("decline", err) }()

	responderID = strings.TrimSpace(responderID)
	if responderID == "" {
		return ErrPartnerUnauthenticated
	}

	var (
		responder  models.User
		invitation models.PartnerInvitation
		outcome    error
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", responderID).Take(&responder).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPartnerUnauthenticated
			}
			return fmt.Errorf("partner service: load responder: %w", err)
		}
		if err := findInvitationByToken(tx, token, &invitation); err != nil {
			return err
		}
		if err := s.ensureNotExpired(tx, &invitation); err != nil {
			if errors.Is(err, ErrInvitationExpired) {
				outcome = err
				return nil
			}
			return err
		}
		if invitation.Status != models.InvitationPending {
			return ErrInvitationResolved
		}
		if !strings.EqualFold(invitation.Email, responder.Email) {
			return ErrWrongRecipient
		}
		return transitionInvitation(tx, invitation.ID, models.InvitationDeclined, map[string]any{
			"receiver_id":  responder.ID,
			"responded_at": s.now().UTC(),
		})
	})
	if err != nil {
		return err
	}
	if outcome != nil {
		return outcome
	}

	s.log.Info("partner invitation declined", zap.String("invitation_id", invitation.ID))
	s.notifier.Notify(ctx, CreateNotificationInput{
		UserID: invitation.SenderID,
		Type:   models.NotificationPartnerDeclined,
		Title:  fmt.Sprintf("%s declined your invitation", responder.DisplayName()),
	})
	return nil
}

// CancelInvitation withdraws a pending invitation. Only its sender may do so;
// anyone else gets ErrInvitationNotFound.
func (s *PartnerService) CancelInvitation(ctx context.Context, senderID, invitationID string) (err error) {
	ctx = ensureContext(ctx)
	defer func() { recordTransition("cancel", err) }()

	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return ErrPartnerUnauthenticated
	}

	var outcome error
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invitation models.PartnerInvitation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND sender_id = ?", strings.TrimSpace(invitationID), senderID).
			Take(&invitation).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvitationNotFound
			}
			return fmt.Errorf("partner service: load invitation: %w", err)
		}
		if err := s.ensureNotExpired(tx, &invitation); err != nil {
			if errors.Is(err, ErrInvitationExpired) {
				outcome = err
				return nil
			}
			return err
		}
		if invitation.Status != models.InvitationPending {
			return ErrInvitationResolved
		}
		return transitionInvitation(tx, invitation.ID, models.InvitationCancelled, nil)
	})
	if err != nil {
		return err
	}
	return outcome
}

// Unlink dissolves the user's partnership. Shared todos become personal and
// lose their assignee, SHARED events become PRIVATE; BUSY_ONLY is kept.
func (s *PartnerService) Unlink(ctx context.Context, userID string) (result *UnlinkResult, err error) {
	ctx = ensureContext(ctx)
	defer func() { recordTransition("unlink", err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrPartnerUnauthenticated
	}

	result = &UnlinkResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := lockUser(tx, userID, &user); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPartnerUnauthenticated
			}
			return fmt.Errorf("partner service: load user: %w", err)
		}
		if !user.HasPartner() {
			return ErrNoPartner
		}
		partnerID := *user.PartnerID

		var partner models.User
		if err := lockUser(tx, partnerID, &partner); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("partner service: load partner: %w", err)
		}

		cleared := bulk(tx).Model(&models.User{}).
			Where("id = ? AND partner_id = ?", user.ID, partnerID).
			Update("partner_id", nil)
		if cleared.Error != nil {
			return fmt.Errorf("partner service: clear user link: %w", cleared.Error)
		}
		if cleared.RowsAffected != 1 {
			return ErrNoPartner
		}

		back := bulk(tx).Model(&models.User{}).
			Where("id = ? AND partner_id = ?", partnerID, user.ID).
			Update("partner_id", nil)
		if back.Error != nil {
			return fmt.Errorf("partner service: clear partner link: %w", back.Error)
		}
		if back.RowsAffected != 1 {
			s.log.Warn("partner link was not reciprocated", zap.String("user_id", user.ID), zap.String("partner_id", partnerID))
		}

		owners := []string{user.ID, partnerID}
		todos := bulk(tx).Model(&models.Todo{}).
			Where("owner_id IN ? AND (is_shared = ? OR assignee_id IS NOT NULL)", owners, true).
			Updates(map[string]any{"is_shared": false, "assignee_id": nil})
		if todos.Error != nil {
			return fmt.Errorf("partner service: unshare todos: %w", todos.Error)
		}

		events := bulk(tx).Model(&models.Event{}).
			Where("owner_id IN ? AND visibility = ?", owners, models.VisibilityShared).
			Update("visibility", models.VisibilityPrivate)
		if events.Error != nil {
			return fmt.Errorf("partner service: privatise events: %w", events.Error)
		}

		result.FormerPartnerID = partnerID
		result.TodosUnshared = todos.RowsAffected
		result.EventsPrivate = events.RowsAffected
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("partnership dissolved",
		zap.String("user_id", userID),
		zap.String("partner_id", result.FormerPartnerID),
		zap.Int64("todos_unshared", result.TodosUnshared),
		zap.Int64("events_made_private", result.EventsPrivate),
	)
	s.notifier.Notify(ctx, CreateNotificationInput{
		UserID:   result.FormerPartnerID,
		Type:     models.NotificationPartnerUnlinked,
		Title:    "Your partner ended the calendar sharing",
		Metadata: map[string]any{"partner_id": userID},
	})
	return result, nil
}

// Overview returns the user's partner and their live sent and received invitations.
func (s *PartnerService) Overview(ctx context.Context, userID string) (*PartnerOverview, error) {
	ctx = ensureContext(ctx)

	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPartnerUnauthenticated
		}
		return nil, fmt.Errorf("partner service: load user: %w", err)
	}

	overview := &PartnerOverview{Sent: []InvitationView{}, Received: []InvitationView{}}
	if user.HasPartner() {
		var partner models.User
		if err := s.db.WithContext(ctx).Where("id = ?", *user.PartnerID).Take(&partner).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("partner service: load partner: %w", err)
			}
		} else {
			profile := partner.Profile()
			overview.Partner = &profile
		}
	}

	now := s.now().UTC()
	live := func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND expires_at > ?", models.InvitationPending, now).
			Preload("Sender").
			Order("created_at DESC")
	}

	var sent, received []models.PartnerInvitation
	if err := s.db.WithContext(ctx).Scopes(live).Where("sender_id = ?", user.ID).Find(&sent).Error; err != nil {
		return nil, fmt.Errorf("partner service: list sent: %w", err)
	}
	if err := s.db.WithContext(ctx).Scopes(live).Where("email = ?", user.Email).Find(&received).Error; err != nil {
		return nil, fmt.Errorf("partner service: list received: %w", err)
	}
	for _, inv := range sent {
		overview.Sent = append(overview.Sent, mapInvitationView(inv))
	}
	for _, inv := range received {
		overview.Received = append(overview.Received, mapInvitationView(inv))
	}
	return overview, nil
}

// ExpireStale moves every pending invitation past its expiry to EXPIRED.
func (s *PartnerService) ExpireStale(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	result := bulk(s.db.WithContext(ctx)).Model(&models.PartnerInvitation{}).
		Scopes(stalePending(s.now().UTC())).
		Update("status", models.InvitationExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("partner service: expire invitations: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CheckConsistency lists every partner_id that does not point back at its owner.
func (s *PartnerService) CheckConsistency(ctx context.Context) ([]LinkViolation, error) {
	ctx = ensureContext(ctx)

	var rows []struct {
		ID        string
		PartnerID *string
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Select("id", "partner_id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("partner service: load links: %w", err)
	}

	links := make(map[string]*string, len(rows))
	for _, row := range rows {
		links[row.ID] = row.PartnerID
	}

	var violations []LinkViolation
	for _, row := range rows {
		if row.PartnerID == nil || *row.PartnerID == "" {
			continue
		}
		back, exists := links[*row.PartnerID]
		if exists && back != nil && *back == row.ID {
			continue
		}
		violations = append(violations, LinkViolation{
			UserID:    row.ID,
			PartnerID: *row.PartnerID,
			BackRef:   back,
		})
	}

	metrics.PartnerLinkViolations.Set(float64(len(violations)))
	return violations, nil
}

// ensureNotExpired is the single expiry rule. A PENDING invitation whose
// expiry has passed is moved to EXPIRED; ErrInvitationExpired is returned
// whenever the invitation ends up EXPIRED.
func (s *PartnerService) ensureNotExpired(tx *gorm.DB, invitation *models.PartnerInvitation) error {
	if invitation.Status == models.InvitationPending && invitation.ExpiredAt(s.now().UTC()) {
		if err := bulk(tx).Model(&models.PartnerInvitation{}).
			Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
			Update("status", models.InvitationExpired).Error; err != nil {
			return fmt.Errorf("partner service: expire invitation: %w", err)
		}
		invitation.Status = models.InvitationExpired
	}
	if invitation.Status == models.InvitationExpired {
		return ErrInvitationExpired
	}
	return nil
}

func (s *PartnerService) emailAllowed(email string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	_, ok := s.allowed[email]
	return ok
}

func (s *PartnerService) deliverInvitation(ctx context.Context, sender *models.User, invitation *models.PartnerInvitation, rawToken string) error {
	if s.mailer == nil {
		return nil
	}
	message, err := mail.PartnerInvitation(invitation.Email, mail.InvitationData{
		InviterName:  sender.DisplayName(),
		InviterEmail: sender.Email,
		Note:         invitation.Message,
		Link:         s.invitationLink(rawToken),
		ExpiresAt:    invitation.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("partner service: render invitation: %w", err)
	}
	if err := s.mailer.Send(ctx, message); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return ErrInvitationDelivery.WithInternal(err)
	}
	return nil
}

func (s *PartnerService) invitationPath(token string) string {
	return "/partner/invite/" + token
}

func (s *PartnerService) invitationLink(token string) string {
	return s.cfg.BaseURL + s.invitationPath(token)
}

func stalePending(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND expires_at <= ?", models.InvitationPending, now)
	}
}

func lockUser(tx *gorm.DB, id string, user *models.User) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(user).Error
}

func findInvitationByToken(tx *gorm.DB, token string, invitation *models.PartnerInvitation) error {
	hash, err := crypto.HashToken(token)
	if err != nil {
		return ErrInvitationNotFound
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token_hash = ?", hash).
		Take(invitation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvitationNotFound
		}
		return fmt.Errorf("partner service: load invitation: %w", err)
	}
	return nil
}

// claimPartner sets userID's partner only while it has none.
func claimPartner(tx *gorm.DB, userID, partnerID string) (bool, error) {
	result := bulk(tx).Model(&models.User{}).
		Where("id = ? AND partner_id IS NULL", userID).
		Update("partner_id", partnerID)
	if result.Error != nil {
		return false, fmt.Errorf("partner service: link %s: %w", userID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// transitionInvitation moves a PENDING invitation to status. It reports
// ErrInvitationResolved when another transaction got there first.
func transitionInvitation(tx *gorm.DB, id string, status models.InvitationStatus, extra map[string]any) error {
	values := map[string]any{"status": status}
	for key, value := range extra {
		values[key] = value
	}
	result := bulk(tx).Model(&models.PartnerInvitation{}).
		Where("id = ? AND status = ?", id, models.InvitationPending).
		Updates(values)
	if result.Error != nil {
		return fmt.Errorf("partner service: set invitation %s: %w", status, result.Error)
	}
	if result.RowsAffected != 1 {
		return ErrInvitationResolved
	}
	return nil
}

func mapInvitationView(inv models.PartnerInvitation) InvitationView {
	view := InvitationView{
		ID:          inv.ID,
		Email:       inv.Email,
		Message:     inv.Message,
		Status:      inv.Status,
		ExpiresAt:   inv.ExpiresAt,
		CreatedAt:   inv.CreatedAt,
		RespondedAt: inv.RespondedAt,
	}
	if inv.Sender != nil {
		view.Sender = inv.Sender.Profile()
	}
	return view
}

func recordTransition(operation string, err error) {
	outcome := "ok"
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			outcome = strings.ToLower(appErr.Code)
		} else {
			outcome = "error"
		}
	}
	metrics.PartnerTransitions.WithLabelValues(operation, outcome).Inc()
}
