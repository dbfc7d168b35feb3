package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// InvitationStatus is the state of a partner invitation.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "PENDING"
	InvitationAccepted  InvitationStatus = "ACCEPTED"
	InvitationDeclined  InvitationStatus = "DECLINED"
	InvitationExpired   InvitationStatus = "EXPIRED"
	InvitationCancelled InvitationStatus = "CANCELLED"
)

var validInvitationStatuses = map[InvitationStatus]struct{}{
	InvitationPending:   {},
	InvitationAccepted:  {},
	InvitationDeclined:  {},
	InvitationExpired:   {},
	InvitationCancelled: {},
}

// IsTerminal reports whether no transition may leave s.
func (s InvitationStatus) IsTerminal() bool {
	return s != InvitationPending
}

// PartnerInvitation is an offer from Sender to pair with whoever owns Email.
type PartnerInvitation struct {
	BaseModel

	SenderID    string           `gorm:"type:uuid;not null;index:idx_partner_invitation_sender_email,priority:1" json:"sender_id"`
	Email       string           `gorm:"not null;index:idx_partner_invitation_sender_email,priority:2" json:"email"`
	ReceiverID  *string          `gorm:"type:uuid;index" json:"receiver_id"`
	TokenHash   string           `gorm:"uniqueIndex;not null" json:"-"`
	Message     string           `gorm:"type:text" json:"message,omitempty"`
	Status      InvitationStatus `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	ExpiresAt   time.Time        `gorm:"index" json:"expires_at"`
	RespondedAt *time.Time       `json:"responded_at"`

	Sender   *User `gorm:"foreignKey:SenderID;constraint:OnDelete:CASCADE" json:"sender,omitempty"`
	Receiver *User `gorm:"foreignKey:ReceiverID;constraint:OnDelete:SET NULL" json:"receiver,omitempty"`
}

// BeforeSave normalises the target email and rejects unknown states.
func (p *PartnerInvitation) BeforeSave(tx *gorm.DB) error {
	p.Email = NormalizeEmail(p.Email)
	if p.Status == "" {
		p.Status = InvitationPending
	}
	if _, ok := validInvitationStatuses[p.Status]; !ok {
		return fmt.Errorf("partner_invitation: invalid status %q", p.Status)
	}
	return nil
}

// ExpiredAt reports whether the invitation is past its expiry at now.
func (p *PartnerInvitation) ExpiredAt(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
