package database

import (
	"fmt"

	"gorm.io/gorm"
)

const pendingInvitationIndex = "idx_partner_invitation_one_pending"

// ensurePendingInvitationIndex backs the one-pending-invitation-per-pair rule
// with a partial unique index. MySQL has no partial indexes and relies on the
// transactional check in the partner service alone.
func ensurePendingInvitationIndex(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "sqlite", "postgres":
	default:
		return nil
	}

	stmt := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON partner_invitations (sender_id, email) WHERE status = 'PENDING'",
		pendingInvitationIndex,
	)
	return db.Exec(stmt).Error
}
