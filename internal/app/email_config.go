package app

import (
	"strings"

	"github.com/charlesng35/duocal/pkg/mail"
)

const defaultSender = "duocal <no-reply@duocal.local>"

// SMTPSettings converts EmailConfig to the mail package representation.
// Invitation and reminder mail always carries a From address, so an empty
// setting falls back to a local no-reply sender.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	from := strings.TrimSpace(c.SMTP.From)
	if from == "" {
		from = defaultSender
	}
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     strings.TrimSpace(c.SMTP.Host),
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     from,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}
