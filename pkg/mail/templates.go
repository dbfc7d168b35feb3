package mail

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

var templates = template.Must(template.New("mail").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.UTC().Format("Mon 2 Jan 2006 15:04 MST") },
}).Parse(`
{{define "partner_invitation"}}Hi,

{{.InviterName}} ({{.InviterEmail}}) invited you to share a calendar on duocal.
{{if .Note}}
They wrote:
  {{.Note}}
{{end}}
Open the link below to accept or decline:
{{.Link}}

The invitation expires on {{date .ExpiresAt}}.
{{end}}

{{define "email_verification"}}Hi {{.Name}},

Confirm your email address to finish setting up your account:
{{.Link}}

The link expires on {{date .ExpiresAt}}.
{{end}}

{{define "password_reset"}}Hi {{.Name}},

Someone asked to reset the password of your duocal account. If it was you, open:
{{.Link}}

The link expires on {{date .ExpiresAt}}. You can ignore this email otherwise.
{{end}}

{{define "magic_link"}}Hi,

Use the link below to sign in to duocal:
{{.Link}}

The link expires on {{date .ExpiresAt}} and works once.
{{end}}

{{define "event_reminder"}}Hi {{.Name}},

Reminder: "{{.Title}}" starts on {{date .StartsAt}}.
{{end}}
`))

// InvitationData feeds the partner invitation email.
type InvitationData struct {
	InviterName  string
	InviterEmail string
	Note         string
	Link         string
	ExpiresAt    time.Time
}

// LinkData feeds the token link emails.
type LinkData struct {
	Name      string
	Link      string
	ExpiresAt time.Time
}

// ReminderData feeds the event reminder email.
type ReminderData struct {
	Name     string
	Title    string
	StartsAt time.Time
}

// PartnerInvitation renders the invitation sent to a target address.
// Replies go to the inviter rather than the service sender.
func PartnerInvitation(to string, data InvitationData) (Message, error) {
	if strings.TrimSpace(data.InviterName) == "" {
		data.InviterName = data.InviterEmail
	}
	msg, err := render("partner_invitation", to, fmt.Sprintf("%s invited you to share a calendar", data.InviterName), data)
	if err != nil {
		return Message{}, err
	}
	msg.ReplyTo = strings.TrimSpace(data.InviterEmail)
	return msg, nil
}

// EmailVerification renders the address confirmation email.
func EmailVerification(to string, data LinkData) (Message, error) {
	return render("email_verification", to, "Confirm your email address", data)
}

// PasswordReset renders the password reset email.
func PasswordReset(to string, data LinkData) (Message, error) {
	return render("password_reset", to, "Reset your password", data)
}

// MagicLink renders the passwordless sign-in email.
func MagicLink(to string, data LinkData) (Message, error) {
	return render("magic_link", to, "Your sign-in link", data)
}

// EventReminder renders a reminder for an upcoming event.
func EventReminder(to string, data ReminderData) (Message, error) {
	return render("event_reminder", to, fmt.Sprintf("Reminder: %s", data.Title), data)
}

func render(name, to, subject string, data any) (Message, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return Message{}, fmt.Errorf("mail: render %s: %w", name, err)
	}
	return Message{
		To:      []string{to},
		Subject: subject,
		Body:    strings.TrimLeft(buf.String(), "\n"),
	}, nil
}
