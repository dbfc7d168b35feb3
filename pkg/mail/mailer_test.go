package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordedSession struct {
	from       string
	recipients []string
	data       bytes.Buffer
	quit       bool
	closed     bool
	extensions map[string]bool
	authed     bool
	rcptErr    error
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (s *recordedSession) Mail(from string) error {
	s.from = from
	return nil
}

func (s *recordedSession) Rcpt(to string) error {
	if s.rcptErr != nil {
		return s.rcptErr
	}
	s.recipients = append(s.recipients, to)
	return nil
}

func (s *recordedSession) Data() (io.WriteCloser, error) { return nopWriteCloser{&s.data}, nil }

func (s *recordedSession) Quit() error {
	s.quit = true
	return nil
}

func (s *recordedSession) Close() error {
	s.closed = true
	return nil
}

func (s *recordedSession) StartTLS(*tls.Config) error { return nil }

func (s *recordedSession) Auth(smtp.Auth) error {
	s.authed = true
	return nil
}

func (s *recordedSession) Extension(name string) (bool, string) {
	return s.extensions[name], ""
}

func newRecordingMailer(t *testing.T, cfg SMTPSettings) (*smtpMailer, *recordedSession) {
	t.Helper()
	mailer, err := NewSMTPMailer(cfg)
	require.NoError(t, err)
	sm := mailer.(*smtpMailer)
	session := &recordedSession{}
	sm.dial = func(context.Context, SMTPSettings) (smtpClient, error) { return session, nil }
	sm.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return sm, session
}

func enabledSettings() SMTPSettings {
	return SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "duocal <no-reply@duocal.local>"}
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.ErrorContains(t, err, "port is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 25, From: "not an address"})
	require.ErrorContains(t, err, "invalid default sender")

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, mailer)
	require.Equal(t, 10*time.Second, mailer.(*smtpMailer).cfg.Timeout)
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"test@example.com"}, Subject: "Test", Body: "Hello"})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSMTPMailerUsesBareAddressesInEnvelope(t *testing.T) {
	mailer, session := newRecordingMailer(t, enabledSettings())

	err := mailer.Send(context.Background(), Message{
		ReplyTo: "Alice <alice@example.com>",
		To:      []string{"Bob <bob@example.com>", " BOB@example.com ", "carol@example.com"},
		Subject: "Alice invited you",
		Body:    "line one\nline two",
	})
	require.NoError(t, err)

	require.Equal(t, "no-reply@duocal.local", session.from)
	require.Equal(t, []string{"bob@example.com", "carol@example.com"}, session.recipients)
	require.True(t, session.quit)
	require.True(t, session.closed)

	raw := session.data.String()
	require.Contains(t, raw, "From: \"duocal\" <no-reply@duocal.local>\r\n")
	require.Contains(t, raw, "To: \"Bob\" <bob@example.com>, <carol@example.com>\r\n")
	require.Contains(t, raw, "Reply-To: \"Alice\" <alice@example.com>\r\n")
	require.Contains(t, raw, "Date: Fri, 02 Jan 2026 03:04:05 +0000\r\n")
	require.True(t, strings.HasSuffix(raw, "\r\n\r\nline one\r\nline two"), raw)
}

func TestSMTPMailerMessageSenderOverridesDefault(t *testing.T) {
	mailer, session := newRecordingMailer(t, enabledSettings())

	require.NoError(t, mailer.Send(context.Background(), Message{
		From: "ops@duocal.local",
		To:   []string{"bob@example.com"},
	}))
	require.Equal(t, "ops@duocal.local", session.from)
	require.NotContains(t, session.data.String(), "Reply-To:")
}

func TestComposeEncodesSubject(t *testing.T) {
	env, err := newEnvelope(Message{To: []string{"bob@example.com"}}, "no-reply@duocal.local")
	require.NoError(t, err)

	raw := string(env.compose("Zoë invited you\r\nBcc: x@example.com", "Body", time.Now()))
	require.Contains(t, raw, "Subject: =?utf-8?q?")
	require.NotContains(t, raw, "\r\nBcc:")

	raw = string(env.compose("Plain\nsubject", "Body", time.Now()))
	require.Contains(t, raw, "Subject: Plain subject\r\n")
}

func TestNewEnvelopeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		from string
		want string
	}{
		{name: "no sender", msg: Message{To: []string{"a@example.com"}}, want: "sender address is required"},
		{name: "bad sender", msg: Message{From: "invalid-from", To: []string{"a@example.com"}}, want: "invalid from address"},
		{name: "bad reply-to", msg: Message{ReplyTo: "nope", To: []string{"a@example.com"}}, from: "x@example.com", want: "invalid reply-to address"},
		{name: "bad recipient", msg: Message{To: []string{"a@example.com", "bad-address"}}, from: "x@example.com", want: "invalid recipient address"},
		{name: "blank recipients", msg: Message{To: []string{"   ", "\t"}}, from: "x@example.com", want: "at least one recipient"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newEnvelope(tc.msg, tc.from)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestSMTPMailerStopsOnRecipientRejection(t *testing.T) {
	mailer, session := newRecordingMailer(t, enabledSettings())
	session.rcptErr = errors.New("550 no such user")

	err := mailer.Send(context.Background(), Message{To: []string{"ghost@example.com"}})
	require.ErrorContains(t, err, "rcpt to ghost@example.com")
	require.Zero(t, session.data.Len())
	require.False(t, session.quit)
	require.True(t, session.closed)
}

func TestStartSessionAuthentication(t *testing.T) {
	cfg := enabledSettings()
	cfg.Username = "relay"
	cfg.Password = "secret"

	session := &recordedSession{extensions: map[string]bool{"AUTH": true}}
	require.NoError(t, startSession(session, cfg))
	require.True(t, session.authed)

	session = &recordedSession{}
	require.ErrorContains(t, startSession(session, cfg), "does not support AUTH")

	cfg.Username = ""
	session = &recordedSession{}
	require.NoError(t, startSession(session, cfg))
	require.False(t, session.authed)
}
