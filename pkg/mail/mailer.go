package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// ErrSMTPDisabled signals that SMTP delivery is disabled via configuration.
var ErrSMTPDisabled = errors.New("smtp: delivery disabled")

// Message is an outbound plain-text email. From, ReplyTo and To accept
// RFC 5322 addresses with or without a display name.
type Message struct {
	From    string
	ReplyTo string
	To      []string
	Subject string
	Body    string
}

// Mailer delivers messages. Services treat ErrSMTPDisabled as a soft failure.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSettings capture the runtime configuration required by the SMTP mailer.
type SMTPSettings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Timeout  time.Duration
}

func (s SMTPSettings) address() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

func (s SMTPSettings) validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Host) == "" {
		return errors.New("smtp: host is required when enabled")
	}
	if s.Port == 0 {
		return errors.New("smtp: port is required when enabled")
	}
	if s.From != "" {
		if _, err := mail.ParseAddress(s.From); err != nil {
			return fmt.Errorf("smtp: invalid default sender: %w", err)
		}
	}
	return nil
}

// envelope holds the parsed parties of one message. SMTP commands use the
// bare addresses; headers use the full form.
type envelope struct {
	from       *mail.Address
	replyTo    *mail.Address
	recipients []*mail.Address
}

func newEnvelope(msg Message, fallbackFrom string) (envelope, error) {
	var env envelope

	raw := strings.TrimSpace(msg.From)
	if raw == "" {
		raw = strings.TrimSpace(fallbackFrom)
	}
	if raw == "" {
		return env, errors.New("smtp: sender address is required")
	}
	from, err := mail.ParseAddress(raw)
	if err != nil {
		return env, fmt.Errorf("smtp: invalid from address: %w", err)
	}
	env.from = from

	if raw := strings.TrimSpace(msg.ReplyTo); raw != "" {
		replyTo, err := mail.ParseAddress(raw)
		if err != nil {
			return env, fmt.Errorf("smtp: invalid reply-to address: %w", err)
		}
		env.replyTo = replyTo
	}

	seen := make(map[string]struct{}, len(msg.To))
	for _, raw := range msg.To {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		rcpt, err := mail.ParseAddress(raw)
		if err != nil {
			return env, fmt.Errorf("smtp: invalid recipient address %q: %w", raw, err)
		}
		key := strings.ToLower(rcpt.Address)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		env.recipients = append(env.recipients, rcpt)
	}
	if len(env.recipients) == 0 {
		return env, errors.New("smtp: at least one recipient is required")
	}
	return env, nil
}

// compose renders headers and body as a CRLF-terminated RFC 5322 message.
func (e envelope) compose(subject, body string, sentAt time.Time) []byte {
	to := make([]string, len(e.recipients))
	for i, rcpt := range e.recipients {
		to[i] = rcpt.String()
	}

	var buf bytes.Buffer
	header := func(name, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	}
	header("From", e.from.String())
	header("To", strings.Join(to, ", "))
	if e.replyTo != nil {
		header("Reply-To", e.replyTo.String())
	}
	header("Subject", mime.QEncoding.Encode("utf-8", singleLine(subject)))
	header("Date", sentAt.UTC().Format(time.RFC1123Z))
	header("Auto-Submitted", "auto-generated")
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	header("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")

	body = strings.ReplaceAll(body, "\r\n", "\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return buf.Bytes()
}

func singleLine(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

type smtpClient interface {
	Mail(string) error
	Rcpt(string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
	StartTLS(*tls.Config) error
	Auth(smtp.Auth) error
	Extension(string) (bool, string)
}

// dialer opens an authenticated session against the configured relay.
type dialer func(ctx context.Context, cfg SMTPSettings) (smtpClient, error)

type smtpMailer struct {
	cfg  SMTPSettings
	dial dialer
	now  func() time.Time
}

// NewSMTPMailer validates cfg and returns a Mailer. A disabled configuration
// yields a mailer whose Send always returns ErrSMTPDisabled.
func NewSMTPMailer(cfg SMTPSettings) (Mailer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &smtpMailer{cfg: cfg, dial: dialRelay, now: time.Now}, nil
}

func (m *smtpMailer) Send(ctx context.Context, msg Message) error {
	if !m.cfg.Enabled {
		return ErrSMTPDisabled
	}
	env, err := newEnvelope(msg, m.cfg.From)
	if err != nil {
		return err
	}
	payload := env.compose(msg.Subject, msg.Body, m.now())

	client, err := m.dial(ctx, m.cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(env.from.Address); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	for _, rcpt := range env.recipients {
		if err := client.Rcpt(rcpt.Address); err != nil {
			return fmt.Errorf("smtp: rcpt to %s: %w", rcpt.Address, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp: data command: %w", err)
	}
	if _, err := wc.Write(payload); err != nil {
		_ = wc.Close()
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp: close data writer: %w", err)
	}
	return client.Quit()
}

func dialRelay(ctx context.Context, cfg SMTPSettings) (smtpClient, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	address := cfg.address()
	netDialer := &net.Dialer{Timeout: cfg.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if cfg.UseTLS {
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: &tls.Config{ServerName: cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", address)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp: dial %s: %w", address, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp: new client: %w", err)
	}
	if err := startSession(client, cfg); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// startSession upgrades plain connections when the relay offers STARTTLS and
// authenticates when credentials are configured.
func startSession(client smtpClient, cfg SMTPSettings) error {
	if !cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				return fmt.Errorf("smtp: start tls: %w", err)
			}
		}
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return nil
	}
	if ok, _ := client.Extension("AUTH"); !ok {
		return errors.New("smtp: relay does not support AUTH")
	}
	if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
		return fmt.Errorf("smtp: auth: %w", err)
	}
	return nil
}
