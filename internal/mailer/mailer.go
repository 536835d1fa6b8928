// Package mailer delivers the password reset links issued by the identity
// service.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Mailer sends a password reset link to an account's email address.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

// SMTP sends plain-text mail through a relay. Credentials are optional; when
// set the relay must offer PLAIN auth over TLS.
type SMTP struct {
	addr string
	host string
	from string
	auth smtp.Auth
	now  func() time.Time

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(host, port, username, password, from string) *SMTP {
	m := &SMTP{
		addr: net.JoinHostPort(host, port),
		host: host,
		from: from,
		now:  time.Now,
		send: smtp.SendMail,
	}
	if username != "" {
		m.auth = smtp.PlainAuth("", username, password, host)
	}
	return m
}

func (m *SMTP) SendPasswordReset(ctx context.Context, to, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("mailer: invalid recipient %q", to)
	}
	msg := passwordResetMessage(m.from, to, link, m.now())
	if err := m.send(m.addr, m.auth, m.from, []string{to}, msg); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", m.host, err)
	}
	return nil
}

func passwordResetMessage(from, to, link string, date time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Date: %s\r\n", date.UTC().Format(time.RFC1123Z))
	b.WriteString("Subject: Reset your password\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString("Follow this link to choose a new password:\r\n\r\n")
	b.WriteString(link + "\r\n\r\n")
	b.WriteString("If you did not ask to reset your password, ignore this email.\r\n")
	return []byte(b.String())
}

// Log writes reset links to the logger instead of mailing them. It is the
// development fallback when no SMTP relay is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (m *Log) SendPasswordReset(ctx context.Context, to, link string) error {
	m.logger.InfoContext(ctx, "Password reset link issued", "to", to, "link", link)
	return nil
}
