package config

import (
	"fmt"
	"mime"
	"net/smtp"
	"os"
	"strings"
)

// SMTPMailer sends multipart/alternative mail through a plain SMTP relay.
// Host, port, credentials and sender come from SMTP_* env vars; with no
// SMTP_HOST set the mailer is disabled and Send becomes a no-op, which
// keeps local development working without a relay.
type SMTPMailer struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewSMTPMailer() *SMTPMailer {
	return &SMTPMailer{
		host:     os.Getenv("SMTP_HOST"),
		port:     envOr("SMTP_PORT", "587"),
		username: os.Getenv("SMTP_USERNAME"),
		password: os.Getenv("SMTP_PASSWORD"),
		from:     envOr("SMTP_FROM", "no-reply@assetdesk.app"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (m *SMTPMailer) Enabled() bool {
	return m.host != ""
}

func (m *SMTPMailer) Send(to []string, subject, text, html string) error {
	if !m.Enabled() {
		return nil
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	msg := m.buildMessage(to, subject, text, html)
	addr := m.host + ":" + m.port
	return smtp.SendMail(addr, auth, m.from, to, msg)
}

const mailBoundary = "assetdesk-mail-boundary"

func (m *SMTPMailer) buildMessage(to []string, subject, text, html string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")

	if html == "" {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(text)
		return []byte(b.String())
	}

	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mailBoundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", mailBoundary, text)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", mailBoundary, html)
	fmt.Fprintf(&b, "--%s--\r\n", mailBoundary)
	return []byte(b.String())
}
