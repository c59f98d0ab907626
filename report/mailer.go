/*
mailer.go - Outbound mail delivery

PURPOSE:
  Small delivery abstraction so report generation does not care whether
  mail actually leaves the process. Two implementations:
    SMTPMailer  real delivery over net/smtp (plain auth optional)
    LogMailer   logs the message instead; used in development and tests

SEE ALSO:
  - report.go: the two report producers that feed Send
*/
package report

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// Mailer delivers a single plain-text message.
type Mailer interface {
	Send(to, subject, body string) error
}

// =============================================================================
// SMTP DELIVERY
// =============================================================================

// SMTPMailer sends mail through a relay at Addr (host:port).
type SMTPMailer struct {
	Addr     string
	From     string
	Username string
	Password string
}

// Send delivers one message. Uses PLAIN auth when a username is configured.
func (m *SMTPMailer) Send(to, subject, body string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if m.Username != "" {
		host := m.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", m.Username, m.Password, host)
	}

	if err := smtp.SendMail(m.Addr, auth, m.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// =============================================================================
// LOG-ONLY DELIVERY
// =============================================================================

// LogMailer writes the message to the log instead of delivering it.
type LogMailer struct {
	Log zerolog.Logger
}

func (m *LogMailer) Send(to, subject, body string) error {
	m.Log.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("mail delivery disabled, logging instead")
	return nil
}
