package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends plain-text mail through an SMTP relay.
type SMTPMailer struct {
	addr     string
	from     string
	auth     smtp.Auth
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPMailer builds a mailer for cfg. PLAIN auth is used when a username is set.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	m := &SMTPMailer{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		from:     cfg.From,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return m, nil
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to = strings.TrimSpace(to)
	if to == "" || strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient %q", to)
	}
	if strings.ContainsAny(subject, "\r\n") {
		return errors.New("subject must be a single line")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return m.sendMail(m.addr, m.auth, m.from, []string{to}, []byte(b.String()))
}

// LogMailer writes mail to the logger instead of delivering it.
type LogMailer struct {
	Logger *zap.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("mail", zap.String("to", to), zap.String("subject", subject), zap.Int("body_bytes", len(body)))
	return nil
}

// LogSMSSender writes text messages to the logger. No provider is integrated.
type LogSMSSender struct {
	Logger *zap.Logger
}

// Send implements SMSSender.
func (s LogSMSSender) Send(_ context.Context, to, message string) (string, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("sms", zap.String("to", to), zap.Int("length", len(message)))
	return "logged", nil
}
