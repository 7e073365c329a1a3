// Package mailer delivers one-time sign-in codes.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mail "gopkg.in/mail.v2"
)

// Sender delivers a one-time code to an email address.
type Sender interface {
	SendCode(ctx context.Context, to, code string, ttl time.Duration) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends codes through an SMTP relay.
type SMTPSender struct {
	dialer *mail.Dialer
	from   string
	logger *slog.Logger
}

func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.Timeout = 10 * time.Second
	return &SMTPSender{dialer: d, from: cfg.From, logger: logger}
}

func (s *SMTPSender) SendCode(ctx context.Context, to, code string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body := render(code, ttl)

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send code to %s: %w", to, err)
	}
	s.logger.Info("sign-in code emailed", "to", to)
	return nil
}

// LogSender writes codes to the log. Development only.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendCode(_ context.Context, to, code string, ttl time.Duration) error {
	s.logger.Info("sign-in code issued (not emailed)", "to", to, "code", code, "ttl", ttl)
	return nil
}

// Outbox keeps the last code per address in memory. Used by tests and the
// interactive login command.
type Outbox struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
}

func NewOutbox() *Outbox {
	return &Outbox{codes: make(map[string]string)}
}

func (o *Outbox) SendCode(_ context.Context, to, code string, _ time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[to] = code
	o.sent++
	return nil
}

// Last returns the most recent code sent to addr.
func (o *Outbox) Last(addr string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	code, ok := o.codes[addr]
	return code, ok
}

func (o *Outbox) Sent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent
}

func render(code string, ttl time.Duration) (string, string) {
	subject := "Your dashboard sign-in code"
	body := fmt.Sprintf("Your sign-in code is %s.\n\nIt expires in %d minutes. If you did not try to sign in, ignore this email.\n",
		code, int(ttl.Minutes()))
	return subject, body
}
