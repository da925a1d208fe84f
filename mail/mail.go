// Package mail provides authcore.Mailer implementations: SMTPSender for
// real delivery and LogSender for development, which records that a
// message would have been sent without ever writing the link.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"
)

// SMTPConfig configures SMTPSender. Username and Password may both be
// empty for an unauthenticated relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Product  string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers mail through a single SMTP server.
type SMTPSender struct {
	cfg  SMTPConfig
	addr string
	auth smtp.Auth
	send sendFunc
	now  func() time.Time
}

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, errors.New("mail: SMTP host is required")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("mail: SMTP port must be > 0")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mail: from address is required")
	}
	if cfg.Product == "" {
		cfg.Product = "Mnemo"
	}

	s := &SMTPSender{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		send: smtp.SendMail,
		now:  time.Now,
	}
	if cfg.Username != "" || cfg.Password != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s, nil
}

// SendVerification sends the email verification link.
func (s *SMTPSender) SendVerification(ctx context.Context, to, name, link string) error {
	return s.deliver(ctx, to, "Verify your email address", verificationBody, name, link)
}

// SendPasswordReset sends the password reset link.
func (s *SMTPSender) SendPasswordReset(ctx context.Context, to, name, link string) error {
	return s.deliver(ctx, to, "Reset your password", resetBody, name, link)
}

func (s *SMTPSender) deliver(ctx context.Context, to, subject string, body *template.Template, name, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") {
		return errors.New("mail: invalid recipient")
	}

	msg, err := s.compose(to, subject, body, name, link)
	if err != nil {
		return err
	}

	// smtp.SendMail has no context support; run it aside and stop waiting
	// when ctx ends.
	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, s.cfg.From, []string{to}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mail: send via %s: %w", s.addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SMTPSender) compose(to, subject string, body *template.Template, name, link string) ([]byte, error) {
	var text bytes.Buffer
	err := body.Execute(&text, struct {
		Name    string
		Link    string
		Product string
	}{Name: name, Link: link, Product: s.cfg.Product})
	if err != nil {
		return nil, fmt.Errorf("mail: render: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", s.now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(text.String(), "\n", "\r\n"))
	return msg.Bytes(), nil
}

var verificationBody = template.Must(template.New("verify").Parse(`Hi {{.Name}},

Please confirm your email address for {{.Product}} by opening the link below:

{{.Link}}

The link expires in 24 hours. If you did not create an account, ignore this email.
`))

var resetBody = template.Must(template.New("reset").Parse(`Hi {{.Name}},

We received a request to reset your {{.Product}} password. Open the link below to choose a new one:

{{.Link}}

The link expires in 1 hour and can be used once. If you did not ask for a reset, ignore this email.
`))

// LogSender logs that a message was sent. Links are never logged.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender returns a LogSender writing to logger.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("mail")}
}

func (l *LogSender) SendVerification(_ context.Context, to, name, _ string) error {
	l.logger.Info("verification email suppressed", zap.String("to", to), zap.String("name", name))
	return nil
}

func (l *LogSender) SendPasswordReset(_ context.Context, to, name, _ string) error {
	l.logger.Info("password reset email suppressed", zap.String("to", to), zap.String("name", name))
	return nil
}
