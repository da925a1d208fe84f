package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captured struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func newTestSender(t *testing.T, cfg SMTPConfig) (*SMTPSender, *captured) {
	t.Helper()
	s, err := NewSMTPSender(cfg)
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	c := &captured{}
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.auth, c.from, c.to, c.msg = addr, a, from, to, string(msg)
		return nil
	}
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, c
}

func TestNewSMTPSenderValidates(t *testing.T) {
	cases := []SMTPConfig{
		{Port: 25, From: "a@b.test"},
		{Host: "smtp.test", From: "a@b.test"},
		{Host: "smtp.test", Port: 25},
	}
	for _, cfg := range cases {
		if _, err := NewSMTPSender(cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func TestSendVerificationComposesMessage(t *testing.T) {
	s, c := newTestSender(t, SMTPConfig{Host: "smtp.test", Port: 587, Username: "u", Password: "p", From: "no-reply@app.test"})

	link := "https://app.test/verify-email?token=abc"
	if err := s.SendVerification(context.Background(), "ann@example.test", "Ann", link); err != nil {
		t.Fatalf("SendVerification: %v", err)
	}
	if c.addr != "smtp.test:587" {
		t.Fatalf("addr = %q", c.addr)
	}
	if c.auth == nil {
		t.Fatal("expected PLAIN auth when credentials are set")
	}
	if c.from != "no-reply@app.test" || len(c.to) != 1 || c.to[0] != "ann@example.test" {
		t.Fatalf("envelope from=%q to=%v", c.from, c.to)
	}
	for _, want := range []string{
		"Subject: Verify your email address\r\n",
		"To: ann@example.test\r\n",
		"Hi Ann,",
		link,
	} {
		if !strings.Contains(c.msg, want) {
			t.Fatalf("message missing %q:\n%s", want, c.msg)
		}
	}
}

func TestSendPasswordResetWithoutAuth(t *testing.T) {
	s, c := newTestSender(t, SMTPConfig{Host: "relay.test", Port: 25, From: "no-reply@app.test"})

	if err := s.SendPasswordReset(context.Background(), "bob@example.test", "Bob", "https://app.test/reset-password?token=x"); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	if c.auth != nil {
		t.Fatal("unauthenticated relay should not use auth")
	}
	if !strings.Contains(c.msg, "Subject: Reset your password") {
		t.Fatalf("unexpected message:\n%s", c.msg)
	}
}

func TestSendRejectsHeaderInjection(t *testing.T) {
	s, _ := newTestSender(t, SMTPConfig{Host: "smtp.test", Port: 25, From: "no-reply@app.test"})
	err := s.SendVerification(context.Background(), "a@b.test\r\nBcc: evil@x.test", "A", "link")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSendWrapsTransportError(t *testing.T) {
	s, _ := newTestSender(t, SMTPConfig{Host: "smtp.test", Port: 25, From: "no-reply@app.test"})
	boom := errors.New("connection refused")
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }

	err := s.SendVerification(context.Background(), "a@b.test", "A", "link")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestSendHonoursContext(t *testing.T) {
	s, _ := newTestSender(t, SMTPConfig{Host: "smtp.test", Port: 25, From: "no-reply@app.test"})
	release := make(chan struct{})
	defer close(release)
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.SendVerification(ctx, "a@b.test", "A", "link"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestLogSenderNeverLogsLink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := NewLogSender(zap.New(core))

	link := "https://app.test/reset-password?token=secret-token"
	if err := l.SendPasswordReset(context.Background(), "a@b.test", "A", link); err != nil {
		t.Fatal(err)
	}
	if err := l.SendVerification(context.Background(), "a@b.test", "A", link); err != nil {
		t.Fatal(err)
	}
	if logs.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", logs.Len())
	}
	for _, e := range logs.All() {
		if strings.Contains(e.Message, "secret-token") {
			t.Fatal("link leaked into message")
		}
		for _, f := range e.Context {
			if strings.Contains(f.String, "secret-token") {
				t.Fatalf("link leaked into field %s", f.Key)
			}
		}
	}
}
