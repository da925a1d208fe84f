package totp

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func testGenerator(t *testing.T) *Generator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BackupCodeCost = bcrypt.MinCost
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestGenerateEnrollment(t *testing.T) {
	g := testGenerator(t)

	e, err := g.Generate("alice@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(e.Secret) != 32 {
		t.Fatalf("secret length = %d, want 32", len(e.Secret))
	}
	if !strings.HasPrefix(e.URI, "otpauth://totp/Mnemo:alice@example.com?") {
		t.Fatalf("unexpected URI %q", e.URI)
	}
	if !strings.Contains(e.URI, "issuer=Mnemo") {
		t.Fatalf("URI missing issuer: %q", e.URI)
	}
	if strings.ReplaceAll(e.ManualEntry, " ", "") != e.Secret {
		t.Fatal("manual entry must be the grouped secret")
	}
	if !strings.HasPrefix(e.QRCodePNG, "data:image/png;base64,") {
		t.Fatal("QR code must be a PNG data URL")
	}
}

func TestValidateAcceptsCurrentAndAdjacentPeriods(t *testing.T) {
	g := testGenerator(t)
	e, err := g.Generate("bob@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	now := time.Unix(1_700_000_010, 0)
	code, err := g.Code(e.Secret, now)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}

	if !g.Validate(e.Secret, code, now) {
		t.Fatal("current code rejected")
	}
	if !g.Validate(e.Secret, code, now.Add(30*time.Second)) {
		t.Fatal("code from previous period rejected")
	}
	if !g.Validate(e.Secret, code[:3]+" "+code[3:], now) {
		t.Fatal("whitespace not stripped")
	}
	if !g.Validate(e.Secret, code[:3]+"-"+code[3:], now) {
		t.Fatal("hyphen not stripped")
	}
	if g.Validate(e.Secret, code, now.Add(2*time.Minute)) {
		t.Fatal("stale code accepted")
	}
}

func TestValidateRejectsMalformedInput(t *testing.T) {
	g := testGenerator(t)
	e, _ := g.Generate("carol@example.com")
	now := time.Now()

	for _, code := range []string{"", "12345", "1234567", "abcdef"} {
		if g.Validate(e.Secret, code, now) {
			t.Fatalf("malformed code %q accepted", code)
		}
	}
	if g.Validate("", "123456", now) {
		t.Fatal("empty secret accepted")
	}
	if g.Validate("not base32!", "123456", now) {
		t.Fatal("invalid secret accepted")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Issuer = " "
	if _, err := New(cfg); err == nil {
		t.Fatal("expected empty issuer to be rejected")
	}
	cfg = DefaultConfig()
	cfg.Skew = 5
	if _, err := New(cfg); err == nil {
		t.Fatal("expected large skew to be rejected")
	}
}
