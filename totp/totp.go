package totp

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	secretSize = 20
	qrSize     = 200
)

// Config controls enrollment and validation.
type Config struct {
	Issuer string
	Period time.Duration
	Skew   uint
	// BackupCodeCount is the number of backup codes per enrollment.
	BackupCodeCount int
	// BackupCodeCost is the bcrypt cost for backup code hashes.
	BackupCodeCost int
}

// DefaultConfig returns SHA1, 6 digits, 30 second periods, one period of
// skew and 10 backup codes.
func DefaultConfig() Config {
	return Config{
		Issuer:          "Mnemo",
		Period:          30 * time.Second,
		Skew:            1,
		BackupCodeCount: 10,
		BackupCodeCost:  10,
	}
}

// Enrollment is what the client needs to add the account to an
// authenticator app.
type Enrollment struct {
	Secret      string
	URI         string
	ManualEntry string
	// QRCodePNG is a data URL of the provisioning QR code.
	QRCodePNG string
}

// Generator creates enrollments and validates codes.
type Generator struct {
	config Config
}

// New validates cfg and returns a Generator.
func New(cfg Config) (*Generator, error) {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		return nil, errors.New("totp issuer is required")
	}
	if cfg.Period < time.Second {
		return nil, errors.New("totp period must be at least one second")
	}
	if cfg.Skew > 2 {
		return nil, errors.New("totp skew must be at most 2 periods")
	}
	if cfg.BackupCodeCount <= 0 {
		return nil, errors.New("backup code count must be positive")
	}
	if cfg.BackupCodeCost == 0 {
		cfg.BackupCodeCost = DefaultConfig().BackupCodeCost
	}
	return &Generator{config: cfg}, nil
}

// Generate creates a new secret for account and renders its QR code.
func (g *Generator) Generate(account string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.config.Issuer,
		AccountName: account,
		Period:      uint(g.config.Period / time.Second),
		SecretSize:  secretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:      key.Secret(),
		URI:         key.URL(),
		ManualEntry: groupSecret(key.Secret()),
		QRCodePNG:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Validate reports whether code is valid for secret at now. Whitespace and
// hyphens in code are ignored. Malformed input is simply invalid.
func (g *Generator) Validate(secret, code string, now time.Time) bool {
	code = normalizeCode(code)
	if secret == "" || code == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period:    uint(g.config.Period / time.Second),
		Skew:      g.config.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// Code returns the current code for secret. Used by tests and tooling.
func (g *Generator) Code(secret string, now time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, now.UTC(), totp.ValidateOpts{
		Period:    uint(g.config.Period / time.Second),
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

func normalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			return -1
		}
		return r
	}, code)
}

func groupSecret(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
