package authcore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mnemoforge/authcore/internal/limiters"
	"github.com/mnemoforge/authcore/internal/rate"
	"github.com/mnemoforge/authcore/jwt"
	"github.com/mnemoforge/authcore/oauth"
	"github.com/mnemoforge/authcore/password"
	"github.com/mnemoforge/authcore/totp"
)

// Config is the complete engine configuration. Build one with
// DefaultConfig and override what the deployment needs.
type Config struct {
	JWT          JWTConfig
	Cookie       CookieConfig
	Password     PasswordConfig
	Lockout      LockoutConfig
	RateLimit    RateLimitConfig
	TOTP         TOTPConfig
	Verification VerificationConfig
	OAuth        OAuthConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the HS256 token service.
type JWTConfig struct {
	Secret       []byte
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ChallengeTTL time.Duration
	Leeway       time.Duration
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig controls the session cookies. Secure is set explicitly per
// deployment; nothing infers it from the environment.
type CookieConfig struct {
	Secure bool
	Domain string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures per-email lockout.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// BucketConfig is one token bucket: Capacity requests per Period.
type BucketConfig struct {
	Capacity int
	Period   time.Duration
}

// RateLimitConfig holds the per-address buckets for each endpoint class.
type RateLimitConfig struct {
	Login         BucketConfig
	Register      BucketConfig
	Refresh       BucketConfig
	PasswordReset BucketConfig
	TwoFactor     BucketConfig
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig configures authenticator enrollment.
type TOTPConfig struct {
	Issuer          string
	Period          time.Duration
	Skew            uint
	BackupCodeCount int
	BackupCodeCost  int
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig covers email verification and password reset.
type VerificationConfig struct {
	EmailTokenTTL  time.Duration
	ResetTokenTTL  time.Duration
	ResetCooldown  time.Duration
	ResendCooldown time.Duration
	// FrontendBaseURL is where links in outgoing mail point.
	FrontendBaseURL string
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthProviderConfig holds one provider's client credentials.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
}

// OAuthConfig configures provider login.
type OAuthConfig struct {
	// RedirectBaseURL is the public origin of this service.
	RedirectBaseURL string
	SuccessRedirect string
	FailureRedirect string
	StateTTL        time.Duration
	Providers       map[string]OAuthProviderConfig
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. JWT.Secret is left empty and
// must be supplied.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	lo := limiters.DefaultLockoutConfig()
	tc := totp.DefaultConfig()
	policies := rate.DefaultPolicies()
	bucket := func(c rate.Class) BucketConfig {
		p := policies[c]
		return BucketConfig{Capacity: p.Capacity, Period: p.Period}
	}

	return Config{
		JWT: JWTConfig{
			Issuer:       "mnemo-auth",
			AccessTTL:    30 * time.Minute,
			RefreshTTL:   7 * 24 * time.Hour,
			ChallengeTTL: 5 * time.Minute,
			Leeway:       30 * time.Second,
		},
		Cookie: CookieConfig{Secure: true},
		Password: PasswordConfig{
			Memory:      pw.Memory,
			Time:        pw.Time,
			Parallelism: pw.Parallelism,
			SaltLength:  pw.SaltLength,
			KeyLength:   pw.KeyLength,
		},
		Lockout: LockoutConfig{
			Enabled:   lo.Enabled,
			Threshold: lo.Threshold,
			Window:    lo.Window,
			Duration:  lo.Duration,
		},
		RateLimit: RateLimitConfig{
			Login:         bucket(rate.ClassLogin),
			Register:      bucket(rate.ClassRegister),
			Refresh:       bucket(rate.ClassRefresh),
			PasswordReset: bucket(rate.ClassPasswordReset),
			TwoFactor:     bucket(rate.ClassTwoFactor),
		},
		TOTP: TOTPConfig{
			Issuer:          tc.Issuer,
			Period:          tc.Period,
			Skew:            tc.Skew,
			BackupCodeCount: tc.BackupCodeCount,
			BackupCodeCost:  tc.BackupCodeCost,
		},
		Verification: VerificationConfig{
			EmailTokenTTL:   24 * time.Hour,
			ResetTokenTTL:   time.Hour,
			ResetCooldown:   60 * time.Second,
			ResendCooldown:  60 * time.Second,
			FrontendBaseURL: "http://localhost:3000",
		},
		OAuth: OAuthConfig{
			SuccessRedirect: "http://localhost:3000/oauth2/redirect",
			FailureRedirect: "http://localhost:3000/login",
			StateTTL:        10 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = append([]byte(nil), cfg.JWT.Secret...)
	if cfg.OAuth.Providers != nil {
		out.OAuth.Providers = make(map[string]OAuthProviderConfig, len(cfg.OAuth.Providers))
		for k, v := range cfg.OAuth.Providers {
			out.OAuth.Providers[k] = v
		}
	}
	return out
}

// Validate reports the first configuration error. Any error here is fatal
// at startup.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.Secret) < jwt.MinSecretLength {
		return fmt.Errorf("JWT Secret must be at least %d bytes", jwt.MinSecretLength)
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		return errors.New("JWT Issuer must be set")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.JWT.ChallengeTTL <= 0 {
		return errors.New("JWT TTLs must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0")
		}
		if c.Lockout.Window <= 0 || c.Lockout.Duration <= 0 {
			return errors.New("Lockout Window and Duration must be > 0")
		}
	}

	// Rate limits
	if err := c.rateConfig().Validate(); err != nil {
		return err
	}

	// TOTP
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must be set")
	}
	if c.TOTP.BackupCodeCount <= 0 {
		return errors.New("TOTP BackupCodeCount must be > 0")
	}

	// Verification
	if c.Verification.EmailTokenTTL <= 0 || c.Verification.ResetTokenTTL <= 0 {
		return errors.New("Verification token TTLs must be > 0")
	}
	if c.Verification.ResetCooldown < 0 || c.Verification.ResendCooldown < 0 {
		return errors.New("Verification cooldowns must be >= 0")
	}
	if err := requireAbsoluteURL("Verification FrontendBaseURL", c.Verification.FrontendBaseURL); err != nil {
		return err
	}

	// OAuth
	if len(c.OAuth.Providers) > 0 {
		if err := requireAbsoluteURL("OAuth RedirectBaseURL", c.OAuth.RedirectBaseURL); err != nil {
			return err
		}
		if err := requireAbsoluteURL("OAuth SuccessRedirect", c.OAuth.SuccessRedirect); err != nil {
			return err
		}
		if err := requireAbsoluteURL("OAuth FailureRedirect", c.OAuth.FailureRedirect); err != nil {
			return err
		}
		if c.OAuth.StateTTL <= 0 {
			return errors.New("OAuth StateTTL must be > 0")
		}
		for name := range c.OAuth.Providers {
			if _, err := oauth.Lookup(name); err != nil {
				return fmt.Errorf("OAuth provider %q is not supported", name)
			}
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

func (c *Config) rateConfig() rate.Config {
	policy := func(b BucketConfig) rate.Policy {
		return rate.Policy{Capacity: b.Capacity, Period: b.Period}
	}
	return rate.Config{Policies: map[rate.Class]rate.Policy{
		rate.ClassLogin:         policy(c.RateLimit.Login),
		rate.ClassRegister:      policy(c.RateLimit.Register),
		rate.ClassRefresh:       policy(c.RateLimit.Refresh),
		rate.ClassPasswordReset: policy(c.RateLimit.PasswordReset),
		rate.ClassTwoFactor:     policy(c.RateLimit.TwoFactor),
	}}
}

func requireAbsoluteURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", field)
	}
	return nil
}
