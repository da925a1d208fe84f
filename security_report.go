package authcore

import (
	"sort"
	"time"
)

// SecurityReport is a read-only snapshot of the engine's security
// posture, meant for a startup log line.
type SecurityReport struct {
	SigningAlgorithm string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	ChallengeTTL     time.Duration
	CookieSecure     bool
	Argon2           PasswordConfig
	LockoutActive    bool
	LockoutThreshold int
	LockoutDuration  time.Duration
	RateLimits       map[string]BucketConfig
	BackupCodeCount  int
	OAuthProviders   []string
	AuditEnabled     bool
	MetricsEnabled   bool
	ResetCooldown    time.Duration
	ResetTokenTTL    time.Duration
	EmailTokenTTL    time.Duration
}

// SecurityReport summarizes the active configuration. Secrets are never
// included.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	providers := make([]string, 0, len(e.config.OAuth.Providers))
	for name := range e.config.OAuth.Providers {
		providers = append(providers, name)
	}
	sort.Strings(providers)

	rl := e.config.RateLimit
	limits := map[string]BucketConfig{
		"login":          rl.Login,
		"register":       rl.Register,
		"refresh":        rl.Refresh,
		"password_reset": rl.PasswordReset,
		"2fa":            rl.TwoFactor,
	}

	return SecurityReport{
		SigningAlgorithm: "HS256",
		AccessTTL:        e.config.JWT.AccessTTL,
		RefreshTTL:       e.config.JWT.RefreshTTL,
		ChallengeTTL:     e.config.JWT.ChallengeTTL,
		CookieSecure:     e.config.Cookie.Secure,
		Argon2:           e.config.Password,
		LockoutActive:    e.config.Lockout.Enabled && e.config.Lockout.Threshold > 0,
		LockoutThreshold: e.config.Lockout.Threshold,
		LockoutDuration:  e.config.Lockout.Duration,
		RateLimits:       limits,
		BackupCodeCount:  e.config.TOTP.BackupCodeCount,
		OAuthProviders:   providers,
		AuditEnabled:     e.config.Audit.Enabled,
		MetricsEnabled:   e.config.Metrics.Enabled,
		ResetCooldown:    e.config.Verification.ResetCooldown,
		ResetTokenTTL:    e.config.Verification.ResetTokenTTL,
		EmailTokenTTL:    e.config.Verification.EmailTokenTTL,
	}
}
