// Package config loads process settings from the environment and an
// optional .env file, and maps them onto authcore.Config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mnemoforge/authcore"
	"github.com/mnemoforge/authcore/cryptobox"
	"github.com/spf13/viper"
)

// Env is the flat set of environment variables the service reads.
type Env struct {
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogDev   bool   `mapstructure:"LOG_DEV"`

	JWTSecret     string        `mapstructure:"JWT_SECRET"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	JWTAccessTTL  time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	// EncryptionKey is base64 of exactly 32 bytes.
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`

	CookieSecure bool   `mapstructure:"COOKIE_SECURE"`
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`
	// TrustProxyHeaders makes X-Forwarded-For the client address.
	TrustProxyHeaders bool `mapstructure:"TRUST_PROXY_HEADERS"`

	FrontendBaseURL string `mapstructure:"FRONTEND_BASE_URL"`
	TOTPIssuer      string `mapstructure:"TOTP_ISSUER"`

	OAuthRedirectBaseURL string `mapstructure:"OAUTH_REDIRECT_BASE_URL"`
	OAuthSuccessRedirect string `mapstructure:"OAUTH_SUCCESS_REDIRECT"`
	OAuthFailureRedirect string `mapstructure:"OAUTH_FAILURE_REDIRECT"`
	GoogleClientID       string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GitHubClientID       string `mapstructure:"GITHUB_CLIENT_ID"`
	GitHubClientSecret   string `mapstructure:"GITHUB_CLIENT_SECRET"`
	FacebookClientID     string `mapstructure:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string `mapstructure:"FACEBOOK_CLIENT_SECRET"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	AuditEnabled   bool `mapstructure:"AUDIT_ENABLED"`
	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
}

// Settings is the validated result of Load.
type Settings struct {
	Env
	Engine authcore.Config
	Box    *cryptobox.Box
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEV", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "mnemo-auth")
	v.SetDefault("JWT_ACCESS_TTL", "30m")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("ENCRYPTION_KEY", "")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("TRUST_PROXY_HEADERS", false)
	v.SetDefault("FRONTEND_BASE_URL", "http://localhost:3000")
	v.SetDefault("TOTP_ISSUER", "Mnemo")
	v.SetDefault("OAUTH_REDIRECT_BASE_URL", "http://localhost:8080")
	v.SetDefault("OAUTH_SUCCESS_REDIRECT", "http://localhost:3000/oauth2/redirect")
	v.SetDefault("OAUTH_FAILURE_REDIRECT", "http://localhost:3000/login")
	for _, p := range []string{"GOOGLE", "GITHUB", "FACEBOOK"} {
		v.SetDefault(p+"_CLIENT_ID", "")
		v.SetDefault(p+"_CLIENT_SECRET", "")
	}
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "no-reply@localhost")
	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("METRICS_ENABLED", true)
}

// Load reads envFile into the process environment when it exists, then
// builds Settings from the environment. Variables already set win over
// the file. Any error is meant to stop the process.
func Load(envFile string) (*Settings, error) {
	if envFile != "" {
		// A missing file is normal outside development.
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var env Env
	if err := v.Unmarshal(&env); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return build(env)
}

func build(env Env) (*Settings, error) {
	if env.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if env.RedisAddr == "" {
		return nil, errors.New("config: REDIS_ADDR must be set")
	}
	if env.EncryptionKey == "" {
		return nil, errors.New("config: ENCRYPTION_KEY must be set")
	}
	box, err := cryptobox.NewFromBase64(env.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("config: ENCRYPTION_KEY: %w", err)
	}

	cfg := authcore.DefaultConfig()
	cfg.JWT.Secret = []byte(env.JWTSecret)
	cfg.JWT.Issuer = env.JWTIssuer
	cfg.JWT.AccessTTL = env.JWTAccessTTL
	cfg.JWT.RefreshTTL = env.JWTRefreshTTL
	cfg.Cookie.Secure = env.CookieSecure
	cfg.Cookie.Domain = env.CookieDomain
	cfg.Verification.FrontendBaseURL = env.FrontendBaseURL
	cfg.TOTP.Issuer = env.TOTPIssuer
	cfg.Audit.Enabled = env.AuditEnabled
	cfg.Metrics.Enabled = env.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = env.MetricsEnabled

	cfg.OAuth.RedirectBaseURL = env.OAuthRedirectBaseURL
	cfg.OAuth.SuccessRedirect = env.OAuthSuccessRedirect
	cfg.OAuth.FailureRedirect = env.OAuthFailureRedirect
	providers := map[string]authcore.OAuthProviderConfig{}
	addProvider := func(name, id, secret string) error {
		id, secret = strings.TrimSpace(id), strings.TrimSpace(secret)
		switch {
		case id == "" && secret == "":
			return nil
		case id == "" || secret == "":
			return fmt.Errorf("config: %s client id and secret must both be set", strings.ToUpper(name))
		}
		providers[name] = authcore.OAuthProviderConfig{ClientID: id, ClientSecret: secret}
		return nil
	}
	if err := addProvider("google", env.GoogleClientID, env.GoogleClientSecret); err != nil {
		return nil, err
	}
	if err := addProvider("github", env.GitHubClientID, env.GitHubClientSecret); err != nil {
		return nil, err
	}
	if err := addProvider("facebook", env.FacebookClientID, env.FacebookClientSecret); err != nil {
		return nil, err
	}
	if len(providers) > 0 {
		cfg.OAuth.Providers = providers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &Settings{Env: env, Engine: cfg, Box: box}, nil
}
