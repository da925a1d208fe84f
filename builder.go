package authcore

import (
	"errors"
	"net/http"
	"time"

	"github.com/mnemoforge/authcore/internal/audit"
	"github.com/mnemoforge/authcore/internal/limiters"
	"github.com/mnemoforge/authcore/internal/rate"
	"github.com/mnemoforge/authcore/jwt"
	"github.com/mnemoforge/authcore/oauth"
	"github.com/mnemoforge/authcore/password"
	"github.com/mnemoforge/authcore/session"
	"github.com/mnemoforge/authcore/totp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder collects an Engine's configuration and collaborators. Use it
// once during startup.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities IdentityStore
	links      LinkStore
	tokens     VerificationTokenStore
	mailer     Mailer

	auditSink  AuditSink
	logger     *zap.Logger
	httpClient *http.Client
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared counter backend. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets identity persistence. Required.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

// WithLinkStore sets external link persistence. Required.
func (b *Builder) WithLinkStore(store LinkStore) *Builder {
	b.links = store
	return b
}

// WithVerificationTokenStore sets single-use token persistence. Required.
func (b *Builder) WithVerificationTokenStore(store VerificationTokenStore) *Builder {
	b.tokens = store
	return b
}

// WithMailer sets the outgoing mail implementation. Without one, emails
// are skipped with a warning.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithHTTPClient sets the client used for OAuth token and user-info calls.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithClock overrides time.Now for tokens, counters and expiries.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identities == nil || b.links == nil || b.tokens == nil {
		return nil, errors.New("identity, link and verification token stores are required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		Secret:       cfg.JWT.Secret,
		Issuer:       cfg.JWT.Issuer,
		AccessTTL:    cfg.JWT.AccessTTL,
		RefreshTTL:   cfg.JWT.RefreshTTL,
		ChallengeTTL: cfg.JWT.ChallengeTTL,
		Leeway:       cfg.JWT.Leeway,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}

	// -------- CREDENTIALS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	gen, err := totp.New(totp.Config{
		Issuer:          cfg.TOTP.Issuer,
		Period:          cfg.TOTP.Period,
		Skew:            cfg.TOTP.Skew,
		BackupCodeCount: cfg.TOTP.BackupCodeCount,
		BackupCodeCost:  cfg.TOTP.BackupCodeCost,
	})
	if err != nil {
		return nil, err
	}

	// -------- OAUTH --------
	var oc *oauth.Client
	if len(cfg.OAuth.Providers) > 0 {
		creds := make(map[string]oauth.ClientConfig, len(cfg.OAuth.Providers))
		for name, p := range cfg.OAuth.Providers {
			creds[name] = oauth.ClientConfig{ClientID: p.ClientID, ClientSecret: p.ClientSecret}
		}
		oc, err = oauth.NewClient(cfg.OAuth.RedirectBaseURL, creds, b.httpClient)
		if err != nil {
			return nil, err
		}
	}

	// -------- SHARED COUNTERS --------
	rc := cfg.rateConfig()
	rc.Now = now

	engine := &Engine{
		config:     cloneConfig(cfg),
		identities: b.identities,
		links:      b.links,
		tokens:     b.tokens,
		mailer:     b.mailer,
		jwtManager: jm,
		hasher:     ph,
		totp:       gen,
		oauth:      oc,
		transport: session.NewTransport(session.Config{
			Secure:     cfg.Cookie.Secure,
			Domain:     cfg.Cookie.Domain,
			AccessTTL:  cfg.JWT.AccessTTL,
			RefreshTTL: cfg.JWT.RefreshTTL,
		}),
		lockout: limiters.NewLockout(b.redis, limiters.LockoutConfig{
			Enabled:   cfg.Lockout.Enabled,
			Threshold: cfg.Lockout.Threshold,
			Window:    cfg.Lockout.Window,
			Duration:  cfg.Lockout.Duration,
			Now:       now,
		}),
		buckets:        rate.New(b.redis, rc),
		resetCooldown:  limiters.NewPasswordResetCooldown(b.redis, cfg.Verification.ResetCooldown),
		resendCooldown: limiters.NewVerificationResendCooldown(b.redis, cfg.Verification.ResendCooldown),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink, logger.Named("audit")),
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger.Named("authcore"),
		now:     now,
	}

	b.built = true

	return engine, nil
}
