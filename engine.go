package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mnemoforge/authcore/internal/audit"
	"github.com/mnemoforge/authcore/internal/limiters"
	"github.com/mnemoforge/authcore/internal/rate"
	"github.com/mnemoforge/authcore/jwt"
	"github.com/mnemoforge/authcore/oauth"
	"github.com/mnemoforge/authcore/password"
	"github.com/mnemoforge/authcore/session"
	"github.com/mnemoforge/authcore/totp"
	"go.uber.org/zap"
)

const mailTimeout = 30 * time.Second

// Engine runs every authentication flow. Build it with New().Build(); it
// is safe for concurrent use and keeps no per-user state in process.
type Engine struct {
	config     Config
	identities IdentityStore
	links      LinkStore
	tokens     VerificationTokenStore
	mailer     Mailer

	jwtManager *jwt.Manager
	hasher     *password.Argon2
	totp       *totp.Generator
	oauth      *oauth.Client
	transport  *session.Transport

	lockout        *limiters.Lockout
	buckets        *rate.Limiter
	resetCooldown  *limiters.Cooldown
	resendCooldown *limiters.Cooldown

	audit   *audit.Dispatcher
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time

	mail sync.WaitGroup
}

// Close waits for in-flight emails and drains the audit buffer.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mail.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// SessionTransport returns the cookie transport matching the token TTLs.
func (e *Engine) SessionTransport() *session.Transport {
	return e.transport
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Authenticate validates an access token and returns its principal. It
// does not touch any store.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := e.jwtManager.Validate(accessToken)
	if err == nil {
		err = claims.Require(jwt.TypeAccess)
	}
	if err != nil {
		e.metrics.Inc(MetricTokenRejected)
		e.logger.Debug("access token rejected", zap.String("reason", jwt.Reason(err)))
		return nil, ErrInvalidToken
	}

	return &Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Roles:  append([]string(nil), claims.Roles...),
	}, nil
}

// Refresh mints a new access token from a refresh token. The refresh token
// itself is not rotated.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if err := e.allow(ctx, rate.ClassRefresh); err != nil {
		return "", err
	}

	claims, err := e.jwtManager.Validate(refreshToken)
	if err == nil {
		err = claims.Require(jwt.TypeRefresh)
	}
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		e.logger.Debug("refresh token rejected", zap.String("reason", jwt.Reason(err)))
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", ErrInvalidToken, nil)
		return "", ErrInvalidToken
	}

	identity, err := e.identities.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.metrics.Inc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.Subject, ErrIdentityNotFound, nil)
			return "", ErrInvalidToken
		}
		return "", e.storeErr("load identity for refresh", err)
	}

	access, err := e.jwtManager.IssueAccess(identity.ID, identity.Email, identity.Roles())
	if err != nil {
		return "", err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, identity.ID, nil, nil)
	return access, nil
}

// Profile returns the identity behind identityID.
func (e *Engine) Profile(ctx context.Context, identityID string) (*Identity, error) {
	return e.loadIdentity(ctx, identityID, "load profile")
}

func (e *Engine) issueSession(identity *Identity) (*LoginResult, error) {
	access, err := e.jwtManager.IssueAccess(identity.ID, identity.Email, identity.Roles())
	if err != nil {
		return nil, err
	}
	refresh, err := e.jwtManager.IssueRefresh(identity.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Identity:     identity,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// allow takes a token from the caller's bucket for class.
func (e *Engine) allow(ctx context.Context, class rate.Class) error {
	if e.buckets == nil {
		return nil
	}

	retry, err := e.buckets.Allow(ctx, class, clientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.emitRateLimit(ctx, string(class))
		return &RateLimitError{RetryAfter: retry}
	default:
		e.logger.Error("rate limiter unavailable", zap.String("class", string(class)), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
}

func (e *Engine) storeErr(op string, err error) error {
	e.logger.Error("identity store failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// dispatchMail sends in the background. A failed send is logged and the
// token that was issued stays valid.
func (e *Engine) dispatchMail(kind, identityID string, send func(ctx context.Context) error) {
	if e.mailer == nil {
		e.logger.Warn("no mailer configured, email not sent", zap.String("kind", kind), zap.String("user_id", identityID))
		return
	}

	e.mail.Add(1)
	go func() {
		defer e.mail.Done()

		ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
		defer cancel()

		if err := send(ctx); err != nil {
			e.metrics.Inc(MetricMailFailure)
			e.logger.Error("email delivery failed",
				zap.String("kind", kind),
				zap.String("user_id", identityID),
				zap.Error(err),
			)
		}
	}()
}

func (e *Engine) frontendLink(path, token string) string {
	return strings.TrimRight(e.config.Verification.FrontendBaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func displayNameOrDefault(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
