package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mnemoforge/authcore/internal/rate"
	"github.com/mnemoforge/authcore/jwt"
	"github.com/mnemoforge/authcore/totp"
	"go.uber.org/zap"
)

// Login verifies an email and password.
//
// The password is always run through the hasher, against a dummy hash when
// the account is unknown or has no password, so every credential failure
// costs the same. A locked account is reported only after that work. When
// the identity has two-factor enabled the result carries a challenge token
// instead of session tokens.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	email = normalizeEmail(email)
	if err := e.allow(ctx, rate.ClassLogin); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metrics.Inc(MetricLoginRateLimited)
		}
		return nil, err
	}

	blocked, err := e.lockout.IsBlocked(ctx, email)
	if err != nil {
		e.logger.Error("lockout check failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}

	identity, err := e.identities.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrIdentityNotFound) {
		return nil, e.storeErr("load identity for login", err)
	}
	storedHash := ""
	if identity != nil {
		storedHash = identity.PasswordHash
	}
	match := e.hasher.Compare(password, storedHash)

	if blocked {
		e.metrics.Inc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, identityID(identity), ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	if !match || identity == nil {
		e.recordLoginFailure(ctx, email, identity)
		return nil, ErrInvalidCredentials
	}

	if err := e.lockout.Reset(ctx, email); err != nil {
		e.logger.Warn("lockout reset failed", zap.String("user_id", identity.ID), zap.Error(err))
	}
	e.upgradeHash(ctx, identity, password)

	if identity.TwoFactorEnabled {
		challenge, err := e.jwtManager.IssueChallenge(identity.ID)
		if err != nil {
			return nil, err
		}
		e.metrics.Inc(MetricTwoFactorChallengeIssued)
		e.emitAudit(ctx, auditEventTwoFactorChallenge, true, identity.ID, nil, nil)
		return &LoginResult{
			Identity:          identity,
			TwoFactorRequired: true,
			ChallengeToken:    challenge,
		}, nil
	}

	result, err := e.issueSession(identity)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, identity.ID, nil, func() map[string]string {
		return map[string]string{"method": "password"}
	})
	return result, nil
}

// upgradeHash rehashes password under the current cost parameters when
// the stored hash is weaker. Failures are logged and never fail the login.
func (e *Engine) upgradeHash(ctx context.Context, identity *Identity, password string) {
	stale, err := e.hasher.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		e.logger.Debug("password rehash skipped", zap.String("user_id", identity.ID), zap.Error(err))
		return
	}
	swapped, err := e.identities.UpdatePasswordHash(ctx, identity.ID, identity.PasswordHash, hash)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("user_id", identity.ID), zap.Error(err))
		return
	}
	if swapped {
		identity.PasswordHash = hash
	}
}

func (e *Engine) recordLoginFailure(ctx context.Context, email string, identity *Identity) {
	e.metrics.Inc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, identityID(identity), ErrInvalidCredentials, nil)

	locked, err := e.lockout.RecordFailure(ctx, email)
	if err != nil {
		e.logger.Error("recording login failure failed", zap.Error(err))
		return
	}
	if locked {
		e.metrics.Inc(MetricLockoutEngaged)
		e.logger.Warn("account locked after repeated login failures", zap.String("user_id", identityID(identity)))
		e.emitAudit(ctx, auditEventLockoutEngaged, false, identityID(identity), ErrAccountLocked, nil)
	}
}

// CompleteTwoFactorLogin exchanges a challenge token and a TOTP or backup
// code for session tokens. A backup code is consumed on success.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, challengeToken, code string) (*LoginResult, error) {
	if err := e.allow(ctx, rate.ClassTwoFactor); err != nil {
		return nil, err
	}

	claims, err := e.jwtManager.Validate(challengeToken)
	if err == nil {
		err = claims.Require(jwt.TypeChallenge)
	}
	if err != nil {
		e.metrics.Inc(MetricTwoFactorFailure)
		e.logger.Debug("challenge token rejected", zap.String("reason", jwt.Reason(err)))
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, "", ErrInvalidToken, nil)
		return nil, ErrInvalidToken
	}

	identity, err := e.identities.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, e.storeErr("load identity for 2fa", err)
	}
	if !identity.TwoFactorEnabled {
		return nil, ErrInvalidToken
	}

	if err := e.verifySecondFactor(ctx, identity, code, true); err != nil {
		if errors.Is(err, ErrTwoFactorInvalid) {
			e.metrics.Inc(MetricTwoFactorFailure)
			e.emitAudit(ctx, auditEventTwoFactorFailure, false, identity.ID, err, nil)
		}
		return nil, err
	}

	result, err := e.issueSession(identity)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricTwoFactorSuccess)
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, identity.ID, nil, func() map[string]string {
		return map[string]string{"method": "password+2fa"}
	})
	return result, nil
}

// verifySecondFactor accepts a current TOTP code, or, when allowBackup is
// set, an unused backup code which is then removed.
func (e *Engine) verifySecondFactor(ctx context.Context, identity *Identity, code string, allowBackup bool) error {
	if identity.TwoFactorSecret != "" && e.totp.Validate(identity.TwoFactorSecret, code, e.now()) {
		return nil
	}
	if !allowBackup || !totp.IsBackupCodeShaped(code) {
		return ErrTwoFactorInvalid
	}

	hash, ok := totp.MatchBackupCode(code, identity.BackupCodeHashes)
	if !ok {
		return ErrTwoFactorInvalid
	}
	removed, err := e.identities.RemoveBackupCode(ctx, identity.ID, hash)
	if err != nil {
		return e.storeErr("remove backup code", err)
	}
	if !removed {
		// Consumed concurrently by another request.
		return ErrTwoFactorInvalid
	}

	e.metrics.Inc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, identity.ID, nil, nil)
	return nil
}

func identityID(identity *Identity) string {
	if identity == nil {
		return ""
	}
	return identity.ID
}
