package authcore

import (
	"context"
	"errors"

	"github.com/mnemoforge/authcore/internal"
	"github.com/mnemoforge/authcore/internal/rate"
	"github.com/mnemoforge/authcore/password"
	"go.uber.org/zap"
)

// RequestPasswordReset emails a reset link when email belongs to an
// identity. The result is nil whether or not the email is known, whether
// or not a cooldown suppressed the mail, and when a backend failed; only an
// exhausted rate-limit bucket is reported.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.allow(ctx, rate.ClassPasswordReset); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return err
		}
		return nil
	}
	e.metrics.Inc(MetricPasswordResetRequest)

	identity, err := e.identities.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, ErrIdentityNotFound) {
			e.logger.Error("password reset lookup failed", zap.Error(err))
		}
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", err, nil)
		return nil
	}

	acquired, err := e.resetCooldown.Acquire(ctx, identity.ID)
	if err != nil {
		e.logger.Error("password reset cooldown unavailable", zap.Error(err))
		return nil
	}
	if !acquired {
		e.metrics.Inc(MetricPasswordResetSuppressed)
		e.logger.Info("password reset suppressed by cooldown", zap.String("user_id", identity.ID))
		return nil
	}

	token, err := e.issueVerificationToken(ctx, identity, TokenPasswordReset)
	if err != nil {
		return nil
	}

	to, name, link := identity.Email, identity.DisplayName, e.frontendLink("/reset-password", token)
	e.dispatchMail("password_reset", identity.ID, func(ctx context.Context) error {
		return e.mailer.SendPasswordReset(ctx, to, name, link)
	})

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, identity.ID, nil, nil)
	return nil
}

// ValidatePasswordResetToken reports whether token could still be used.
// It consumes nothing.
func (e *Engine) ValidatePasswordResetToken(ctx context.Context, token string) Outcome {
	if !internal.IsOpaqueToken(token) {
		return failed("malformed")
	}
	_, err := e.tokens.Lookup(ctx, token, TokenPasswordReset, e.now().UTC())
	switch {
	case err == nil:
		return succeeded()
	case errors.Is(err, ErrVerificationTokenNotFound):
		return failed("not_found_used_or_expired")
	default:
		e.logger.Error("password reset token lookup failed", zap.Error(err))
		return failed("store_error")
	}
}

// ResetPassword consumes a reset token and stores newPassword in the same
// transaction. A password the hasher refuses is reported as
// ErrPasswordPolicy before the token is touched; every token problem is a
// failed Outcome.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) (Outcome, error) {
	if !internal.IsOpaqueToken(token) {
		e.resetFailed(ctx, "malformed")
		return failed("malformed"), nil
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) {
			return Outcome{}, ErrPasswordPolicy
		}
		return Outcome{}, err
	}

	identityID, err := e.tokens.ConsumePasswordReset(ctx, token, hash, e.now().UTC())
	if err != nil {
		if errors.Is(err, ErrVerificationTokenNotFound) {
			e.resetFailed(ctx, "not_found_used_or_expired")
			return failed("not_found_used_or_expired"), nil
		}
		e.logger.Error("password reset store failure", zap.Error(err))
		e.resetFailed(ctx, "store_error")
		return failed("store_error"), nil
	}

	e.clearLockoutFor(ctx, identityID)
	e.metrics.Inc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, identityID, nil, nil)
	return succeeded(), nil
}

// clearLockoutFor lifts a lockout after a successful reset. Failures are
// logged only; the new password is already stored.
func (e *Engine) clearLockoutFor(ctx context.Context, identityID string) {
	identity, err := e.identities.GetByID(ctx, identityID)
	if err != nil {
		e.logger.Warn("lockout not cleared after reset", zap.String("user_id", identityID), zap.Error(err))
		return
	}
	if err := e.lockout.Reset(ctx, identity.Email); err != nil {
		e.logger.Warn("lockout not cleared after reset", zap.String("user_id", identityID), zap.Error(err))
	}
}

func (e *Engine) resetFailed(ctx context.Context, reason string) {
	e.metrics.Inc(MetricPasswordResetFailure)
	e.logger.Info("password reset rejected", zap.String("reason", reason))
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", ErrVerificationTokenNotFound, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}
