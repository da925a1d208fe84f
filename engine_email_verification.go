package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mnemoforge/authcore/internal"
	"go.uber.org/zap"
)

// issueVerificationToken stores a fresh token of typ for identity,
// replacing any earlier one of the same type.
func (e *Engine) issueVerificationToken(ctx context.Context, identity *Identity, typ VerificationTokenType) (string, error) {
	token, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}

	ttl := e.config.Verification.EmailTokenTTL
	if typ == TokenPasswordReset {
		ttl = e.config.Verification.ResetTokenTTL
	}
	now := e.now().UTC()
	err = e.tokens.Replace(ctx, VerificationToken{
		ID:          uuid.NewString(),
		IdentityID:  identity.ID,
		Token:       token,
		Type:        typ,
		ExpiresAt:   now.Add(ttl),
		RequesterIP: clientIPFromContext(ctx),
		CreatedAt:   now,
	})
	if err != nil {
		return "", e.storeErr("store verification token", err)
	}
	return token, nil
}

func (e *Engine) issueEmailVerification(ctx context.Context, identity *Identity) error {
	token, err := e.issueVerificationToken(ctx, identity, TokenEmailVerification)
	if err != nil {
		return err
	}

	to, name, link := identity.Email, identity.DisplayName, e.frontendLink("/verify-email", token)
	e.dispatchMail("email_verification", identity.ID, func(ctx context.Context) error {
		return e.mailer.SendVerification(ctx, to, name, link)
	})

	e.metrics.Inc(MetricEmailVerificationSent)
	e.emitAudit(ctx, auditEventEmailVerificationSent, true, identity.ID, nil, nil)
	return nil
}

// ResendEmailVerification issues a new verification email for an
// unverified identity, at most once per resend cooldown.
func (e *Engine) ResendEmailVerification(ctx context.Context, identityID string) error {
	identity, err := e.loadIdentity(ctx, identityID, "load identity for verification resend")
	if err != nil {
		return err
	}
	if identity.EmailVerified {
		return ErrEmailAlreadyVerified
	}

	acquired, err := e.resendCooldown.Acquire(ctx, identity.ID)
	if err != nil {
		e.logger.Error("verification cooldown unavailable", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if !acquired {
		return ErrEmailVerificationRateLimited
	}

	return e.issueEmailVerification(ctx, identity)
}

// VerifyEmail consumes an email verification token. Every rejection looks
// the same to the caller.
func (e *Engine) VerifyEmail(ctx context.Context, token string) Outcome {
	outcome := e.verifyEmail(ctx, token)
	if outcome.OK() {
		e.metrics.Inc(MetricEmailVerificationSuccess)
	} else {
		e.metrics.Inc(MetricEmailVerificationFailure)
		e.logger.Info("email verification rejected", zap.String("reason", outcome.Reason()))
	}
	return outcome
}

func (e *Engine) verifyEmail(ctx context.Context, token string) Outcome {
	if !internal.IsOpaqueToken(token) {
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, "", ErrVerificationTokenNotFound, nil)
		return failed("malformed")
	}

	identityID, err := e.tokens.ConsumeEmailVerification(ctx, token, e.now().UTC())
	if err != nil {
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, "", err, nil)
		if errors.Is(err, ErrVerificationTokenNotFound) {
			return failed("not_found_used_or_expired")
		}
		e.logger.Error("email verification store failure", zap.Error(err))
		return failed("store_error")
	}

	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, identityID, nil, nil)
	return succeeded()
}
