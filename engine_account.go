package authcore

import (
	"context"
	"errors"
	"net/mail"

	"github.com/mnemoforge/authcore/internal/rate"
	"github.com/mnemoforge/authcore/password"
	"go.uber.org/zap"
)

// Register creates a password account with role USER, sends the
// verification email in the background and returns session tokens.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	if err := e.allow(ctx, rate.ClassRegister); err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		e.registerFailed(ctx, ErrInvalidEmail, "invalid_email")
		return nil, ErrInvalidEmail
	}

	existing, err := e.identities.GetByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		e.metrics.Inc(MetricRegisterDuplicate)
		e.registerFailed(ctx, ErrAccountExists, "duplicate")
		return nil, ErrAccountExists
	case err != nil && !errors.Is(err, ErrIdentityNotFound):
		return nil, e.storeErr("check email for register", err)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) {
			e.registerFailed(ctx, ErrPasswordPolicy, "password_too_short")
			return nil, ErrPasswordPolicy
		}
		return nil, err
	}

	identity := &Identity{
		Email:             email,
		PasswordHash:      hash,
		DisplayName:       displayNameOrDefault(req.DisplayName, email),
		Role:              RoleUser,
		PreferredLanguage: req.PreferredLanguage,
	}
	if err := e.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metrics.Inc(MetricRegisterDuplicate)
			e.registerFailed(ctx, ErrAccountExists, "duplicate")
			return nil, ErrAccountExists
		}
		return nil, e.storeErr("create identity", err)
	}

	if err := e.issueEmailVerification(ctx, identity); err != nil {
		// The account exists; the user can ask for another email.
		e.logger.Warn("verification email not issued at registration",
			zap.String("user_id", identity.ID),
			zap.Error(err),
		)
	}

	result, err := e.issueSession(identity)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, identity.ID, nil, nil)
	return result, nil
}

func (e *Engine) registerFailed(ctx context.Context, err error, reason string) {
	e.emitAudit(ctx, auditEventRegisterFailure, false, "", err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

// validEmail accepts a bare addr-spec. Display-name forms are rejected.
func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
