package authcore

import (
	"context"
	"errors"

	"github.com/mnemoforge/authcore/internal/audit"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginLocked              = "login_locked"
	auditEventLockoutEngaged           = "lockout_engaged"
	auditEventRateLimitTriggered       = "rate_limit_triggered"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRegisterSuccess          = "register_success"
	auditEventRegisterFailure          = "register_failure"
	auditEventTwoFactorChallenge       = "2fa_challenge_issued"
	auditEventTwoFactorSuccess         = "2fa_success"
	auditEventTwoFactorFailure         = "2fa_failure"
	auditEventTwoFactorSetup           = "2fa_setup_started"
	auditEventTwoFactorEnabled         = "2fa_enabled"
	auditEventTwoFactorDisabled        = "2fa_disabled"
	auditEventBackupCodeUsed           = "backup_code_used"
	auditEventBackupCodesRegenerated   = "backup_codes_regenerated"
	auditEventOAuthLogin               = "oauth_login"
	auditEventOAuthFailure             = "oauth_failure"
	auditEventEmailVerificationSent    = "email_verification_sent"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
)

// AuditErrorCode is the stable error label written to audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrTwoFactorInvalid   AuditErrorCode = "2fa_invalid"
	auditErrTwoFactorState     AuditErrorCode = "2fa_state"
	auditErrOAuthIncomplete    AuditErrorCode = "oauth_incomplete"
	auditErrOAuthMismatch      AuditErrorCode = "oauth_subject_mismatch"
	auditErrOAuthExchange      AuditErrorCode = "oauth_exchange"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, class string) {
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", ErrRateLimited, func() map[string]string {
		return map[string]string{"class": class}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrEmailVerificationRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrVerificationTokenNotFound):
		return auditErrInvalidToken
	case errors.Is(err, ErrIdentityNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrInvalidEmail):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrTwoFactorInvalid):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrTwoFactorAlreadyEnabled),
		errors.Is(err, ErrTwoFactorNotPending):
		return auditErrTwoFactorState
	case errors.Is(err, ErrOAuthIncompleteAssertion):
		return auditErrOAuthIncomplete
	case errors.Is(err, ErrOAuthSubjectMismatch):
		return auditErrOAuthMismatch
	case errors.Is(err, ErrOAuthExchange),
		errors.Is(err, ErrOAuthProviderUnknown):
		return auditErrOAuthExchange
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrLimiterUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
