package authcore

import (
	"context"
	"errors"

	"github.com/mnemoforge/authcore/internal/rate"
	"github.com/mnemoforge/authcore/totp"
)

// BeginTwoFactorSetup creates a pending enrollment. The secret is stored
// with the two-factor flag still off until EnableTwoFactor confirms it.
// Calling it again replaces the pending secret.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, identityID string) (*totp.Enrollment, error) {
	identity, err := e.loadIdentity(ctx, identityID, "load identity for 2fa setup")
	if err != nil {
		return nil, err
	}
	if identity.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	enrollment, err := e.totp.Generate(identity.Email)
	if err != nil {
		return nil, err
	}
	if err := e.writeTwoFactor(ctx, identity.ID, TwoFactorUpdate{
		WasEnabled: false,
		Secret:     enrollment.Secret,
	}, "store pending 2fa secret"); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactorSetup, true, identity.ID, nil, nil)
	return enrollment, nil
}

// EnableTwoFactor confirms a pending enrollment with a TOTP code and
// returns the plaintext backup codes. They are shown once.
func (e *Engine) EnableTwoFactor(ctx context.Context, identityID, code string) ([]string, error) {
	if err := e.allow(ctx, rate.ClassTwoFactor); err != nil {
		return nil, err
	}

	identity, err := e.loadIdentity(ctx, identityID, "load identity for 2fa enable")
	if err != nil {
		return nil, err
	}
	if identity.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if identity.TwoFactorSecret == "" {
		return nil, ErrTwoFactorNotPending
	}
	if err := e.verifySecondFactor(ctx, identity, code, false); err != nil {
		e.twoFactorFailed(ctx, identity.ID, err)
		return nil, err
	}

	codes, hashes, err := e.totp.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := e.writeTwoFactor(ctx, identity.ID, TwoFactorUpdate{
		WasEnabled:       false,
		Enabled:          true,
		Secret:           identity.TwoFactorSecret,
		BackupCodeHashes: hashes,
	}, "enable 2fa"); err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, identity.ID, nil, nil)
	return codes, nil
}

// DisableTwoFactor turns the second factor off after checking a TOTP or
// backup code. The secret and every backup code are discarded.
func (e *Engine) DisableTwoFactor(ctx context.Context, identityID, code string) error {
	if err := e.allow(ctx, rate.ClassTwoFactor); err != nil {
		return err
	}

	identity, err := e.loadIdentity(ctx, identityID, "load identity for 2fa disable")
	if err != nil {
		return err
	}
	if !identity.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if err := e.verifySecondFactor(ctx, identity, code, true); err != nil {
		e.twoFactorFailed(ctx, identity.ID, err)
		return err
	}

	if err := e.writeTwoFactor(ctx, identity.ID, TwoFactorUpdate{WasEnabled: true}, "disable 2fa"); err != nil {
		return err
	}

	e.metrics.Inc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, identity.ID, nil, nil)
	return nil
}

// RegenerateBackupCodes replaces every backup code. Only a TOTP code is
// accepted, so a leaked backup code cannot mint new ones.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, identityID, code string) ([]string, error) {
	if err := e.allow(ctx, rate.ClassTwoFactor); err != nil {
		return nil, err
	}

	identity, err := e.loadIdentity(ctx, identityID, "load identity for backup codes")
	if err != nil {
		return nil, err
	}
	if !identity.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}
	if err := e.verifySecondFactor(ctx, identity, code, false); err != nil {
		e.twoFactorFailed(ctx, identity.ID, err)
		return nil, err
	}

	codes, hashes, err := e.totp.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := e.writeTwoFactor(ctx, identity.ID, TwoFactorUpdate{
		WasEnabled:       true,
		Enabled:          true,
		Secret:           identity.TwoFactorSecret,
		BackupCodeHashes: hashes,
	}, "regenerate backup codes"); err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesRegenerated, true, identity.ID, nil, nil)
	return codes, nil
}

// TwoFactorStatus reports whether two-factor is on and how many backup
// codes are left.
func (e *Engine) TwoFactorStatus(ctx context.Context, identityID string) (TwoFactorStatus, error) {
	identity, err := e.loadIdentity(ctx, identityID, "load identity for 2fa status")
	if err != nil {
		return TwoFactorStatus{}, err
	}
	status := TwoFactorStatus{Enabled: identity.TwoFactorEnabled}
	if identity.TwoFactorEnabled {
		status.RemainingBackupCodes = len(identity.BackupCodeHashes)
	}
	return status, nil
}

func (e *Engine) twoFactorFailed(ctx context.Context, identityID string, err error) {
	if !errors.Is(err, ErrTwoFactorInvalid) {
		return
	}
	e.metrics.Inc(MetricTwoFactorFailure)
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, identityID, err, nil)
}

// writeTwoFactor applies u and turns a lost race on the enabled flag into
// the state error the caller would have seen had it read later.
func (e *Engine) writeTwoFactor(ctx context.Context, identityID string, u TwoFactorUpdate, op string) error {
	applied, err := e.identities.UpdateTwoFactor(ctx, identityID, u)
	switch {
	case errors.Is(err, ErrIdentityNotFound):
		return ErrIdentityNotFound
	case err != nil:
		return e.storeErr(op, err)
	case applied:
		return nil
	case u.WasEnabled:
		return ErrTwoFactorNotEnabled
	default:
		return ErrTwoFactorAlreadyEnabled
	}
}

func (e *Engine) loadIdentity(ctx context.Context, identityID, op string) (*Identity, error) {
	identity, err := e.identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, e.storeErr(op, err)
	}
	return identity, nil
}
