package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email, missing password hash and
	// wrong password alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountLocked is returned while the email is locked out.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrRateLimited is returned when a per-address bucket is empty.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidToken covers every session or challenge token failure.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrAccountExists is returned by Register for a taken email.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidEmail is returned for an unparsable email address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrPasswordPolicy is returned for passwords the hasher refuses.
	ErrPasswordPolicy = errors.New("password policy violation")

	ErrIdentityNotFound          = errors.New("identity not found")
	ErrLinkNotFound              = errors.New("external link not found")
	ErrVerificationTokenNotFound = errors.New("verification token not found")

	ErrTwoFactorInvalid        = errors.New("invalid two-factor code")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrTwoFactorNotPending     = errors.New("two-factor setup not started")

	// ErrOAuthIncompleteAssertion is returned when the provider omitted the
	// subject id or email.
	ErrOAuthIncompleteAssertion = errors.New("oauth assertion incomplete")
	// ErrOAuthSubjectMismatch is returned when a provider reports a
	// different subject id than the stored link. The link is never rewritten.
	ErrOAuthSubjectMismatch = errors.New("oauth subject mismatch")
	// ErrOAuthEmailUnverified is returned when the provider does not vouch
	// for the asserted email.
	ErrOAuthEmailUnverified = errors.New("oauth email not verified")
	ErrOAuthProviderUnknown = errors.New("oauth provider not configured")
	ErrOAuthExchange        = errors.New("oauth exchange failed")

	ErrEmailAlreadyVerified         = errors.New("email already verified")
	ErrEmailVerificationRateLimited = errors.New("email verification rate limited")

	// ErrStoreUnavailable wraps failures of the relational store.
	ErrStoreUnavailable = errors.New("identity store unavailable")
	// ErrLimiterUnavailable wraps failures of the shared counter backend.
	ErrLimiterUnavailable = errors.New("rate limit backend unavailable")
	ErrEngineNotReady     = errors.New("engine not initialized")
)

// RateLimitError is returned when a bucket rejected the request. It
// matches ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited, e.RetryAfter)
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Outcome is the result of consuming or checking a verification token.
// Callers branch only on OK; Reason is for logs.
type Outcome struct {
	ok     bool
	reason string
}

func succeeded() Outcome            { return Outcome{ok: true} }
func failed(reason string) Outcome { return Outcome{reason: reason} }

// OK reports whether the token was accepted.
func (o Outcome) OK() bool { return o.ok }

// Reason describes why the token was rejected. Never show it to users.
func (o Outcome) Reason() string { return o.reason }
