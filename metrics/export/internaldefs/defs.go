package internaldefs

import (
	"github.com/mnemoforge/authcore"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful password logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Password logins rejected for bad credentials."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Login attempts against a locked account."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Login attempts rejected by the address bucket."},
	{ID: authcore.MetricLockoutEngaged, Name: "authcore_lockout_engaged_total", Help: "Accounts locked after repeated failures."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Access tokens minted from a refresh token."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: authcore.MetricTokenRejected, Name: "authcore_token_rejected_total", Help: "Access tokens that failed validation."},
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Accounts registered with a password."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected for a taken email."},
	{ID: authcore.MetricTwoFactorChallengeIssued, Name: "authcore_2fa_challenge_issued_total", Help: "Logins answered with a second-factor challenge."},
	{ID: authcore.MetricTwoFactorSuccess, Name: "authcore_2fa_success_total", Help: "Accepted second-factor codes."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_2fa_failure_total", Help: "Rejected second-factor codes."},
	{ID: authcore.MetricTwoFactorEnabled, Name: "authcore_2fa_enabled_total", Help: "Completed authenticator enrollments."},
	{ID: authcore.MetricTwoFactorDisabled, Name: "authcore_2fa_disabled_total", Help: "Disabled second factors."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: authcore.MetricBackupCodesRegenerated, Name: "authcore_backup_codes_regenerated_total", Help: "Backup code set regenerations."},
	{ID: authcore.MetricOAuthLogin, Name: "authcore_oauth_login_total", Help: "Completed provider logins."},
	{ID: authcore.MetricOAuthIdentityCreated, Name: "authcore_oauth_identity_created_total", Help: "Identities created from a provider login."},
	{ID: authcore.MetricOAuthSubjectMismatch, Name: "authcore_oauth_subject_mismatch_total", Help: "Provider logins rejected for a changed subject id."},
	{ID: authcore.MetricOAuthFailure, Name: "authcore_oauth_failure_total", Help: "Other failed provider logins."},
	{ID: authcore.MetricEmailVerificationSent, Name: "authcore_email_verification_sent_total", Help: "Verification tokens issued."},
	{ID: authcore.MetricEmailVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Emails verified."},
	{ID: authcore.MetricEmailVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Rejected verification tokens."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests received."},
	{ID: authcore.MetricPasswordResetSuppressed, Name: "authcore_password_reset_suppressed_total", Help: "Reset emails skipped by the per-identity cooldown."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Passwords changed through a reset token."},
	{ID: authcore.MetricPasswordResetFailure, Name: "authcore_password_reset_failure_total", Help: "Rejected reset tokens."},
	{ID: authcore.MetricMailFailure, Name: "authcore_mail_failure_total", Help: "Outgoing emails that failed to send."},
}

// HistogramDefs lists the exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Password login latency."},
}

// HistogramBounds are the upper bounds matching the engine's buckets.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
