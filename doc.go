// Package authcore is the identity and session security core of the
// memory-training platform.
//
// An Engine, assembled with New().With...().Build(), runs the flows:
//
//   - password login with per-email lockout and per-address token buckets,
//   - a two-factor challenge step (TOTP or one-time backup codes),
//   - OAuth2 login reconciled against local identities,
//   - single-use email verification and password reset tokens,
//   - refresh of short-lived access tokens.
//
// Session tokens are stateless signed claims carried in cookies; Redis
// holds every shared counter; a relational store keeps identities, links
// and verification tokens behind the IdentityStore, LinkStore and
// VerificationTokenStore interfaces.
package authcore
