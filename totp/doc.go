// Package totp handles authenticator enrollment, code validation and
// one-time backup codes for the second login factor.
//
// Secrets are returned in base32 form and must be encrypted by the caller
// before they are stored. Backup codes are only ever stored as bcrypt
// hashes.
package totp
