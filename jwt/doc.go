// Package jwt issues and validates the HMAC-signed access, refresh and
// two-factor challenge tokens. Validation collapses every failure into
// ErrInvalidToken; the specific reason is only available for logging.
package jwt
