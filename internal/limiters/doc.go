// Package limiters provides the per-account brute-force defenses that sit
// next to the per-address buckets in internal/rate.
//
// # Limiters
//
//   - [Lockout] counts failed logins per normalized email and locks the
//     account for a fixed duration once the threshold is reached.
//   - [Cooldown] is a self-clearing per-identity marker used to space out
//     password-reset and verification-email issuance.
//
// All state lives in Redis and is mutated by single commands or Lua
// scripts, so concurrent instances agree. All limiters are nil-safe.
package limiters
