// Package rate implements Redis-backed token buckets keyed by client
// address and endpoint class.
//
// # Bucket semantics
//
// Each bucket holds up to Capacity tokens and refills continuously at
// Capacity per Period. A request takes one token or is rejected. State
// lives in one Redis hash per (class, subject) under the "rl:" prefix and
// is updated by a single Lua script, so every instance sees the same
// buckets.
//
// # What this package must NOT do
//
//   - Decide account lockout (internal/limiters owns that).
//   - Keep any process-local counters.
package rate
