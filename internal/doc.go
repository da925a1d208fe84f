// Package internal holds random-value helpers shared by the engine.
//
// # Sub-packages
//
//   - audit: async event dispatch with zap, channel and no-op sinks
//   - limiters: per-email lockout and per-identity cooldown markers
//   - rate: per-address token buckets
//   - postgres: relational stores and embedded migrations
//   - postgres/migrate: migration runner
//   - config: environment and .env loading
//   - logging: zap logger construction
package internal
