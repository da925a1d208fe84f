// Package middleware adapts authcore.Engine to net/http.
//
// # Guards
//
//   - [RequireAuth] validates the access cookie (or a Bearer header) and
//     stores the [authcore.Principal] in the request context.
//   - [RequireRole] rejects principals without a role tag.
//   - [ClientInfo] records the caller address and User-Agent for rate
//     limiting and audit events.
//
// Guards never parse tokens themselves; every decision is delegated to
// Engine.Authenticate, which does not touch the identity store.
package middleware
