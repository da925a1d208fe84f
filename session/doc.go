// Package session binds access and refresh tokens to HTTP cookies.
//
// Sessions are not stored server-side: a session is the pair of signed
// tokens held by the client. Logging out only clears the cookies.
package session
