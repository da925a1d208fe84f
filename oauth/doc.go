// Package oauth maps provider user-info documents onto one attribute set
// and performs the authorization-code exchange for the configured
// providers.
//
// Each provider declares where its subject id, email, display name and
// picture live in its user-info JSON. Paths may be nested with dots
// ("picture.data.url"). Values may be strings or numbers.
package oauth
