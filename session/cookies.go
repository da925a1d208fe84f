package session

import (
	"net/http"
	"time"
)

const (
	// AccessCookie holds the access token.
	AccessCookie = "accessToken"
	// RefreshCookie holds the refresh token.
	RefreshCookie = "refreshToken"
)

// Config controls cookie attributes. Secure is an explicit switch rather
// than something derived from the environment name.
type Config struct {
	Secure     bool
	Domain     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Transport writes and reads the session cookies.
type Transport struct {
	config Config
}

// NewTransport returns a Transport for cfg.
func NewTransport(cfg Config) *Transport {
	return &Transport{config: cfg}
}

// SetTokens writes both cookies.
func (t *Transport) SetTokens(w http.ResponseWriter, accessToken, refreshToken string) {
	t.SetAccess(w, accessToken)
	http.SetCookie(w, t.cookie(RefreshCookie, refreshToken, t.config.RefreshTTL))
}

// SetAccess writes only the access cookie, as after a refresh.
func (t *Transport) SetAccess(w http.ResponseWriter, accessToken string) {
	http.SetCookie(w, t.cookie(AccessCookie, accessToken, t.config.AccessTTL))
}

// Clear overwrites both cookies with empty, immediately expiring values.
func (t *Transport) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		c := t.cookie(name, "", 0)
		// net/http emits "Max-Age=0" for negative values.
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// AccessToken returns the access cookie value. A missing cookie is not an
// error: it means the request is not authenticated.
func (t *Transport) AccessToken(r *http.Request) (string, bool) {
	return lookup(r, AccessCookie)
}

// RefreshToken returns the refresh cookie value.
func (t *Transport) RefreshToken(r *http.Request) (string, bool) {
	return lookup(r, RefreshCookie)
}

func (t *Transport) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   t.config.Domain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   t.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func lookup(r *http.Request, name string) (string, bool) {
	if r == nil {
		return "", false
	}
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
