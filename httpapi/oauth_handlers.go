package httpapi

import (
	"crypto/subtle"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStatePath   = "/login/oauth2/code"
)

func (s *Server) startOAuth(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	authURL, state, err := s.engine.OAuthAuthorizationURL(provider)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	http.SetCookie(w, s.stateCookie(state, int(s.config.OAuth.StateTTL.Seconds())))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// oauthCallback checks the state cookie, completes the exchange and
// redirects to the front end. Every failure lands on the same failure
// redirect.
func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	q := r.URL.Query()

	// The state is single use whatever happens next.
	http.SetCookie(w, s.stateCookie("", -1))

	if e := q.Get("error"); e != "" {
		s.logger.Info("oauth provider returned error", zap.String("provider", provider), zap.String("error", e))
		s.oauthFailure(w, r)
		return
	}

	cookie, err := r.Cookie(oauthStateCookie)
	state := q.Get("state")
	if err != nil || cookie.Value == "" || state == "" ||
		subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		s.logger.Warn("oauth state mismatch", zap.String("provider", provider))
		s.oauthFailure(w, r)
		return
	}

	res, err := s.engine.CompleteOAuthLogin(r.Context(), provider, q.Get("code"))
	if err != nil {
		s.oauthFailure(w, r)
		return
	}

	s.transport.SetTokens(w, res.AccessToken, res.RefreshToken)
	http.Redirect(w, r, s.config.OAuth.SuccessRedirect, http.StatusFound)
}

func (s *Server) oauthFailure(w http.ResponseWriter, r *http.Request) {
	target, err := url.Parse(s.config.OAuth.FailureRedirect)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "OAuth login failed")
		return
	}
	q := target.Query()
	q.Set("error", "oauth_failed")
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     oauthStatePath,
		Domain:   s.config.Cookie.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
