package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/mnemoforge/authcore"
	"github.com/mnemoforge/authcore/session"
)

const (
	successURL = "https://app.example.test/oauth2/redirect"
	failureURL = "https://app.example.test/login"
)

// rewriteTransport sends every request to target, keeping path and query.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(out)
}

// newFakeGitHub answers the token exchange for code "good-code" and serves
// userInfo as the user document. The address listing is empty.
func newFakeGitHub(t *testing.T, userInfo string) *http.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			if r.Form.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"bad_verification_code"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"gh-token","token_type":"bearer"}`))
			return
		}
		if r.URL.Path == "/user/emails" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(userInfo))
	}))
	t.Cleanup(srv.Close)
	target, _ := url.Parse(srv.URL)
	return &http.Client{Transport: rewriteTransport{target: target}}
}

func newOAuthEnv(t *testing.T, userInfo string) *testEnv {
	t.Helper()
	client := newFakeGitHub(t, userInfo)
	return newTestEnv(t, func(cfg *authcore.Config, b *authcore.Builder) {
		cfg.OAuth.RedirectBaseURL = "https://auth.example.test"
		cfg.OAuth.SuccessRedirect = successURL
		cfg.OAuth.FailureRedirect = failureURL
		cfg.OAuth.Providers = map[string]authcore.OAuthProviderConfig{
			"github": {ClientID: "cid", ClientSecret: "csecret"},
		}
		b.WithHTTPClient(client)
	})
}

// startOAuth follows the first leg and returns the state from the
// provider URL. The state cookie lands in the jar.
func startOAuth(t *testing.T, env *testEnv) string {
	t.Helper()
	resp := env.do(t, http.MethodGet, "/oauth2/authorization/github", nil)
	expectStatus(t, resp, http.StatusFound)
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Host != "github.com" {
		t.Fatalf("redirected to %s", loc)
	}
	if got := loc.Query().Get("redirect_uri"); got != "https://auth.example.test/login/oauth2/code/github" {
		t.Fatalf("redirect_uri = %q", got)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("no state in authorization URL")
	}
	return state
}

func expectRedirect(t *testing.T, resp *http.Response, prefix string) *url.URL {
	t.Helper()
	expectStatus(t, resp, http.StatusFound)
	loc := resp.Header.Get("Location")
	if !strings.HasPrefix(loc, prefix) {
		t.Fatalf("Location = %q, want prefix %q", loc, prefix)
	}
	u, _ := url.Parse(loc)
	return u
}

func TestOAuthLoginCreatesVerifiedAccount(t *testing.T) {
	env := newOAuthEnv(t, `{"id":4242,"login":"octo","email":"Octo@Example.test","avatar_url":"https://avatars.test/4242"}`)
	state := startOAuth(t, env)

	resp := env.do(t, http.MethodGet, "/login/oauth2/code/github?code=good-code&state="+url.QueryEscape(state), nil)
	expectRedirect(t, resp, successURL)
	if env.cookie(session.AccessCookie) == "" || env.cookie(session.RefreshCookie) == "" {
		t.Fatal("session cookies not set")
	}

	resp = env.do(t, http.MethodGet, "/auth/me", nil)
	expectStatus(t, resp, http.StatusOK)
	var me userResponse
	decodeJSON(t, resp, &me)
	if me.Email != "octo@example.test" || !me.EmailVerified || me.HasPassword || me.Role != "USER" {
		t.Fatalf("me = %+v", me)
	}
	if me.DisplayName != "octo" || me.PictureURL != "https://avatars.test/4242" {
		t.Fatalf("profile attributes = %+v", me)
	}
}

func TestOAuthCallbackRejectsBadState(t *testing.T) {
	env := newOAuthEnv(t, `{"id":1,"email":"a@example.test"}`)
	startOAuth(t, env)

	resp := env.do(t, http.MethodGet, "/login/oauth2/code/github?code=good-code&state=forged", nil)
	u := expectRedirect(t, resp, failureURL)
	if u.Query().Get("error") != "oauth_failed" {
		t.Fatalf("failure redirect = %s", u)
	}
	if env.cookie(session.AccessCookie) != "" {
		t.Fatal("cookies set on failure")
	}
}

func TestOAuthCallbackWithoutStateCookie(t *testing.T) {
	env := newOAuthEnv(t, `{"id":1,"email":"a@example.test"}`)

	resp := env.do(t, http.MethodGet, "/login/oauth2/code/github?code=good-code&state=anything", nil)
	expectRedirect(t, resp, failureURL)
}

func TestOAuthCallbackProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		userInfo string
		query    string
	}{
		{"provider error", `{"id":1,"email":"a@example.test"}`, "error=access_denied"},
		{"bad code", `{"id":1,"email":"a@example.test"}`, "code=bad-code"},
		{"missing email", `{"id":1,"login":"x"}`, "code=good-code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newOAuthEnv(t, tt.userInfo)
			state := startOAuth(t, env)
			resp := env.do(t, http.MethodGet, "/login/oauth2/code/github?"+tt.query+"&state="+url.QueryEscape(state), nil)
			u := expectRedirect(t, resp, failureURL)
			if u.Query().Get("error") != "oauth_failed" {
				t.Fatalf("failure redirect = %s", u)
			}
		})
	}
}

func TestOAuthSubjectMismatchFails(t *testing.T) {
	env := newOAuthEnv(t, `{"id":999,"email":"linked@example.test"}`)
	ctx := context.Background()
	identity := &authcore.Identity{Email: "linked@example.test", Role: authcore.RoleUser, EmailVerified: true}
	if err := env.store.Create(ctx, identity); err != nil {
		t.Fatal(err)
	}
	if err := env.store.CreateLink(ctx, authcore.ExternalLink{IdentityID: identity.ID, Provider: "github", Subject: "111"}); err != nil {
		t.Fatal(err)
	}

	state := startOAuth(t, env)
	resp := env.do(t, http.MethodGet, "/login/oauth2/code/github?code=good-code&state="+url.QueryEscape(state), nil)
	expectRedirect(t, resp, failureURL)

	link, err := env.store.GetLink(ctx, identity.ID, "github")
	if err != nil || link.Subject != "111" {
		t.Fatalf("link = %+v, %v", link, err)
	}
}

func TestOAuthUnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/oauth2/authorization/myspace", nil)
	expectStatus(t, resp, http.StatusNotFound)
}
