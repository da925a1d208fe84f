package httpapi

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/mnemoforge/authcore"
	"github.com/mnemoforge/authcore/session"
)

func TestRegisterSetsCookiesAndSendsVerification(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email":    "  New@Example.test ",
		"password": testPassword,
	})
	expectStatus(t, resp, http.StatusCreated)

	var body sessionResponse
	decodeJSON(t, resp, &body)
	if body.Message != msgRegisterSuccessful {
		t.Fatalf("message = %q", body.Message)
	}
	if body.User == nil || body.User.Email != "new@example.test" || body.User.Role != "USER" {
		t.Fatalf("user = %+v", body.User)
	}
	if body.User.EmailVerified {
		t.Fatal("new account should not be verified")
	}
	if env.cookie(session.AccessCookie) == "" || env.cookie(session.RefreshCookie) == "" {
		t.Fatal("session cookies not set")
	}
	if tok := env.mailer.waitToken(t, "verification"); tok == "" {
		t.Fatal("verification link without token")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "dup@example.test")

	resp := env.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email":    "dup@example.test",
		"password": testPassword,
	})
	expectStatus(t, resp, http.StatusConflict)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "not-an-email", "password": testPassword})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = env.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "short@example.test", "password": "abc"})
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestLoginSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ok@example.test")
	env.do(t, http.MethodPost, "/auth/logout", nil)

	resp := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "ok@example.test", "password": testPassword})
	expectStatus(t, resp, http.StatusOK)
	var body sessionResponse
	decodeJSON(t, resp, &body)
	if body.Message != "Login successful" {
		t.Fatalf("message = %q", body.Message)
	}
	if body.TwoFactorRequired || body.User == nil || body.User.Email != "ok@example.test" {
		t.Fatalf("body = %+v", body)
	}
	if env.cookie(session.AccessCookie) == "" || env.cookie(session.RefreshCookie) == "" {
		t.Fatal("login did not set session cookies")
	}
}

func TestLoginFailuresShareOneMessage(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ann@example.test")
	env.do(t, http.MethodPost, "/auth/logout", nil)

	cases := []map[string]string{
		{"email": "ann@example.test", "password": "wrong password"},
		{"email": "nobody@example.test", "password": testPassword},
		{"email": "", "password": ""},
	}
	for _, c := range cases {
		resp := env.do(t, http.MethodPost, "/auth/login", c)
		expectStatus(t, resp, http.StatusUnauthorized)
		if msg := errorMessage(t, resp); msg != msgInvalidCredentials {
			t.Fatalf("message = %q", msg)
		}
	}
	if env.cookie(session.AccessCookie) != "" {
		t.Fatal("failed login must not set cookies")
	}
}

func TestLoginLockout(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "lock@example.test")

	for i := 0; i < 5; i++ {
		resp := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "lock@example.test", "password": "bad-password"})
		expectStatus(t, resp, http.StatusUnauthorized)
	}

	resp := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "lock@example.test", "password": testPassword})
	expectStatus(t, resp, http.StatusUnauthorized)
	if msg := errorMessage(t, resp); msg != msgAccountLocked {
		t.Fatalf("message = %q", msg)
	}
}

func TestLoginRateLimitSetsRetryAfter(t *testing.T) {
	env := newTestEnv(t, func(cfg *authcore.Config, _ *authcore.Builder) {
		cfg.RateLimit.Login = authcore.BucketConfig{Capacity: 2, Period: cfg.RateLimit.Login.Period}
	})

	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "x@example.test", "password": "whatever1"})
		expectStatus(t, resp, http.StatusUnauthorized)
	}
	resp := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "x@example.test", "password": "whatever1"})
	expectStatus(t, resp, http.StatusTooManyRequests)
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 1 {
		t.Fatalf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
}

func TestCheckMeRefreshLogout(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/auth/check", nil)
	expectStatus(t, resp, http.StatusUnauthorized)

	env.register(t, "flow@example.test")

	resp = env.do(t, http.MethodGet, "/auth/check", nil)
	expectStatus(t, resp, http.StatusOK)
	var check map[string]any
	decodeJSON(t, resp, &check)
	if check["email"] != "flow@example.test" {
		t.Fatalf("check = %v", check)
	}

	resp = env.do(t, http.MethodGet, "/auth/me", nil)
	expectStatus(t, resp, http.StatusOK)
	var me userResponse
	decodeJSON(t, resp, &me)
	if me.Email != "flow@example.test" || !me.HasPassword {
		t.Fatalf("me = %+v", me)
	}

	resp = env.do(t, http.MethodPost, "/auth/refresh", nil)
	expectStatus(t, resp, http.StatusOK)
	if env.cookie(session.AccessCookie) == "" {
		t.Fatal("refresh did not set access cookie")
	}

	resp = env.do(t, http.MethodPost, "/auth/logout", nil)
	expectStatus(t, resp, http.StatusOK)
	if env.cookie(session.AccessCookie) != "" || env.cookie(session.RefreshCookie) != "" {
		t.Fatal("logout did not clear cookies")
	}

	resp = env.do(t, http.MethodGet, "/auth/check", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp = env.do(t, http.MethodPost, "/auth/refresh", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "swap@example.test")
	access := env.cookie(session.AccessCookie)

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: session.RefreshCookie, Value: access})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)
	if msg := errorMessage(t, resp); msg != msgInvalidToken {
		t.Fatalf("message = %q", msg)
	}
}
