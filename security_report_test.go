package authcore

import (
	"reflect"
	"testing"
)

func TestSecurityReport(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.OAuth.RedirectBaseURL = "https://auth.example.test"
		cfg.OAuth.Providers = map[string]OAuthProviderConfig{
			"google": {ClientID: "g", ClientSecret: "gs"},
			"github": {ClientID: "h", ClientSecret: "hs"},
		}
	})
	cfg := env.engine.Config()

	r := env.engine.SecurityReport()
	if r.SigningAlgorithm != "HS256" {
		t.Fatalf("algorithm = %q", r.SigningAlgorithm)
	}
	if r.AccessTTL != cfg.JWT.AccessTTL || r.RefreshTTL != cfg.JWT.RefreshTTL {
		t.Fatalf("ttls = %v / %v", r.AccessTTL, r.RefreshTTL)
	}
	if !r.LockoutActive || r.LockoutThreshold != cfg.Lockout.Threshold {
		t.Fatalf("lockout = %v %d", r.LockoutActive, r.LockoutThreshold)
	}
	if !reflect.DeepEqual(r.OAuthProviders, []string{"github", "google"}) {
		t.Fatalf("providers = %v", r.OAuthProviders)
	}
	if r.RateLimits["login"] != cfg.RateLimit.Login {
		t.Fatalf("login limit = %+v", r.RateLimits["login"])
	}
	if r.Argon2 != cfg.Password {
		t.Fatalf("argon2 = %+v", r.Argon2)
	}
}

func TestSecurityReportNilEngine(t *testing.T) {
	var e *Engine
	if r := e.SecurityReport(); r.SigningAlgorithm != "" || r.OAuthProviders != nil {
		t.Fatalf("nil engine report = %+v", r)
	}
}
