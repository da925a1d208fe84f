package password

import (
	"errors"
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T) *Argon2 {
	t.Helper()
	hasher, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return hasher
}

func TestHashAndVerify(t *testing.T) {
	hasher := newTestHasher(t)

	hash, err := hasher.Hash("ValidPassword123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("ValidPassword123!", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	hasher := newTestHasher(t)

	hash, err := hasher.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := hasher.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestCompareWithoutStoredHash(t *testing.T) {
	hasher := newTestHasher(t)

	if hasher.Compare("anything-at-all", "") {
		t.Fatal("empty stored hash must never match")
	}
	if hasher.Compare("anything-at-all", "not-a-phc-hash") {
		t.Fatal("malformed stored hash must never match")
	}

	hash, _ := hasher.Hash("anything-at-all")
	if !hasher.Compare("anything-at-all", hash) {
		t.Fatal("expected Compare to accept the right password")
	}
}

func TestNeedsUpgrade(t *testing.T) {
	oldHasher := newTestHasher(t)
	hash, err := oldHasher.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := testConfig()
	stronger.Time = 2
	newHasher, err := NewArgon2(stronger)
	if err != nil {
		t.Fatalf("NewArgon2(new) error: %v", err)
	}

	needsUpgrade, err := newHasher.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if !needsUpgrade {
		t.Fatal("expected NeedsUpgrade to return true for weaker hash parameters")
	}

	same, err := oldHasher.NeedsUpgrade(hash)
	if err != nil || same {
		t.Fatalf("expected no upgrade for current parameters, got %v %v", same, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher := newTestHasher(t)

	hash, err := hasher.Hash("password")
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"not phc":        "not-a-phc-hash",
		"other algo":     strings.Replace(hash, "$argon2id$", "$argon2i$", 1),
		"trailing param": strings.Replace(hash, ",p=1$", ",p=1,x=2$", 1),
		"weak memory":    strings.Replace(hash, "m=8192", "m=1024", 1),
		"bad salt":       strings.Join(append(strings.Split(hash, "$")[:4], "!!!", "AAAA"), "$"),
	}
	for name, stored := range tests {
		if _, err := hasher.Verify("password", stored); !errors.Is(err, ErrMalformedHash) {
			t.Errorf("%s: expected ErrMalformedHash, got %v", name, err)
		}
	}
}

func TestVerifyWrongVersion(t *testing.T) {
	hasher := newTestHasher(t)

	hash, err := hasher.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	wrongVersion := strings.Replace(hash, "$v=19$", "$v=18$", 1)
	if _, err := hasher.Verify("version-test", wrongVersion); !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}
}

func TestHashTooShortPassword(t *testing.T) {
	hasher := newTestHasher(t)

	for _, pwd := range []string{"", "short"} {
		if _, err := hasher.Hash(pwd); !errors.Is(err, ErrPasswordTooShort) {
			t.Fatalf("%q: expected ErrPasswordTooShort, got %v", pwd, err)
		}
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected weak memory config to be rejected")
	}
}
