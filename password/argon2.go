package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// MinPasswordBytes is the shortest password Hash accepts. Length is
// counted in bytes with no Unicode normalization.
const MinPasswordBytes = 8

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrMalformedHash    = errors.New("password: malformed argon2id hash")
	ErrVersion          = errors.New("password: unsupported argon2 version")
)

// Floors applied both to configuration and to stored hashes.
var floor = Config{
	Memory:      8 * 1024,
	Time:        1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   16,
}

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the production cost parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (c Config) validate() error {
	switch {
	case c.Memory < floor.Memory:
		return fmt.Errorf("password memory must be >= %d KiB", floor.Memory)
	case c.Time < floor.Time:
		return errors.New("password time must be >= 1")
	case c.Parallelism < floor.Parallelism:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < floor.SaltLength:
		return fmt.Errorf("password salt length must be >= %d", floor.SaltLength)
	case c.KeyLength < floor.KeyLength:
		return fmt.Errorf("password key length must be >= %d", floor.KeyLength)
	}
	return nil
}

// encoded is one decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" string.
type encoded struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (h encoded) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.time, h.parallelism,
		base64.StdEncoding.EncodeToString(h.salt),
		base64.StdEncoding.EncodeToString(h.key))
}

func (h encoded) derive(password string) []byte {
	return argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.parallelism, uint32(len(h.key)))
}

func decode(s string) (encoded, error) {
	var h encoded
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return h, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || parts[2] != fmt.Sprintf("v=%d", version) {
		return h, ErrMalformedHash
	}
	if version != argon2.Version {
		return h, ErrVersion
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.parallelism); err != nil {
		return h, ErrMalformedHash
	}
	// Sscanf tolerates trailing junk; re-rendering catches it.
	rendered := fmt.Sprintf("m=%d,t=%d,p=%d", h.memory, h.time, h.parallelism)
	if rendered != parts[3] {
		return h, ErrMalformedHash
	}
	if h.memory < floor.Memory || h.time < floor.Time || h.parallelism < floor.Parallelism {
		return h, ErrMalformedHash
	}

	var err error
	if h.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(h.salt) < int(floor.SaltLength) {
		return h, ErrMalformedHash
	}
	if h.key, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(h.key) == 0 {
		return h, ErrMalformedHash
	}
	return h, nil
}

// Argon2 hashes and verifies passwords. It keeps a dummy hash so Compare
// costs the same whether or not a stored hash exists.
type Argon2 struct {
	config Config
	dummy  string
}

// NewArgon2 validates cfg and precomputes the dummy hash.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	a := &Argon2{config: cfg}
	seed := make([]byte, 24)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	dummy, err := a.Hash(base64.RawStdEncoding.EncodeToString(seed))
	if err != nil {
		return nil, err
	}
	a.dummy = dummy
	return a, nil
}

// Hash returns a PHC-encoded Argon2id hash with a fresh random salt.
func (a *Argon2) Hash(password string) (string, error) {
	if len(password) < MinPasswordBytes {
		return "", ErrPasswordTooShort
	}

	h := encoded{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        make([]byte, a.config.SaltLength),
		key:         make([]byte, a.config.KeyLength),
	}
	if _, err := rand.Read(h.salt); err != nil {
		return "", err
	}
	h.key = h.derive(password)
	return h.String(), nil
}

// Verify reports whether password matches stored, using the parameters
// recorded in stored rather than the current config.
func (a *Argon2) Verify(password, stored string) (bool, error) {
	h, err := decode(stored)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(h.derive(password), h.key) == 1, nil
}

// Compare always performs one derivation. A missing or unreadable stored
// hash is checked against the dummy and reports false.
func (a *Argon2) Compare(password, stored string) bool {
	if stored != "" {
		if ok, err := a.Verify(password, stored); err == nil {
			return ok
		}
	}
	_, _ = a.Verify(password, a.dummy)
	return false
}

// NeedsUpgrade reports whether stored was produced with weaker
// parameters than the current config.
func (a *Argon2) NeedsUpgrade(stored string) (bool, error) {
	h, err := decode(stored)
	if err != nil {
		return false, err
	}
	return h.memory < a.config.Memory ||
		h.time < a.config.Time ||
		h.parallelism < a.config.Parallelism ||
		uint32(len(h.key)) != a.config.KeyLength, nil
}
