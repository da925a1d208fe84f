package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HMAC signing secret NewManager accepts.
const MinSecretLength = 32

// TokenType discriminates the three token flows sharing one signing key.
type TokenType string

const (
	// TypeAccess authorizes API calls and carries email and roles.
	TypeAccess TokenType = "access"
	// TypeRefresh is only accepted by the refresh endpoint.
	TypeRefresh TokenType = "refresh"
	// TypeChallenge marks "password verified, second factor pending".
	TypeChallenge TokenType = "2fa-temp"
)

// ErrInvalidToken is the single error class returned for every token
// failure. Use errors.Is to test for it.
var ErrInvalidToken = errors.New("invalid token")

// TokenError carries the internal failure reason for logs while
// presenting the generic ErrInvalidToken message to callers.
type TokenError struct {
	reason string
	cause  error
}

func (e *TokenError) Error() string { return ErrInvalidToken.Error() }

// Is reports whether target is ErrInvalidToken.
func (e *TokenError) Is(target error) bool { return target == ErrInvalidToken }

// Unwrap exposes the parser error for diagnostics.
func (e *TokenError) Unwrap() error { return e.cause }

// Reason returns a short log-only description of the failed check.
func (e *TokenError) Reason() string { return e.reason }

// Reason extracts the log-only reason from err, or "" when err is not a
// token failure.
func Reason(err error) string {
	var te *TokenError
	if errors.As(err, &te) {
		return te.reason
	}
	return ""
}

// Config configures a Manager. Secret, Issuer and every TTL are required.
type Config struct {
	Secret       []byte
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ChallengeTTL time.Duration
	Leeway       time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Manager issues and validates HS256-signed tokens. It holds no mutable
// state and is safe for concurrent use.
type Manager struct {
	config Config
}

// Claims is the typed claim set shared by all token types. Email and
// Roles are only populated for access tokens.
type Claims struct {
	Type  TokenType `json:"typ"`
	Email string    `json:"email,omitempty"`
	Roles []string  `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID returns the identity id carried in sub.
func (c *Claims) SubjectID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// Require fails with ErrInvalidToken unless the claims are of type t.
func (c *Claims) Require(t TokenType) error {
	if c == nil || c.Type != t {
		return &TokenError{reason: "wrong_type"}
	}
	return nil
}

// NewManager validates cfg and returns a Manager. A secret shorter than
// MinSecretLength is a configuration error.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.ChallengeTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	cfg.Secret = secret

	return &Manager{config: cfg}, nil
}

// IssueAccess signs an access token for subjectID carrying email and roles.
func (m *Manager) IssueAccess(subjectID, email string, roles []string) (string, error) {
	return m.issue(subjectID, TypeAccess, m.config.AccessTTL, func(c *Claims) {
		c.Email = email
		c.Roles = append([]string(nil), roles...)
	})
}

// IssueRefresh signs a refresh token for subjectID.
func (m *Manager) IssueRefresh(subjectID string) (string, error) {
	return m.issue(subjectID, TypeRefresh, m.config.RefreshTTL, nil)
}

// IssueChallenge signs a 2fa-temp token. It never carries email or roles.
func (m *Manager) IssueChallenge(subjectID string) (string, error) {
	return m.issue(subjectID, TypeChallenge, m.config.ChallengeTTL, nil)
}

func (m *Manager) issue(subjectID string, typ TokenType, ttl time.Duration, fill func(*Claims)) (string, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", errors.New("empty subject")
	}
	now := m.config.Now()
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if fill != nil {
		fill(&claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.Secret)
}

// Validate checks signature, issuer and expiry and returns the claims.
// It does not check the token type; callers use Claims.Require.
// Every failure is a *TokenError matching ErrInvalidToken.
func (m *Manager) Validate(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, &TokenError{reason: "empty"}
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, &TokenError{reason: classify(err), cause: err}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, &TokenError{reason: "invalid_claims"}
	}
	if claims.Subject == "" {
		return nil, &TokenError{reason: "missing_subject"}
	}
	switch claims.Type {
	case TypeAccess, TypeRefresh, TypeChallenge:
	default:
		return nil, &TokenError{reason: "unknown_type"}
	}

	return claims, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "wrong_issuer"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "not_yet_valid"
	default:
		return "invalid"
	}
}
