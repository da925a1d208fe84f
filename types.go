package authcore

import (
	"context"
	"time"
)

// Role tags an identity. Authorization beyond this tag lives elsewhere.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Identity is a registered account.
type Identity struct {
	ID    string
	Email string
	// PasswordHash is empty for accounts created through an OAuth provider.
	PasswordHash  string
	DisplayName   string
	Role          Role
	EmailVerified bool
	// TwoFactorSecret is the base32 TOTP secret in plaintext. Stores
	// encrypt it at rest. It is set, with TwoFactorEnabled false, while an
	// enrollment is pending.
	TwoFactorSecret   string
	TwoFactorEnabled  bool
	BackupCodeHashes  []string
	PictureURL        string
	PreferredLanguage string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasPassword reports whether the identity can log in with a password.
func (i *Identity) HasPassword() bool { return i != nil && i.PasswordHash != "" }

// Roles returns the role claim values carried by access tokens.
func (i *Identity) Roles() []string {
	if i == nil || i.Role == "" {
		return nil
	}
	return []string{string(i.Role)}
}

// ExternalLink binds an identity to a provider account. The subject never
// changes once stored.
type ExternalLink struct {
	IdentityID string
	Provider   string
	Subject    string
	CreatedAt  time.Time
}

// VerificationTokenType distinguishes the two single-use token flows.
type VerificationTokenType string

const (
	TokenEmailVerification VerificationTokenType = "EMAIL_VERIFICATION"
	TokenPasswordReset     VerificationTokenType = "PASSWORD_RESET"
)

// VerificationToken is a persisted single-use token.
type VerificationToken struct {
	ID          string
	IdentityID  string
	Token       string
	Type        VerificationTokenType
	ExpiresAt   time.Time
	UsedAt      *time.Time
	RequesterIP string
	CreatedAt   time.Time
}

// Usable reports whether the token is unused and unexpired at now.
func (t *VerificationToken) Usable(now time.Time) bool {
	return t != nil && t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// Principal is the authenticated caller as seen by downstream services.
type Principal struct {
	UserID string
	Email  string
	Roles  []string
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role Role) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

// LoginResult is returned by every flow that can end in a session. When
// TwoFactorRequired is set, only ChallengeToken is populated.
type LoginResult struct {
	Identity          *Identity
	AccessToken       string
	RefreshToken      string
	TwoFactorRequired bool
	ChallengeToken    string
}

// RegisterRequest carries the fields of a new password account.
type RegisterRequest struct {
	Email             string
	Password          string
	DisplayName       string
	PreferredLanguage string
}

// TwoFactorStatus summarizes an identity's second factor.
type TwoFactorStatus struct {
	Enabled              bool
	RemainingBackupCodes int
}

// IdentityStore persists identities.
type IdentityStore interface {
	// GetByEmail returns ErrIdentityNotFound when no identity has email.
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	GetByID(ctx context.Context, id string) (*Identity, error)
	// Create assigns ID and timestamps when empty. It returns
	// ErrAccountExists for a duplicate email.
	Create(ctx context.Context, identity *Identity) error
	// UpdatePicture writes only the picture column.
	UpdatePicture(ctx context.Context, identityID, pictureURL string) error
	// UpdatePasswordHash swaps the hash only while the stored value still
	// equals oldHash, and reports whether it did.
	UpdatePasswordHash(ctx context.Context, identityID, oldHash, newHash string) (bool, error)
	// UpdateTwoFactor applies u only while the stored enabled flag equals
	// u.WasEnabled, and reports whether it did.
	UpdateTwoFactor(ctx context.Context, identityID string, u TwoFactorUpdate) (bool, error)
	// RemoveBackupCode deletes exactly one stored hash and reports whether
	// it was still present.
	RemoveBackupCode(ctx context.Context, identityID, hash string) (bool, error)
}

// TwoFactorUpdate replaces the two-factor columns and the backup code set
// of one identity. WasEnabled guards against a concurrent enable or
// disable.
type TwoFactorUpdate struct {
	WasEnabled       bool
	Enabled          bool
	Secret           string
	BackupCodeHashes []string
}

// LinkStore persists external identity links.
type LinkStore interface {
	// GetLink returns ErrLinkNotFound when the identity has no link for provider.
	GetLink(ctx context.Context, identityID, provider string) (*ExternalLink, error)
	// CreateLink returns ErrOAuthSubjectMismatch when a link with another
	// subject already exists for the same identity and provider.
	CreateLink(ctx context.Context, link ExternalLink) error
}

// VerificationTokenStore persists single-use tokens. Consume operations
// run in one transaction holding a row lock on the token.
type VerificationTokenStore interface {
	// Replace deletes every token of the same identity and type, then
	// inserts token.
	Replace(ctx context.Context, token VerificationToken) error
	// Lookup returns ErrVerificationTokenNotFound unless a usable token of
	// typ exists.
	Lookup(ctx context.Context, token string, typ VerificationTokenType, now time.Time) (*VerificationToken, error)
	// ConsumeEmailVerification marks the token used, sets the verified flag
	// and deletes the identity's other verification tokens.
	ConsumeEmailVerification(ctx context.Context, token string, now time.Time) (identityID string, err error)
	// ConsumePasswordReset stores newHash and marks the token used, or does
	// neither. Other reset tokens of the identity are deleted.
	ConsumePasswordReset(ctx context.Context, token, newHash string, now time.Time) (identityID string, err error)
}

// Mailer delivers account emails. Implementations must not log links.
type Mailer interface {
	SendVerification(ctx context.Context, to, name, link string) error
	SendPasswordReset(ctx context.Context, to, name, link string) error
}
