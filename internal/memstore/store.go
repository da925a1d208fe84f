// Package memstore keeps identities, external links and verification
// tokens in process memory. authd uses it when no DATABASE_URL is set;
// HTTP tests use it in place of Postgres. Data does not survive a restart
// and is not shared between instances.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mnemoforge/authcore"
)

// Store implements authcore.IdentityStore, authcore.LinkStore and
// authcore.VerificationTokenStore.
type Store struct {
	mu         sync.Mutex
	identities map[string]*authcore.Identity
	byEmail    map[string]string
	links      map[linkKey]authcore.ExternalLink
	tokens     map[string]*authcore.VerificationToken
	now        func() time.Time
}

type linkKey struct {
	identityID string
	provider   string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		identities: make(map[string]*authcore.Identity),
		byEmail:    make(map[string]string),
		links:      make(map[linkKey]authcore.ExternalLink),
		tokens:     make(map[string]*authcore.VerificationToken),
		now:        time.Now,
	}
}

func clone(in *authcore.Identity) *authcore.Identity {
	out := *in
	out.BackupCodeHashes = append([]string(nil), in.BackupCodeHashes...)
	return &out
}

func (s *Store) GetByEmail(_ context.Context, email string) (*authcore.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, authcore.ErrIdentityNotFound
	}
	return clone(s.identities[id]), nil
}

func (s *Store) GetByID(_ context.Context, id string) (*authcore.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, authcore.ErrIdentityNotFound
	}
	return clone(identity), nil
}

// Create assigns ID and timestamps when unset.
func (s *Store) Create(_ context.Context, identity *authcore.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[identity.Email]; ok {
		return authcore.ErrAccountExists
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	s.identities[identity.ID] = clone(identity)
	s.byEmail[identity.Email] = identity.ID
	return nil
}

func (s *Store) UpdatePicture(_ context.Context, identityID, pictureURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[identityID]
	if !ok {
		return authcore.ErrIdentityNotFound
	}
	identity.PictureURL = pictureURL
	identity.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, identityID, oldHash, newHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[identityID]
	if !ok || identity.PasswordHash != oldHash {
		return false, nil
	}
	identity.PasswordHash = newHash
	identity.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) UpdateTwoFactor(_ context.Context, identityID string, u authcore.TwoFactorUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[identityID]
	if !ok {
		return false, authcore.ErrIdentityNotFound
	}
	if identity.TwoFactorEnabled != u.WasEnabled {
		return false, nil
	}
	identity.TwoFactorEnabled = u.Enabled
	identity.TwoFactorSecret = u.Secret
	identity.BackupCodeHashes = append([]string(nil), u.BackupCodeHashes...)
	identity.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) RemoveBackupCode(_ context.Context, identityID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[identityID]
	if !ok {
		return false, nil
	}
	for i, h := range identity.BackupCodeHashes {
		if h == hash {
			identity.BackupCodeHashes = append(identity.BackupCodeHashes[:i:i], identity.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetLink(_ context.Context, identityID, provider string) (*authcore.ExternalLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[linkKey{identityID, provider}]
	if !ok {
		return nil, authcore.ErrLinkNotFound
	}
	return &link, nil
}

func (s *Store) CreateLink(_ context.Context, link authcore.ExternalLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey{link.IdentityID, link.Provider}
	if existing, ok := s.links[key]; ok {
		if existing.Subject != link.Subject {
			return authcore.ErrOAuthSubjectMismatch
		}
		return nil
	}
	s.links[key] = link
	return nil
}

func (s *Store) Replace(_ context.Context, token authcore.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteTokensLocked(token.IdentityID, token.Type, "")
	s.tokens[token.Token] = &token
	return nil
}

func (s *Store) Lookup(_ context.Context, token string, typ authcore.VerificationTokenType, now time.Time) (*authcore.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.usableLocked(token, typ, now)
	if !ok {
		return nil, authcore.ErrVerificationTokenNotFound
	}
	out := *t
	return &out, nil
}

func (s *Store) ConsumeEmailVerification(_ context.Context, token string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.usableLocked(token, authcore.TokenEmailVerification, now)
	if !ok {
		return "", authcore.ErrVerificationTokenNotFound
	}
	identity, ok := s.identities[t.IdentityID]
	if !ok {
		return "", authcore.ErrVerificationTokenNotFound
	}

	used := now
	t.UsedAt = &used
	identity.EmailVerified = true
	identity.UpdatedAt = now
	s.deleteTokensLocked(t.IdentityID, t.Type, t.Token)
	return t.IdentityID, nil
}

func (s *Store) ConsumePasswordReset(_ context.Context, token, newHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.usableLocked(token, authcore.TokenPasswordReset, now)
	if !ok {
		return "", authcore.ErrVerificationTokenNotFound
	}
	identity, ok := s.identities[t.IdentityID]
	if !ok {
		return "", authcore.ErrVerificationTokenNotFound
	}

	used := now
	t.UsedAt = &used
	identity.PasswordHash = newHash
	identity.UpdatedAt = now
	s.deleteTokensLocked(t.IdentityID, t.Type, t.Token)
	return t.IdentityID, nil
}

func (s *Store) usableLocked(token string, typ authcore.VerificationTokenType, now time.Time) (*authcore.VerificationToken, bool) {
	t, ok := s.tokens[token]
	if !ok || t.Type != typ || !t.Usable(now) {
		return nil, false
	}
	return t, true
}

// deleteTokensLocked drops every token of (identityID, typ) except keep.
func (s *Store) deleteTokensLocked(identityID string, typ authcore.VerificationTokenType, keep string) {
	for k, t := range s.tokens {
		if k != keep && t.IdentityID == identityID && t.Type == typ {
			delete(s.tokens, k)
		}
	}
}
