package authcore

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memoryStore implements every store interface over maps.
type memoryStore struct {
	mu         sync.Mutex
	identities map[string]*Identity
	byEmail    map[string]string
	links      map[string]ExternalLink
	tokens     map[string]*VerificationToken

	getErr error
	// afterGet runs once, outside the lock, after the next GetByEmail or
	// GetByID has taken its copy.
	afterGet func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		identities: make(map[string]*Identity),
		byEmail:    make(map[string]string),
		links:      make(map[string]ExternalLink),
		tokens:     make(map[string]*VerificationToken),
	}
}

func copyIdentity(in *Identity) *Identity {
	out := *in
	out.BackupCodeHashes = append([]string(nil), in.BackupCodeHashes...)
	return &out
}

func (s *memoryStore) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	s.mu.Lock()
	if s.getErr != nil {
		s.mu.Unlock()
		return nil, s.getErr
	}
	id, ok := s.byEmail[email]
	if !ok {
		s.mu.Unlock()
		return nil, ErrIdentityNotFound
	}
	out := copyIdentity(s.identities[id])
	hook := s.afterGet
	s.afterGet = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memoryStore) GetByID(ctx context.Context, id string) (*Identity, error) {
	s.mu.Lock()
	if s.getErr != nil {
		s.mu.Unlock()
		return nil, s.getErr
	}
	identity, ok := s.identities[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrIdentityNotFound
	}
	out := copyIdentity(identity)
	hook := s.afterGet
	s.afterGet = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memoryStore) Create(ctx context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[identity.Email]; ok {
		return ErrAccountExists
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	s.identities[identity.ID] = copyIdentity(identity)
	s.byEmail[identity.Email] = identity.ID
	return nil
}

func (s *memoryStore) UpdatePicture(ctx context.Context, identityID, pictureURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[identityID]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.PictureURL = pictureURL
	return nil
}

func (s *memoryStore) UpdatePasswordHash(ctx context.Context, identityID, oldHash, newHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[identityID]
	if !ok || identity.PasswordHash != oldHash {
		return false, nil
	}
	identity.PasswordHash = newHash
	return true, nil
}

func (s *memoryStore) UpdateTwoFactor(ctx context.Context, identityID string, u TwoFactorUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[identityID]
	if !ok {
		return false, ErrIdentityNotFound
	}
	if identity.TwoFactorEnabled != u.WasEnabled {
		return false, nil
	}
	identity.TwoFactorEnabled = u.Enabled
	identity.TwoFactorSecret = u.Secret
	identity.BackupCodeHashes = append([]string(nil), u.BackupCodeHashes...)
	return true, nil
}

func (s *memoryStore) RemoveBackupCode(ctx context.Context, identityID, hash string) (bool, error) {
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

func linkKey(identityID, provider string) string { return identityID + "|" + provider }

func (s *memoryStore) GetLink(ctx context.Context, identityID, provider string) (*ExternalLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkKey(identityID, provider)]
	if !ok {
		return nil, ErrLinkNotFound
	}
	return &link, nil
}

func (s *memoryStore) CreateLink(ctx context.Context, link ExternalLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey(link.IdentityID, link.Provider)
	if existing, ok := s.links[key]; ok {
		if existing.Subject != link.Subject {
			return ErrOAuthSubjectMismatch
		}
		return nil
	}
	s.links[key] = link
	return nil
}

func (s *memoryStore) Replace(ctx context.Context, token VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteTokensLocked(token.IdentityID, token.Type)
	s.tokens[token.Token] = &token
	return nil
}

func (s *memoryStore) deleteTokensLocked(identityID string, typ VerificationTokenType) {
	for k, t := range s.tokens {
		if t.IdentityID == identityID && t.Type == typ {
			delete(s.tokens, k)
		}
	}
}

func (s *memoryStore) usableLocked(token string, typ VerificationTokenType, now time.Time) (*VerificationToken, bool) {
	t, ok := s.tokens[token]
	if !ok || t.Type != typ || !t.Usable(now) {
		return nil, false
	}
	return t, true
}

func (s *memoryStore) Lookup(ctx context.Context, token string, typ VerificationTokenType, now time.Time) (*VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.usableLocked(token, typ, now)
	if !ok {
		return nil, ErrVerificationTokenNotFound
	}
	out := *t
	return &out, nil
}

func (s *memoryStore) ConsumeEmailVerification(ctx context.Context, token string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.usableLocked(token, TokenEmailVerification, now)
	if !ok {
		return "", ErrVerificationTokenNotFound
	}
	used := now
	t.UsedAt = &used
	s.identities[t.IdentityID].EmailVerified = true
	for k, other := range s.tokens {
		if other != t && other.IdentityID == t.IdentityID && other.Type == TokenEmailVerification {
			delete(s.tokens, k)
		}
	}
	return t.IdentityID, nil
}

func (s *memoryStore) ConsumePasswordReset(ctx context.Context, token, newHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.usableLocked(token, TokenPasswordReset, now)
	if !ok {
		return "", ErrVerificationTokenNotFound
	}
	used := now
	t.UsedAt = &used
	s.identities[t.IdentityID].PasswordHash = newHash
	for k, other := range s.tokens {
		if other != t && other.IdentityID == t.IdentityID && other.Type == TokenPasswordReset {
			delete(s.tokens, k)
		}
	}
	return t.IdentityID, nil
}

func (s *memoryStore) identity(t *testing.T, email string) *Identity {
	t.Helper()
	identity, err := s.GetByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("GetByEmail(%q) failed: %v", email, err)
	}
	return identity
}

type sentMail struct {
	kind string
	to   string
	link string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) SendVerification(ctx context.Context, to, name, link string) error {
	m.record("verification", to, link)
	return nil
}

func (m *recordingMailer) SendPasswordReset(ctx context.Context, to, name, link string) error {
	m.record("reset", to, link)
	return nil
}

func (m *recordingMailer) record(kind, to, link string) {
	m.mu.Lock()
	m.sent = append(m.sent, sentMail{kind: kind, to: to, link: link})
	m.mu.Unlock()
}

func (m *recordingMailer) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.kind == kind {
			n++
		}
	}
	return n
}

// lastToken returns the token carried by the most recent mail of kind.
func (m *recordingMailer) lastToken(t *testing.T, kind string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].kind != kind {
			continue
		}
		u, err := url.Parse(m.sent[i].link)
		if err != nil {
			t.Fatalf("parse mail link: %v", err)
		}
		return u.Query().Get("token")
	}
	t.Fatalf("no %s mail sent", kind)
	return ""
}

type testEnv struct {
	engine *Engine
	store  *memoryStore
	mailer *recordingMailer
	clock  *testClock
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	audit  <-chan AuditEvent
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte(testSecret)
	cfg.Password = PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.TOTP.BackupCodeCost = bcrypt.MinCost
	cfg.Cookie.Secure = false
	cfg.Verification.FrontendBaseURL = "https://app.example.test"
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	store := newMemoryStore()
	mailer := &recordingMailer{}
	clock := newTestClock()
	sink := NewChannelAuditSink(1024)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithLinkStore(store).
		WithVerificationTokenStore(store).
		WithMailer(mailer).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &testEnv{
		engine: engine,
		store:  store,
		mailer: mailer,
		clock:  clock,
		mr:     mr,
		rdb:    rdb,
		audit:  sink.Events(),
	}
}

// addUser stores a verified password identity.
func (env *testEnv) addUser(t *testing.T, email, password string) *Identity {
	t.Helper()

	hash, err := env.engine.hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	identity := &Identity{
		Email:         email,
		PasswordHash:  hash,
		DisplayName:   "Test",
		Role:          RoleUser,
		EmailVerified: true,
	}
	if err := env.store.Create(context.Background(), identity); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return identity
}

// waitMail blocks until background sends have finished.
func (env *testEnv) waitMail() {
	env.engine.mail.Wait()
}

func ipContext(ip string) context.Context {
	return WithClientIP(context.Background(), ip)
}

// drainAuditTypes collects the event types emitted so far. It closes the
// engine's dispatcher, so call it last.
func (env *testEnv) drainAuditTypes() []string {
	env.engine.Close()
	var types []string
	for {
		select {
		case ev := <-env.audit:
			types = append(types, ev.EventType)
		default:
			sort.Strings(types)
			return types
		}
	}
}
