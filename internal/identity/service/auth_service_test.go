package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	auditdomain "org-security-engine/internal/audit/domain"
	"org-security-engine/internal/clock"
	"org-security-engine/internal/identity/domain"
	sessiondomain "org-security-engine/internal/session/domain"
	sessionservice "org-security-engine/internal/session/service"
)

type mockUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User // keyed by email

	getCalls   int
	lockedSet  map[string]time.Time
	newHash    map[string]string
	lastLogin  map[string]time.Time
	resetCalls []string
}

func newMockUsers(users ...*domain.User) *mockUsers {
	m := &mockUsers{
		users:     make(map[string]*domain.User),
		lockedSet: make(map[string]time.Time),
		newHash:   make(map[string]string),
		lastLogin: make(map[string]time.Time),
	}
	for _, u := range users {
		m.users[u.Email] = u
	}
	return m
}

func (m *mockUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	u, ok := m.users[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *mockUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockUsers) IncrementLoginAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			u.FailedLoginAttempts++
			return u.FailedLoginAttempts, nil
		}
	}
	return 0, errors.New("no such user")
}

func (m *mockUsers) ResetLoginAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCalls = append(m.resetCalls, id)
	for _, u := range m.users {
		if u.ID == id {
			u.FailedLoginAttempts = 0
			u.LockedUntil = nil
		}
	}
	return nil
}

func (m *mockUsers) SetLockedUntil(_ context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockedSet[id] = until
	for _, u := range m.users {
		if u.ID == id {
			t := until
			u.LockedUntil = &t
		}
	}
	return nil
}

func (m *mockUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newHash[id] = hash
	return nil
}

func (m *mockUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLogin[id] = at
	return nil
}

type mockSessions struct {
	mu         sync.Mutex
	created    []sessionservice.CreateParams
	revoked    []string
	revokedAll []string

	consumeResult *sessiondomain.Session
	consumeErr    error
}

func (m *mockSessions) Create(_ context.Context, p sessionservice.CreateParams) (*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, p)
	return &sessiondomain.Session{
		Token:     "tok-" + p.UserID,
		UserID:    p.UserID,
		OrgID:     p.OrgID,
		Purpose:   p.Purpose,
		ExpiresAt: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
		RiskScore: 10,
	}, nil
}

func (m *mockSessions) ConsumeSingleUse(_ context.Context, token, purpose string) (*sessiondomain.Session, error) {
	if m.consumeErr != nil {
		return nil, m.consumeErr
	}
	if m.consumeResult != nil {
		return m.consumeResult, nil
	}
	return nil, sessionservice.ErrInvalidToken
}

func (m *mockSessions) Revoke(_ context.Context, token, revokedBy, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked = append(m.revoked, token)
	return nil
}

func (m *mockSessions) RevokeAllForUser(_ context.Context, userID, exceptToken, revokedBy, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokedAll = append(m.revokedAll, userID)
	return 2, nil
}

type mockLimiter struct {
	mu      sync.Mutex
	allowed bool
	err     error
	allows  []string
	resets  []string
}

func (m *mockLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allows = append(m.allows, key)
	return m.allowed, m.err
}

func (m *mockLimiter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, key)
	return nil
}

// fakeHasher trades bcrypt for a marker scheme so tests stay fast.
type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (fakeHasher) Compare(hash, password string) error {
	if hash == "hashed:"+password {
		return nil
	}
	return errors.New("mismatch")
}

type mockAudit struct {
	mu     sync.Mutex
	events []*auditdomain.Event
}

func (m *mockAudit) Log(e *auditdomain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *mockAudit) last() *auditdomain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

type mockMailer struct {
	mu     sync.Mutex
	sent   []string // tokens
	emails []string
	err    error
}

func (m *mockMailer) SendPasswordReset(_ context.Context, email, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, token)
	m.emails = append(m.emails, email)
	return m.err
}

type authFixture struct {
	svc      *AuthService
	users    *mockUsers
	sessions *mockSessions
	limiter  *mockLimiter
	audit    *mockAudit
	mailer   *mockMailer
	clk      *clock.Fake
}

func activeUser() *domain.User {
	return &domain.User{
		ID:           "u1",
		Email:        "alice@example.com",
		PasswordHash: "hashed:correct-horse",
		Name:         "Alice",
		Status:       domain.UserStatusActive,
	}
}

func newAuthFixture(users ...*domain.User) *authFixture {
	f := &authFixture{
		users:    newMockUsers(users...),
		sessions: &mockSessions{},
		limiter:  &mockLimiter{allowed: true},
		audit:    &mockAudit{},
		mailer:   &mockMailer{},
		clk:      clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
	}
	f.svc = NewAuthService(f.users, f.sessions, f.limiter, fakeHasher{}, f.audit, f.mailer, f.clk, nil, Config{
		MaxAttempts:     3,
		LockoutDuration: 15 * time.Minute,
		ResetTokenTTL:   time.Hour,
	})
	return f
}

func login(email, password string) LoginParams {
	return LoginParams{Email: email, Password: password, UserAgent: "test-agent", IP: "203.0.113.9"}
}

func TestLogin_Success(t *testing.T) {
	u := activeUser()
	u.FailedLoginAttempts = 2
	f := newAuthFixture(u)

	res, err := f.svc.Login(context.Background(), login("alice@example.com", "correct-horse"))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Session == nil || res.User.ID != "u1" {
		t.Fatalf("result = %+v", res)
	}

	if len(f.sessions.created) != 1 {
		t.Fatalf("sessions created = %d, want 1", len(f.sessions.created))
	}
	p := f.sessions.created[0]
	if p.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want the pre-reset streak 2", p.ConsecutiveFailures)
	}
	if p.Purpose != sessiondomain.PurposeLogin {
		t.Errorf("purpose = %q, want login", p.Purpose)
	}

	if len(f.users.resetCalls) != 1 {
		t.Error("failed-attempt counter was not reset")
	}
	if _, ok := f.users.lastLogin["u1"]; !ok {
		t.Error("last login was not recorded")
	}
	if len(f.limiter.resets) != 1 {
		t.Error("rate limit window was not reset")
	}

	e := f.audit.last()
	if e.Action != "login" || e.Status != auditdomain.StatusSuccess {
		t.Errorf("audit = %s/%s, want login/success", e.Action, e.Status)
	}
	if e.SessionToken == res.Session.Token {
		t.Error("audit stores the raw session token")
	}
}

func TestLogin_EmailIsNormalized(t *testing.T) {
	f := newAuthFixture(activeUser())
	_, err := f.svc.Login(context.Background(), login("  ALICE@Example.COM ", "correct-horse"))
	if err != nil {
		t.Fatalf("Login with unnormalized email: %v", err)
	}
}

func TestLogin_UnknownEmailAndWrongPasswordCollapse(t *testing.T) {
	f := newAuthFixture(activeUser())

	_, errUnknown := f.svc.Login(context.Background(), login("nobody@example.com", "whatever"))
	_, errWrong := f.svc.Login(context.Background(), login("alice@example.com", "wrong"))

	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", errUnknown)
	}
	if !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Error("error messages differ between unknown email and wrong password")
	}
}

func TestLogin_FailuresAccumulateUntilLockout(t *testing.T) {
	f := newAuthFixture(activeUser())

	for i := 1; i <= 3; i++ {
		_, err := f.svc.Login(context.Background(), login("alice@example.com", "wrong"))
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d err = %v, want ErrInvalidCredentials", i, err)
		}
	}

	until, ok := f.users.lockedSet["u1"]
	if !ok {
		t.Fatal("lockout was never set after reaching max attempts")
	}
	if want := f.clk.Now().Add(15 * time.Minute); !until.Equal(want) {
		t.Errorf("locked until %v, want %v", until, want)
	}

	// The locked account now rejects even correct credentials.
	_, err := f.svc.Login(context.Background(), login("alice@example.com", "correct-horse"))
	if !errors.Is(err, ErrAccountLocked) {
		t.Errorf("locked login err = %v, want ErrAccountLocked", err)
	}
}

func TestLogin_LockoutExpires(t *testing.T) {
	u := activeUser()
	until := time.Date(2026, 3, 14, 12, 10, 0, 0, time.UTC)
	u.LockedUntil = &until
	f := newAuthFixture(u)

	if _, err := f.svc.Login(context.Background(), login("alice@example.com", "correct-horse")); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("err = %v, want ErrAccountLocked", err)
	}

	f.clk.Advance(11 * time.Minute)
	if _, err := f.svc.Login(context.Background(), login("alice@example.com", "correct-horse")); err != nil {
		t.Errorf("login after lockout expiry: %v", err)
	}
}

func TestLogin_InactiveAccount(t *testing.T) {
	u := activeUser()
	u.Status = domain.UserStatusInactive
	f := newAuthFixture(u)

	// Correct password: the status sentinel surfaces for audit and metrics.
	_, err := f.svc.Login(context.Background(), login("alice@example.com", "correct-horse"))
	if !errors.Is(err, ErrAccountInactive) {
		t.Errorf("err = %v, want ErrAccountInactive", err)
	}

	// Wrong password: indistinguishable from any other credential failure,
	// so the account's existence and state stay hidden.
	_, errInactive := f.svc.Login(context.Background(), login("alice@example.com", "wrong"))
	_, errUnknown := f.svc.Login(context.Background(), login("nobody@example.com", "wrong"))
	if !errors.Is(errInactive, ErrInvalidCredentials) {
		t.Errorf("wrong password on inactive account err = %v, want ErrInvalidCredentials", errInactive)
	}
	if errInactive.Error() != errUnknown.Error() {
		t.Error("inactive account and unknown email produce different errors")
	}
}

func TestLogin_RateLimitedBeforeUserLookup(t *testing.T) {
	f := newAuthFixture(activeUser())
	f.limiter.allowed = false

	_, err := f.svc.Login(context.Background(), login("alice@example.com", "correct-horse"))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if f.users.getCalls != 0 {
		t.Error("user store queried despite the rate limit rejection")
	}
}

func TestLogin_LimiterOutageDegradesOpen(t *testing.T) {
	f := newAuthFixture(activeUser())
	f.limiter.allowed = false
	f.limiter.err = errors.New("redis down")

	if _, err := f.svc.Login(context.Background(), login("alice@example.com", "correct-horse")); err != nil {
		t.Errorf("login during limiter outage: %v", err)
	}
}

func TestRequestPasswordReset_NeutralForUnknownEmail(t *testing.T) {
	f := newAuthFixture(activeUser())

	if err := f.svc.RequestPasswordReset(context.Background(), "nobody@example.com", "test-agent", "203.0.113.9"); err != nil {
		t.Fatalf("unknown email must return nil: %v", err)
	}
	if len(f.sessions.created) != 0 {
		t.Error("reset session issued for unknown email")
	}
	if len(f.mailer.sent) != 0 {
		t.Error("mail sent for unknown email")
	}
}

func TestRequestPasswordReset_IssuesSingleUseToken(t *testing.T) {
	f := newAuthFixture(activeUser())

	if err := f.svc.RequestPasswordReset(context.Background(), "alice@example.com", "test-agent", "203.0.113.9"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if len(f.sessions.created) != 1 {
		t.Fatalf("sessions created = %d, want 1", len(f.sessions.created))
	}
	p := f.sessions.created[0]
	if p.Purpose != sessiondomain.PurposePasswordReset {
		t.Errorf("purpose = %q, want password_reset", p.Purpose)
	}
	if p.TTLOverride != time.Hour {
		t.Errorf("TTLOverride = %v, want the 1h reset TTL", p.TTLOverride)
	}
	if len(f.mailer.sent) != 1 || !strings.HasPrefix(f.mailer.sent[0], "tok-") {
		t.Errorf("mailer sent = %v, want the issued token", f.mailer.sent)
	}
}

func TestConfirmPasswordReset_ReplacesCredentialAndRevokesSessions(t *testing.T) {
	f := newAuthFixture(activeUser())
	f.sessions.consumeResult = &sessiondomain.Session{
		Token: "reset-tok", UserID: "u1", Purpose: sessiondomain.PurposePasswordReset,
	}

	if err := f.svc.ConfirmPasswordReset(context.Background(), "reset-tok", "new-password"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	if f.users.newHash["u1"] != "hashed:new-password" {
		t.Errorf("stored hash = %q", f.users.newHash["u1"])
	}
	if len(f.sessions.revokedAll) != 1 || f.sessions.revokedAll[0] != "u1" {
		t.Error("existing sessions were not revoked after the reset")
	}
	if len(f.users.resetCalls) != 1 {
		t.Error("failure counter was not cleared after the reset")
	}
}

func TestConfirmPasswordReset_TokenErrorsPassThrough(t *testing.T) {
	f := newAuthFixture(activeUser())

	f.sessions.consumeErr = sessionservice.ErrTokenAlreadyUsed
	if err := f.svc.ConfirmPasswordReset(context.Background(), "reset-tok", "pw"); !errors.Is(err, sessionservice.ErrTokenAlreadyUsed) {
		t.Errorf("err = %v, want ErrTokenAlreadyUsed", err)
	}

	f.sessions.consumeErr = sessionservice.ErrInvalidToken
	if err := f.svc.ConfirmPasswordReset(context.Background(), "bogus", "pw"); !errors.Is(err, sessionservice.ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestLogout_RevokesAndAudits(t *testing.T) {
	f := newAuthFixture(activeUser())
	if err := f.svc.Logout(context.Background(), "tok-u1", "u1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if len(f.sessions.revoked) != 1 || f.sessions.revoked[0] != "tok-u1" {
		t.Errorf("revoked = %v", f.sessions.revoked)
	}
	e := f.audit.last()
	if e.Type != auditdomain.EventTypeLogout {
		t.Errorf("audit type = %q, want logout", e.Type)
	}
}
