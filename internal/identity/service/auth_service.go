// Package service implements authentication: credential verification with
// lockout and rate limiting, and the password reset flow.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	auditdomain "org-security-engine/internal/audit/domain"
	"org-security-engine/internal/clock"
	"org-security-engine/internal/identity/domain"
	"org-security-engine/internal/security"
	sessiondomain "org-security-engine/internal/session/domain"
	sessionservice "org-security-engine/internal/session/service"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike so
	// responses cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountInactive marks an account whose status forbids login.
	ErrAccountInactive = errors.New("account is not active")
	// ErrAccountLocked marks an account under a failed-login lockout.
	ErrAccountLocked = errors.New("account is temporarily locked")
	// ErrRateLimited marks a source that exhausted its attempt window.
	ErrRateLimited = errors.New("too many attempts, try again later")
)

type Users interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	IncrementLoginAttempts(ctx context.Context, id string) (int, error)
	ResetLoginAttempts(ctx context.Context, id string) error
	SetLockedUntil(ctx context.Context, id string, until time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

type Sessions interface {
	Create(ctx context.Context, p sessionservice.CreateParams) (*sessiondomain.Session, error)
	ConsumeSingleUse(ctx context.Context, token, purpose string) (*sessiondomain.Session, error)
	Revoke(ctx context.Context, token, revokedBy, reason string) error
	RevokeAllForUser(ctx context.Context, userID, exceptToken, revokedBy, reason string) (int64, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type AuditLogger interface {
	Log(e *auditdomain.Event)
}

// Mailer delivers password reset tokens out of band.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error
}

// LogMailer logs deliveries instead of sending them. Stand-in for
// environments without an outbound mail service.
type LogMailer struct {
	Log *zap.Logger
}

func (m LogMailer) SendPasswordReset(_ context.Context, email, _ string, expiresAt time.Time) error {
	m.Log.Info("password reset issued",
		zap.String("email", email),
		zap.Time("expires_at", expiresAt))
	return nil
}

// Config holds the lockout and reset policies.
type Config struct {
	// MaxAttempts is the consecutive failure count that triggers a lockout.
	MaxAttempts int
	// LockoutDuration is how long a triggered lockout lasts.
	LockoutDuration time.Duration
	// ResetTokenTTL is the lifetime of password reset tokens.
	ResetTokenTTL time.Duration
}

// DefaultConfig returns the standard 5-attempt, 15-minute lockout policy and
// a 1-hour reset token.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		LockoutDuration: 15 * time.Minute,
		ResetTokenTTL:   time.Hour,
	}
}

// AuthService authenticates users and manages their credentials.
type AuthService struct {
	users    Users
	sessions Sessions
	limiter  RateLimiter
	hasher   PasswordHasher
	audit    AuditLogger
	mailer   Mailer
	clock    clock.Clock
	log      *zap.Logger
	cfg      Config

	// dummyHash absorbs a bcrypt comparison for unknown emails so the
	// response time does not reveal whether the account exists.
	dummyHash string
}

// NewAuthService wires an AuthService. clk, log, and mailer may be nil.
func NewAuthService(users Users, sessions Sessions, limiter RateLimiter,
	hasher PasswordHasher, audit AuditLogger, mailer Mailer,
	clk clock.Clock, log *zap.Logger, cfg Config) *AuthService {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if mailer == nil {
		mailer = LogMailer{Log: log}
	}
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	dummy, err := hasher.Hash("decoy-password-for-timing")
	if err != nil {
		dummy = ""
	}
	return &AuthService{
		users:     users,
		sessions:  sessions,
		limiter:   limiter,
		hasher:    hasher,
		audit:     audit,
		mailer:    mailer,
		clock:     clk,
		log:       log,
		cfg:       cfg,
		dummyHash: dummy,
	}
}

// LoginParams carries one login attempt.
type LoginParams struct {
	Email     string
	Password  string
	OrgID     string
	UserAgent string
	IP        string
}

// LoginResult is a successful authentication.
type LoginResult struct {
	User    *domain.User
	Session *sessiondomain.Session
}

// Login authenticates the credentials and issues a session. Unknown emails
// and wrong passwords both return ErrInvalidCredentials. ErrAccountInactive
// surfaces only after the password matched, and the transport layer presents
// it as a credential failure; the sentinel exists for audit and metrics.
func (s *AuthService) Login(ctx context.Context, p LoginParams) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	now := s.clock.Now()

	if s.limiter != nil && p.IP != "" {
		ok, err := s.limiter.Allow(ctx, p.IP)
		if err != nil {
			// Degrade open: the limiter protects against floods, it must not
			// take logins down with it.
			s.log.Warn("rate limiter unavailable", zap.Error(err))
		} else if !ok {
			s.auditLogin(email, "", p, auditdomain.StatusFailure, "RATE_LIMITED", nil)
			return nil, ErrRateLimited
		}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		// Burn a comparison so unknown emails cost as much as wrong passwords.
		_ = s.hasher.Compare(s.dummyHash, p.Password)
		s.auditLogin(email, "", p, auditdomain.StatusFailure, "INVALID_CREDENTIALS", nil)
		return nil, ErrInvalidCredentials
	}

	if user.Locked(now) {
		s.auditLogin(email, user.ID, p, auditdomain.StatusFailure, "ACCOUNT_LOCKED", &auditdomain.LoginEventData{
			Email:       email,
			LockedUntil: user.LockedUntil.Format(time.RFC3339),
		})
		return nil, ErrAccountLocked
	}
	// The password is checked before account status so a disabled account
	// answers exactly like a wrong password.
	if err := s.hasher.Compare(user.PasswordHash, p.Password); err != nil {
		return nil, s.handleFailedPassword(ctx, user, email, p, now)
	}
	if !user.CanLogin() {
		s.auditLogin(email, user.ID, p, auditdomain.StatusFailure, "ACCOUNT_INACTIVE", nil)
		return nil, ErrAccountInactive
	}

	// Feed the pre-success failure streak into risk scoring before clearing it.
	failures := user.FailedLoginAttempts

	if err := s.users.ResetLoginAttempts(ctx, user.ID); err != nil {
		s.log.Warn("failed-attempt reset failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn("last-login update failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if s.limiter != nil && p.IP != "" {
		if err := s.limiter.Reset(ctx, p.IP); err != nil {
			s.log.Warn("rate limiter reset failed", zap.Error(err))
		}
	}

	sess, err := s.sessions.Create(ctx, sessionservice.CreateParams{
		UserID:              user.ID,
		OrgID:               p.OrgID,
		Purpose:             sessiondomain.PurposeLogin,
		UserAgent:           p.UserAgent,
		IP:                  p.IP,
		ConsecutiveFailures: failures,
	})
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	data, _ := auditdomain.MarshalData(auditdomain.LoginEventData{Email: email, FailedAttempts: failures})
	s.audit.Log(&auditdomain.Event{
		UserID:       user.ID,
		OrgID:        p.OrgID,
		SessionToken: security.HashToken(sess.Token),
		Type:         auditdomain.EventTypeLogin,
		Action:       "login",
		Status:       auditdomain.StatusSuccess,
		Category:     auditdomain.CategoryAuth,
		Context:      auditdomain.RequestContext{IP: p.IP, UserAgent: p.UserAgent},
		RiskScore:    sess.RiskScore,
		RiskFactors:  sess.RiskFactors,
		Data:         data,
	})
	return &LoginResult{User: user, Session: sess}, nil
}

func (s *AuthService) handleFailedPassword(ctx context.Context, user *domain.User, email string, p LoginParams, now time.Time) error {
	n, err := s.users.IncrementLoginAttempts(ctx, user.ID)
	if err != nil {
		s.log.Warn("failed-attempt increment failed", zap.String("user_id", user.ID), zap.Error(err))
		n = user.FailedLoginAttempts + 1
	}

	data := &auditdomain.LoginEventData{Email: email, FailedAttempts: n}
	if n >= s.cfg.MaxAttempts {
		until := now.Add(s.cfg.LockoutDuration)
		if err := s.users.SetLockedUntil(ctx, user.ID, until); err != nil {
			s.log.Warn("lockout set failed", zap.String("user_id", user.ID), zap.Error(err))
		}
		data.LockedUntil = until.Format(time.RFC3339)
	}
	s.auditLogin(email, user.ID, p, auditdomain.StatusFailure, "INVALID_CREDENTIALS", data)
	return ErrInvalidCredentials
}

// Logout revokes the session behind the token. Idempotent, like the
// underlying revocation.
func (s *AuthService) Logout(ctx context.Context, token, userID string) error {
	if err := s.sessions.Revoke(ctx, token, userID, "logout"); err != nil {
		return err
	}
	s.audit.Log(&auditdomain.Event{
		UserID:       userID,
		SessionToken: security.HashToken(token),
		Type:         auditdomain.EventTypeLogout,
		Action:       "logout",
		Status:       auditdomain.StatusSuccess,
		Category:     auditdomain.CategoryAuth,
	})
	return nil
}

// RequestPasswordReset issues a single-use reset token for the account. The
// outcome is identical whether or not the email exists; only the audit trail
// records the difference.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email, userAgent, ip string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.CanLogin() {
		s.audit.Log(&auditdomain.Event{
			Type:     auditdomain.EventTypePasswordReset,
			Action:   "request_password_reset",
			Status:   auditdomain.StatusFailure,
			Category: auditdomain.CategorySecurity,
			Context:  auditdomain.RequestContext{IP: ip, UserAgent: userAgent},
			Data:     mustData(auditdomain.PasswordResetEventData{Email: email}),
		})
		return nil
	}

	sess, err := s.sessions.Create(ctx, sessionservice.CreateParams{
		UserID:      user.ID,
		Purpose:     sessiondomain.PurposePasswordReset,
		UserAgent:   userAgent,
		IP:          ip,
		TTLOverride: s.cfg.ResetTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}

	delivered := true
	if err := s.mailer.SendPasswordReset(ctx, email, sess.Token, sess.ExpiresAt); err != nil {
		s.log.Warn("reset delivery failed", zap.String("user_id", user.ID), zap.Error(err))
		delivered = false
	}
	s.audit.Log(&auditdomain.Event{
		UserID:       user.ID,
		SessionToken: security.HashToken(sess.Token),
		Type:         auditdomain.EventTypePasswordReset,
		Action:       "request_password_reset",
		Status:       auditdomain.StatusPending,
		Category:     auditdomain.CategorySecurity,
		Context:      auditdomain.RequestContext{IP: ip, UserAgent: userAgent},
		Data:         mustData(auditdomain.PasswordResetEventData{Email: email, Delivered: delivered}),
	})
	return nil
}

// ConfirmPasswordReset consumes the reset token, replaces the credential, and
// revokes every session the user holds. The token burns exactly once; a
// replay returns the session layer's ErrTokenAlreadyUsed.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	sess, err := s.sessions.ConsumeSingleUse(ctx, token, sessiondomain.PurposePasswordReset)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, sess.UserID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.users.ResetLoginAttempts(ctx, sess.UserID); err != nil {
		s.log.Warn("failed-attempt reset failed", zap.String("user_id", sess.UserID), zap.Error(err))
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, sess.UserID, "", sess.UserID, "password_reset"); err != nil {
		s.log.Warn("post-reset revocation failed", zap.String("user_id", sess.UserID), zap.Error(err))
	}

	s.audit.Log(&auditdomain.Event{
		UserID:       sess.UserID,
		SessionToken: security.HashToken(token),
		Type:         auditdomain.EventTypePasswordReset,
		Action:       "confirm_password_reset",
		Status:       auditdomain.StatusSuccess,
		Category:     auditdomain.CategorySecurity,
	})
	return nil
}

func (s *AuthService) auditLogin(email, userID string, p LoginParams, status auditdomain.Status, code string, data *auditdomain.LoginEventData) {
	if data == nil {
		data = &auditdomain.LoginEventData{Email: email}
	}
	s.audit.Log(&auditdomain.Event{
		UserID:    userID,
		OrgID:     p.OrgID,
		Type:      auditdomain.EventTypeLogin,
		Action:    "login",
		Status:    status,
		Category:  auditdomain.CategoryAuth,
		Context:   auditdomain.RequestContext{IP: p.IP, UserAgent: p.UserAgent},
		ErrorCode: code,
		Data:      mustData(*data),
	})
}

func mustData(v any) json.RawMessage {
	data, err := auditdomain.MarshalData(v)
	if err != nil {
		return nil
	}
	return data
}
