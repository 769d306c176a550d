// Package service implements session lifecycle: risk-scored creation,
// validation with sliding access tracking, revocation, and expiry sweeping.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	auditdomain "org-security-engine/internal/audit/domain"
	"org-security-engine/internal/clock"
	"org-security-engine/internal/device"
	devicedomain "org-security-engine/internal/device/domain"
	"org-security-engine/internal/risk"
	"org-security-engine/internal/security"
	"org-security-engine/internal/session/domain"
)

var (
	// ErrInvalidToken covers every non-live token: unknown, expired, and
	// revoked. Collapsed on purpose so callers cannot probe token state.
	ErrInvalidToken = errors.New("invalid or expired session token")
	// ErrTokenAlreadyUsed marks a single-use token that was consumed before.
	ErrTokenAlreadyUsed = errors.New("token has already been used")
)

// DefaultTouchTimeout bounds the background last-accessed update.
const DefaultTouchTimeout = 3 * time.Second

// TTLPolicy maps each security level to its session lifetime. Lifetimes must
// shrink as risk grows.
type TTLPolicy struct {
	Normal   time.Duration
	Elevated time.Duration
	HighRisk time.Duration
	Critical time.Duration
}

// DefaultTTLPolicy returns the standard 30d/7d/24h/4h ladder.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Normal:   30 * 24 * time.Hour,
		Elevated: 7 * 24 * time.Hour,
		HighRisk: 24 * time.Hour,
		Critical: 4 * time.Hour,
	}
}

// ForLevel returns the lifetime for a security level. Unknown levels get the
// critical lifetime.
func (p TTLPolicy) ForLevel(level risk.Level) time.Duration {
	switch level {
	case risk.LevelNormal:
		return p.Normal
	case risk.LevelElevated:
		return p.Elevated
	case risk.LevelHighRisk:
		return p.HighRisk
	default:
		return p.Critical
	}
}

type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByToken(ctx context.Context, token string) (*domain.Session, error)
	UpdateLastAccessed(ctx context.Context, token string, at time.Time) error
	Revoke(ctx context.Context, token, revokedBy, reason string, at time.Time) (bool, error)
	RevokeAllByUser(ctx context.Context, userID, exceptToken, revokedBy, reason string, at time.Time) (int64, error)
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	HasUserCountry(ctx context.Context, userID, country string) (bool, error)
}

type DeviceRepository interface {
	GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*devicedomain.Device, error)
	Create(ctx context.Context, d *devicedomain.Device) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

type AuditLogger interface {
	Log(e *auditdomain.Event)
}

// Manager is the session lifecycle service.
type Manager struct {
	repo     Repository
	devices  DeviceRepository
	resolver *device.Resolver
	engine   *risk.Engine
	audit    AuditLogger
	clock    clock.Clock
	log      *zap.Logger

	ttl          TTLPolicy
	touchTimeout time.Duration
}

// NewManager wires a Manager. clk and log may be nil.
func NewManager(repo Repository, devices DeviceRepository, resolver *device.Resolver,
	engine *risk.Engine, audit AuditLogger, clk clock.Clock, log *zap.Logger, ttl TTLPolicy) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if ttl == (TTLPolicy{}) {
		ttl = DefaultTTLPolicy()
	}
	return &Manager{
		repo:         repo,
		devices:      devices,
		resolver:     resolver,
		engine:       engine,
		audit:        audit,
		clock:        clk,
		log:          log,
		ttl:          ttl,
		touchTimeout: DefaultTouchTimeout,
	}
}

// CreateParams carries the inputs for issuing a session.
type CreateParams struct {
	UserID    string
	OrgID     string
	Purpose   string
	UserAgent string
	IP        string
	// ConsecutiveFailures is the user's failed-login count prior to this
	// success, fed into risk scoring.
	ConsecutiveFailures int
	// TTLOverride, when positive, replaces the risk-derived lifetime. Used
	// for password reset tokens.
	TTLOverride time.Duration
	Metadata    json.RawMessage
}

// Create scores the request context, issues a token, and persists the
// session. Risk scoring is advisory: if its signals cannot be resolved the
// session is still issued under the conservative fallback assessment.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*domain.Session, error) {
	now := m.clock.Now()
	if p.Purpose == "" {
		p.Purpose = domain.PurposeLogin
	}

	info, geo := m.resolver.Resolve(p.UserAgent, p.IP)
	assessment, knownDevice := m.assess(ctx, p, info, geo, now)

	ttl := m.ttl.ForLevel(assessment.Level)
	if p.TTLOverride > 0 {
		ttl = p.TTLOverride
	}

	token, err := security.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	s := &domain.Session{
		Token:          token,
		UserID:         p.UserID,
		OrgID:          p.OrgID,
		Purpose:        p.Purpose,
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		IP:             p.IP,
		Device:         info,
		Geo:            geo,
		RiskScore:      assessment.Score,
		SecurityLevel:  assessment.Level,
		RiskFactors:    assessment.Factors,
		Metadata:       p.Metadata,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.rememberDevice(ctx, p, info, knownDevice, now)

	data, _ := auditdomain.MarshalData(auditdomain.SessionEventData{
		Purpose:       s.Purpose,
		SecurityLevel: string(s.SecurityLevel),
		TTLSeconds:    int64(ttl / time.Second),
	})
	m.audit.Log(&auditdomain.Event{
		UserID:       s.UserID,
		OrgID:        s.OrgID,
		SessionToken: security.HashToken(s.Token),
		Type:         auditdomain.EventTypeSession,
		Action:       "create_session",
		Status:       auditdomain.StatusSuccess,
		Category:     auditdomain.CategoryAuth,
		Context:      auditdomain.RequestContext{IP: p.IP, UserAgent: p.UserAgent, Device: info, Geo: geo},
		RiskScore:    s.RiskScore,
		RiskFactors:  s.RiskFactors,
		Data:         data,
	})
	return s, nil
}

// assess gathers risk signals and scores them, degrading to the engine
// fallback when any signal lookup fails.
func (m *Manager) assess(ctx context.Context, p CreateParams, info devicedomain.DeviceInfo,
	geo *devicedomain.Geolocation, now time.Time) (risk.Assessment, bool) {
	var (
		knownDevice   bool
		knownLocation bool
		country       string
		degraded      bool
	)

	if info.Fingerprint != "" {
		d, err := m.devices.GetByUserAndFingerprint(ctx, p.UserID, info.Fingerprint)
		if err != nil {
			m.log.Warn("device lookup failed, degrading risk scoring", zap.Error(err))
			degraded = true
		}
		knownDevice = d != nil
	}
	if geo != nil {
		country = geo.Country
		seen, err := m.repo.HasUserCountry(ctx, p.UserID, country)
		if err != nil {
			m.log.Warn("location lookup failed, degrading risk scoring", zap.Error(err))
			degraded = true
		}
		knownLocation = seen
	}
	active, err := m.repo.CountActiveByUser(ctx, p.UserID, now)
	if err != nil {
		m.log.Warn("session count failed, degrading risk scoring", zap.Error(err))
		degraded = true
	}

	if degraded {
		return m.engine.Fallback(), knownDevice
	}
	return m.engine.Score(risk.Context{
		KnownDevice:         knownDevice,
		Fingerprint:         info.Fingerprint,
		IP:                  p.IP,
		Country:             country,
		KnownLocation:       knownLocation,
		At:                  now,
		ConsecutiveFailures: p.ConsecutiveFailures,
		ActiveSessions:      active,
	}), knownDevice
}

// rememberDevice records or refreshes the device binding. Best effort: a
// failure here never fails the login.
func (m *Manager) rememberDevice(ctx context.Context, p CreateParams, info devicedomain.DeviceInfo, known bool, now time.Time) {
	if info.Fingerprint == "" {
		return
	}
	if known {
		d, err := m.devices.GetByUserAndFingerprint(ctx, p.UserID, info.Fingerprint)
		if err != nil || d == nil {
			return
		}
		if err := m.devices.UpdateLastSeen(ctx, d.ID, now); err != nil {
			m.log.Warn("device last-seen update failed", zap.Error(err))
		}
		return
	}
	seen := now
	err := m.devices.Create(ctx, &devicedomain.Device{
		ID:          uuid.New().String(),
		UserID:      p.UserID,
		OrgID:       p.OrgID,
		Fingerprint: info.Fingerprint,
		Type:        info.Type,
		LastSeenAt:  &seen,
		CreatedAt:   now,
	})
	if err != nil {
		m.log.Warn("device registration failed", zap.Error(err))
	}
}

// Validate checks a token and returns the live session. Every non-live
// outcome returns ErrInvalidToken; database failures surface as-is. On
// success the last-accessed timestamp is updated in the background and never
// affects the result.
func (m *Manager) Validate(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	s, err := m.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	now := m.clock.Now()
	if s == nil || !s.IsLive(now) {
		return nil, ErrInvalidToken
	}

	go func() {
		tctx, cancel := context.WithTimeout(context.Background(), m.touchTimeout)
		defer cancel()
		if err := m.repo.UpdateLastAccessed(tctx, token, now); err != nil {
			m.log.Warn("last-accessed update failed", zap.Error(err))
		}
	}()

	return s, nil
}

// Peek returns the session record for a token without liveness checks or
// access tracking, or nil when the token is unknown. For administrative
// inspection; request authentication goes through Validate.
func (m *Manager) Peek(ctx context.Context, token string) (*domain.Session, error) {
	return m.repo.GetByToken(ctx, token)
}

// ListForUser returns the user's live sessions, newest first.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	out, err := m.repo.ListActiveByUser(ctx, userID, m.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Revoke ends a session. Idempotent: revoking an unknown or already-revoked
// token succeeds silently, and the audit event is emitted only by the call
// that performed the transition.
func (m *Manager) Revoke(ctx context.Context, token, revokedBy, reason string) error {
	transitioned, err := m.repo.Revoke(ctx, token, revokedBy, reason, m.clock.Now())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if !transitioned {
		return nil
	}

	var userID, orgID string
	if s, err := m.repo.GetByToken(ctx, token); err == nil && s != nil {
		userID, orgID = s.UserID, s.OrgID
	}
	data, _ := auditdomain.MarshalData(auditdomain.SessionEventData{RevokedBy: revokedBy, Reason: reason})
	m.audit.Log(&auditdomain.Event{
		UserID:       userID,
		OrgID:        orgID,
		SessionToken: security.HashToken(token),
		Type:         auditdomain.EventTypeSession,
		Action:       "revoke_session",
		Status:       auditdomain.StatusSuccess,
		Category:     auditdomain.CategorySecurity,
		Data:         data,
	})
	return nil
}

// RevokeAllForUser ends every live session of the user except exceptToken,
// returning how many were revoked. Used on password change and compromise
// response.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID, exceptToken, revokedBy, reason string) (int64, error) {
	n, err := m.repo.RevokeAllByUser(ctx, userID, exceptToken, revokedBy, reason, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	if n > 0 {
		data, _ := auditdomain.MarshalData(auditdomain.SessionEventData{RevokedBy: revokedBy, Reason: reason, Count: n})
		m.audit.Log(&auditdomain.Event{
			UserID:   userID,
			Type:     auditdomain.EventTypeSession,
			Action:   "revoke_all_sessions",
			Status:   auditdomain.StatusSuccess,
			Category: auditdomain.CategorySecurity,
			Data:     data,
		})
	}
	return n, nil
}

// ConsumeSingleUse validates a single-use token of the given purpose and
// burns it atomically. A live token that loses the revocation race returns
// ErrTokenAlreadyUsed; at most one caller ever consumes a given token.
func (m *Manager) ConsumeSingleUse(ctx context.Context, token, purpose string) (*domain.Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	s, err := m.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	now := m.clock.Now()
	if s == nil || s.Purpose != purpose || now.After(s.ExpiresAt) || now.Equal(s.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	if s.Revoked {
		return nil, ErrTokenAlreadyUsed
	}

	transitioned, err := m.repo.Revoke(ctx, token, s.UserID, "consumed", now)
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if !transitioned {
		return nil, ErrTokenAlreadyUsed
	}
	return s, nil
}

// CleanupExpired flags sessions past their expiry and returns how many were
// newly flagged. Safe to run repeatedly; run from the sweeper.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.MarkExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("mark expired sessions: %w", err)
	}
	if n > 0 {
		m.log.Info("expired sessions swept", zap.Int64("count", n))
	}
	return n, nil
}
