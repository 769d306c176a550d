package repository

import (
	"context"
	"time"

	"org-security-engine/internal/session/domain"
)

// Repository defines persistence for sessions. Revocation and expiry marking
// are compare-and-set updates so concurrent callers observe exactly one
// transition per row.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	// GetByToken returns the session, or nil if no such token exists.
	GetByToken(ctx context.Context, token string) (*domain.Session, error)
	UpdateLastAccessed(ctx context.Context, token string, at time.Time) error
	// Revoke marks the session revoked and reports whether this call performed
	// the transition. Already-revoked sessions return false, nil.
	Revoke(ctx context.Context, token, revokedBy, reason string, at time.Time) (bool, error)
	// RevokeAllByUser revokes every live session of the user except the given
	// token (empty means none spared) and returns the number revoked.
	RevokeAllByUser(ctx context.Context, userID, exceptToken, revokedBy, reason string, at time.Time) (int64, error)
	// MarkExpired flags sessions past their expiry and returns the number
	// newly flagged. Idempotent; already-flagged rows are skipped.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	// HasUserCountry reports whether the user has ever held a session issued
	// from the given country.
	HasUserCountry(ctx context.Context, userID, country string) (bool, error)
}
