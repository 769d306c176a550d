package repository

import (
	"context"
	"time"

	"org-security-engine/internal/identity/domain"
)

// Repository defines persistence for user accounts. The failure counter
// mutations are single atomic statements so concurrent failed logins cannot
// lose increments.
type Repository interface {
	// GetByEmail returns the user with the given email, or nil if none.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// IncrementLoginAttempts bumps the consecutive failure counter and
	// returns the new value.
	IncrementLoginAttempts(ctx context.Context, id string) (int, error)
	// ResetLoginAttempts zeroes the counter and clears any lockout.
	ResetLoginAttempts(ctx context.Context, id string) error
	SetLockedUntil(ctx context.Context, id string, until time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}
