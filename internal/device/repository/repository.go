package repository

import (
	"context"
	"time"

	"org-security-engine/internal/device/domain"
)

// Repository defines persistence for known device bindings.
type Repository interface {
	GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*domain.Device, error)
	Create(ctx context.Context, d *domain.Device) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
	ListByUser(ctx context.Context, userID string) ([]*domain.Device, error)
}
