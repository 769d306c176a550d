package repository

import (
	"context"

	"org-security-engine/internal/membership/domain"
)

// Repository defines persistence for organization memberships.
type Repository interface {
	// GetByUserAndOrg returns the membership, or nil if the user does not
	// belong to the organization.
	GetByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
	Create(ctx context.Context, m *domain.Membership) error
	UpdateRole(ctx context.Context, id string, role domain.Role, caps domain.Capabilities) error
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	ListByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error)
}
