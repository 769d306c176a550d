// Package authz evaluates organization permissions. Every check reads the
// membership fresh from the repository; decisions are never cached, so a role
// change is effective on the next request.
package authz

import (
	"context"
	"fmt"

	"org-security-engine/internal/membership/domain"
)

// ForbiddenError carries the denied check's context for the error response
// and the audit trail.
type ForbiddenError struct {
	UserID     string
	OrgID      string
	Permission domain.Permission
	MinRole    domain.Role
	Reason     string
}

func (e *ForbiddenError) Error() string {
	if e.Permission != "" {
		return fmt.Sprintf("forbidden: user %s lacks %s in org %s", e.UserID, e.Permission, e.OrgID)
	}
	return fmt.Sprintf("forbidden: user %s is below %s in org %s", e.UserID, e.MinRole, e.OrgID)
}

type MembershipRepository interface {
	GetByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
}

// Guard answers permission questions about org members.
type Guard struct {
	memberships MembershipRepository
}

func NewGuard(memberships MembershipRepository) *Guard {
	return &Guard{memberships: memberships}
}

// HasPermission reports whether the user holds the capability in the org.
// Owners and admins pass unconditionally; everyone else needs the flag on an
// active membership. Non-members and inactive members are denied, not errors.
func (g *Guard) HasPermission(ctx context.Context, userID, orgID string, p domain.Permission) (bool, error) {
	m, err := g.memberships.GetByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return false, fmt.Errorf("load membership: %w", err)
	}
	if m == nil || !m.Active() {
		return false, nil
	}
	if m.Role == domain.RoleOwner || m.Role == domain.RoleAdmin {
		return true, nil
	}
	return m.Capabilities.Has(p), nil
}

// RequirePermission is HasPermission with a denial turned into a
// *ForbiddenError ready for the transport layer.
func (g *Guard) RequirePermission(ctx context.Context, userID, orgID string, p domain.Permission) error {
	ok, err := g.HasPermission(ctx, userID, orgID, p)
	if err != nil {
		return err
	}
	if !ok {
		return &ForbiddenError{UserID: userID, OrgID: orgID, Permission: p, Reason: "missing capability"}
	}
	return nil
}

// HasMinimumRole reports whether the user's role ranks at or above min on an
// active membership.
func (g *Guard) HasMinimumRole(ctx context.Context, userID, orgID string, min domain.Role) (bool, error) {
	m, err := g.memberships.GetByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return false, fmt.Errorf("load membership: %w", err)
	}
	if m == nil || !m.Active() {
		return false, nil
	}
	return m.Role.AtLeast(min), nil
}

// RequireMinimumRole is HasMinimumRole with a denial turned into a
// *ForbiddenError.
func (g *Guard) RequireMinimumRole(ctx context.Context, userID, orgID string, min domain.Role) error {
	ok, err := g.HasMinimumRole(ctx, userID, orgID, min)
	if err != nil {
		return err
	}
	if !ok {
		return &ForbiddenError{UserID: userID, OrgID: orgID, MinRole: min, Reason: "insufficient role"}
	}
	return nil
}
