package authz

import (
	"context"
	"errors"
	"testing"

	"org-security-engine/internal/membership/domain"
)

type mockMemberships struct {
	byKey map[string]*domain.Membership
	err   error
	calls int
}

func (m *mockMemberships) GetByUserAndOrg(_ context.Context, userID, orgID string) (*domain.Membership, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.byKey[userID+"|"+orgID], nil
}

func member(role domain.Role, caps domain.Capabilities, status domain.Status) *domain.Membership {
	return &domain.Membership{
		ID: "m1", UserID: "u1", OrgID: "o1",
		Role: role, Capabilities: caps, Status: status,
	}
}

func guardWith(m *domain.Membership) (*Guard, *mockMemberships) {
	repo := &mockMemberships{byKey: map[string]*domain.Membership{}}
	if m != nil {
		repo.byKey[m.UserID+"|"+m.OrgID] = m
	}
	return NewGuard(repo), repo
}

func TestHasPermission_OwnerAndAdminAlwaysPass(t *testing.T) {
	allPerms := []domain.Permission{
		domain.PermissionInvite, domain.PermissionManageProjects, domain.PermissionManageMembers,
		domain.PermissionManageBilling, domain.PermissionManageSettings, domain.PermissionDeleteOrganization,
	}
	for _, role := range []domain.Role{domain.RoleOwner, domain.RoleAdmin} {
		// All capability flags off: role alone must grant everything.
		g, _ := guardWith(member(role, domain.Capabilities{}, domain.StatusActive))
		for _, p := range allPerms {
			ok, err := g.HasPermission(context.Background(), "u1", "o1", p)
			if err != nil {
				t.Fatalf("HasPermission(%s, %s): %v", role, p, err)
			}
			if !ok {
				t.Errorf("%s denied %s despite role bypass", role, p)
			}
		}
	}
}

func TestHasPermission_LowerRolesNeedTheFlag(t *testing.T) {
	g, _ := guardWith(member(domain.RoleMember,
		domain.Capabilities{ManageProjects: true}, domain.StatusActive))

	ok, err := g.HasPermission(context.Background(), "u1", "o1", domain.PermissionManageProjects)
	if err != nil || !ok {
		t.Errorf("granted flag denied: ok=%v err=%v", ok, err)
	}
	ok, err = g.HasPermission(context.Background(), "u1", "o1", domain.PermissionManageBilling)
	if err != nil || ok {
		t.Errorf("missing flag granted: ok=%v err=%v", ok, err)
	}
}

func TestHasPermission_NonMemberAndInactiveDenied(t *testing.T) {
	// No membership at all.
	g, _ := guardWith(nil)
	ok, err := g.HasPermission(context.Background(), "u1", "o1", domain.PermissionInvite)
	if err != nil {
		t.Fatalf("non-member lookup must not error: %v", err)
	}
	if ok {
		t.Error("non-member granted permission")
	}

	// Suspended owner: even the role bypass requires an active membership.
	g, _ = guardWith(member(domain.RoleOwner, domain.DefaultCapabilities(domain.RoleOwner), domain.StatusSuspended))
	if ok, _ := g.HasPermission(context.Background(), "u1", "o1", domain.PermissionInvite); ok {
		t.Error("suspended owner granted permission")
	}

	// Every lifecycle state short of active grants nothing, role regardless.
	for _, status := range []domain.Status{domain.StatusInactive, domain.StatusPending} {
		g, _ = guardWith(member(domain.RoleAdmin, domain.Capabilities{}, status))
		if ok, _ := g.HasPermission(context.Background(), "u1", "o1", domain.PermissionInvite); ok {
			t.Errorf("%s member granted permission", status)
		}
	}
}

func TestHasPermission_RepositoryErrorSurfaces(t *testing.T) {
	repo := &mockMemberships{err: errors.New("db down")}
	g := NewGuard(repo)
	_, err := g.HasPermission(context.Background(), "u1", "o1", domain.PermissionInvite)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRequirePermission_DenialIsForbiddenError(t *testing.T) {
	g, _ := guardWith(member(domain.RoleViewer, domain.Capabilities{}, domain.StatusActive))
	err := g.RequirePermission(context.Background(), "u1", "o1", domain.PermissionManageBilling)

	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *ForbiddenError", err)
	}
	if fe.UserID != "u1" || fe.OrgID != "o1" || fe.Permission != domain.PermissionManageBilling {
		t.Errorf("forbidden context = %+v", fe)
	}
}

func TestMinimumRole(t *testing.T) {
	g, _ := guardWith(member(domain.RoleManager, domain.DefaultCapabilities(domain.RoleManager), domain.StatusActive))

	if ok, _ := g.HasMinimumRole(context.Background(), "u1", "o1", domain.RoleMember); !ok {
		t.Error("manager must satisfy a member minimum")
	}
	if ok, _ := g.HasMinimumRole(context.Background(), "u1", "o1", domain.RoleAdmin); ok {
		t.Error("manager must not satisfy an admin minimum")
	}

	err := g.RequireMinimumRole(context.Background(), "u1", "o1", domain.RoleOwner)
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *ForbiddenError", err)
	}
	if fe.MinRole != domain.RoleOwner {
		t.Errorf("MinRole = %q, want owner", fe.MinRole)
	}
}

func TestChecks_AreNeverCached(t *testing.T) {
	m := member(domain.RoleAdmin, domain.Capabilities{}, domain.StatusActive)
	g, repo := guardWith(m)

	if ok, _ := g.HasPermission(context.Background(), "u1", "o1", domain.PermissionInvite); !ok {
		t.Fatal("admin denied")
	}
	// Demote between checks; the next check must see it immediately.
	m.Role = domain.RoleViewer
	if ok, _ := g.HasPermission(context.Background(), "u1", "o1", domain.PermissionInvite); ok {
		t.Error("stale decision: demotion not observed")
	}
	if repo.calls != 2 {
		t.Errorf("repository calls = %d, want one per check", repo.calls)
	}
}
