package domain

import "testing"

func TestRole_RankOrdering(t *testing.T) {
	ordered := []Role{RoleViewer, RoleMember, RoleManager, RoleAdmin, RoleOwner}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("%q rank %d not above %q rank %d",
				ordered[i], ordered[i].Rank(), ordered[i-1], ordered[i-1].Rank())
		}
	}
	if Role("bogus").Rank() != 0 {
		t.Error("unknown role must rank below viewer")
	}
	if Role("bogus").Valid() {
		t.Error("unknown role must not be valid")
	}
}

func TestRole_AtLeast(t *testing.T) {
	if !RoleAdmin.AtLeast(RoleManager) {
		t.Error("admin must satisfy a manager minimum")
	}
	if !RoleMember.AtLeast(RoleMember) {
		t.Error("a role must satisfy itself")
	}
	if RoleViewer.AtLeast(RoleMember) {
		t.Error("viewer must not satisfy a member minimum")
	}
}

func TestDefaultCapabilities(t *testing.T) {
	owner := DefaultCapabilities(RoleOwner)
	if !owner.DeleteOrganization {
		t.Error("owner defaults must include delete_organization")
	}
	admin := DefaultCapabilities(RoleAdmin)
	if admin.DeleteOrganization {
		t.Error("admin defaults must not include delete_organization")
	}
	if !admin.ManageBilling || !admin.ManageSettings {
		t.Error("admin defaults must include billing and settings")
	}
	manager := DefaultCapabilities(RoleManager)
	if !manager.Invite || !manager.ManageMembers || manager.ManageBilling {
		t.Errorf("manager defaults = %+v", manager)
	}
	viewer := DefaultCapabilities(RoleViewer)
	if viewer != (Capabilities{}) {
		t.Errorf("viewer defaults = %+v, want none", viewer)
	}
}

func TestCapabilities_Has(t *testing.T) {
	c := Capabilities{Invite: true, ManageBilling: true}
	if !c.Has(PermissionInvite) || !c.Has(PermissionManageBilling) {
		t.Error("set capabilities not reported")
	}
	if c.Has(PermissionManageMembers) {
		t.Error("unset capability reported as granted")
	}
	if c.Has(Permission("bogus")) {
		t.Error("unknown permission must never be granted")
	}
}
