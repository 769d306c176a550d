package domain

import "time"

// Role is a member's position in the organization hierarchy.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
	RoleViewer  Role = "viewer"
)

var roleRanks = map[Role]int{
	RoleOwner:   5,
	RoleAdmin:   4,
	RoleManager: 3,
	RoleMember:  2,
	RoleViewer:  1,
}

// Rank returns the role's position in the hierarchy; higher outranks lower.
// Unknown roles rank 0, below viewer.
func (r Role) Rank() int {
	return roleRanks[r]
}

// AtLeast reports whether r outranks or equals other.
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}

// Valid reports whether r is a recognized role.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Capabilities are the per-member permission flags. They refine what a role
// grants; owners and admins bypass them entirely.
type Capabilities struct {
	Invite             bool `json:"invite"`
	ManageProjects     bool `json:"manage_projects"`
	ManageMembers      bool `json:"manage_members"`
	ManageBilling      bool `json:"manage_billing"`
	ManageSettings     bool `json:"manage_settings"`
	DeleteOrganization bool `json:"delete_organization"`
}

// Permission names a single capability for permission checks.
type Permission string

const (
	PermissionInvite             Permission = "invite"
	PermissionManageProjects     Permission = "manage_projects"
	PermissionManageMembers      Permission = "manage_members"
	PermissionManageBilling      Permission = "manage_billing"
	PermissionManageSettings     Permission = "manage_settings"
	PermissionDeleteOrganization Permission = "delete_organization"
)

// Has reports whether the capability named by p is set.
func (c Capabilities) Has(p Permission) bool {
	switch p {
	case PermissionInvite:
		return c.Invite
	case PermissionManageProjects:
		return c.ManageProjects
	case PermissionManageMembers:
		return c.ManageMembers
	case PermissionManageBilling:
		return c.ManageBilling
	case PermissionManageSettings:
		return c.ManageSettings
	case PermissionDeleteOrganization:
		return c.DeleteOrganization
	default:
		return false
	}
}

// DefaultCapabilities returns the capability set granted to a role at invite
// time. Owners and admins get everything; the flags matter only for the
// lower roles.
func DefaultCapabilities(r Role) Capabilities {
	switch r {
	case RoleOwner, RoleAdmin:
		return Capabilities{
			Invite:             true,
			ManageProjects:     true,
			ManageMembers:      true,
			ManageBilling:      true,
			ManageSettings:     true,
			DeleteOrganization: r == RoleOwner,
		}
	case RoleManager:
		return Capabilities{Invite: true, ManageProjects: true, ManageMembers: true}
	case RoleMember:
		return Capabilities{ManageProjects: true}
	default:
		return Capabilities{}
	}
}

// Status is the membership lifecycle state. Only active memberships grant
// access.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
)

// Membership binds a user to an organization with a role and capabilities.
type Membership struct {
	ID           string
	UserID       string
	OrgID        string
	Role         Role
	Capabilities Capabilities
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the membership currently grants access.
func (m *Membership) Active() bool {
	return m.Status == StatusActive
}
