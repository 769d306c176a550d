package domain

import (
	"errors"
	"time"
)

// Org represents an organization/tenant.
type Org struct {
	ID        string
	Name      string
	Slug      string
	Status    OrgStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
)

// Validate validates the organization for persistence. Returns an error
// describing the first validation failure.
func (o *Org) Validate() error {
	if o.Name == "" {
		return errors.New("name is required")
	}
	if o.Slug == "" {
		return errors.New("slug is required")
	}
	if o.Status == "" {
		o.Status = OrgStatusActive
	}
	return nil
}

// Active reports whether the organization accepts member activity.
func (o *Org) Active() bool {
	return o.Status == OrgStatusActive
}
