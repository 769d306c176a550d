package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"org-security-engine/internal/membership/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a membership repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const membershipColumns = `id, user_id, org_id, role,
	cap_invite, cap_manage_projects, cap_manage_members, cap_manage_billing, cap_manage_settings, cap_delete_org,
	status, created_at, updated_at`

// GetByUserAndOrg returns the membership for (user, org), or nil if none.
func (r *PostgresRepository) GetByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND org_id = $2`,
		userID, orgID)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// Create persists a new membership. (user, org) is unique.
func (r *PostgresRepository) Create(ctx context.Context, m *domain.Membership) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO memberships (`+membershipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.UserID, m.OrgID, string(m.Role),
		m.Capabilities.Invite, m.Capabilities.ManageProjects, m.Capabilities.ManageMembers,
		m.Capabilities.ManageBilling, m.Capabilities.ManageSettings, m.Capabilities.DeleteOrganization,
		string(m.Status), m.CreatedAt, m.UpdatedAt)
	return err
}

// UpdateRole changes the member's role and replaces the capability flags.
func (r *PostgresRepository) UpdateRole(ctx context.Context, id string, role domain.Role, caps domain.Capabilities) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE memberships
		SET role = $2, cap_invite = $3, cap_manage_projects = $4, cap_manage_members = $5,
		    cap_manage_billing = $6, cap_manage_settings = $7, cap_delete_org = $8, updated_at = now()
		WHERE id = $1`,
		id, string(role), caps.Invite, caps.ManageProjects, caps.ManageMembers,
		caps.ManageBilling, caps.ManageSettings, caps.DeleteOrganization)
	return err
}

// UpdateStatus moves the membership through its lifecycle.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE memberships SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	return err
}

// ListByOrg returns the organization's memberships, highest role first.
func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE org_id = $1
		ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(row rowScanner) (*domain.Membership, error) {
	var (
		m            domain.Membership
		role, status string
		createdAt    time.Time
		updatedAt    time.Time
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.OrgID, &role,
		&m.Capabilities.Invite, &m.Capabilities.ManageProjects, &m.Capabilities.ManageMembers,
		&m.Capabilities.ManageBilling, &m.Capabilities.ManageSettings, &m.Capabilities.DeleteOrganization,
		&status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.Role = domain.Role(role)
	m.Status = domain.Status(status)
	m.CreatedAt = createdAt
	m.UpdatedAt = updatedAt
	return &m, nil
}
