package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"org-security-engine/internal/device/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a device repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByUserAndFingerprint returns the known device for (user, fingerprint), or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*domain.Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, org_id, fingerprint, device_type, last_seen_at, created_at
		FROM devices
		WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// Create persists the device binding. The device must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, d *domain.Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, user_id, org_id, fingerprint, device_type, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.UserID, nullString(d.OrgID), d.Fingerprint, string(d.Type),
		nullTime(d.LastSeenAt), d.CreatedAt)
	return err
}

// UpdateLastSeen sets the device's last-seen timestamp.
func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE devices SET last_seen_at = $2 WHERE id = $1`, id, at)
	return err
}

// ListByUser returns all known devices for the user, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, org_id, fingerprint, device_type, last_seen_at, created_at
		FROM devices
		WHERE user_id = $1
		ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*domain.Device, error) {
	var (
		d        domain.Device
		orgID    sql.NullString
		devType  string
		lastSeen sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.UserID, &orgID, &d.Fingerprint, &devType, &lastSeen, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.OrgID = orgID.String
	d.Type = domain.DeviceType(devType)
	if lastSeen.Valid {
		t := lastSeen.Time
		d.LastSeenAt = &t
	}
	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
