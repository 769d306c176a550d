package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	devicedomain "org-security-engine/internal/device/domain"
	"org-security-engine/internal/risk"
	"org-security-engine/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `token, user_id, org_id, purpose, issued_at, expires_at, last_accessed_at,
	revoked, revoked_at, revoked_by, revoke_reason, expired,
	ip_address, device_name, device_type, device_fingerprint, device_browser, device_os,
	geo_country, geo_city, geo_timezone,
	risk_score, security_level, risk_factors, metadata`

// Create persists a new session. The token must be unique; a duplicate
// violates the primary key and surfaces as an error.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	factors, err := marshalJSON(s.RiskFactors)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		s.Token, s.UserID, nullString(s.OrgID), s.Purpose,
		s.IssuedAt, s.ExpiresAt, s.LastAccessedAt,
		s.Revoked, nullTime(s.RevokedAt), nullString(s.RevokedBy), nullString(s.RevokeReason), s.Expired,
		nullString(s.IP), nullString(s.Device.Name), string(s.Device.Type), nullString(s.Device.Fingerprint),
		nullString(s.Device.Browser), nullString(s.Device.OS),
		nullString(geoCountry(s)), nullString(geoCity(s)), nullString(geoTimezone(s)),
		s.RiskScore, string(s.SecurityLevel), factors, nullBytes(s.Metadata))
	return err
}

// GetByToken returns the session for the token, or nil if none exists.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// UpdateLastAccessed bumps the sliding access timestamp.
func (r *PostgresRepository) UpdateLastAccessed(ctx context.Context, token string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_accessed_at = $2 WHERE token = $1`, token, at)
	return err
}

// Revoke performs the revocation compare-and-set. The WHERE clause guarantees
// at most one caller wins when several race on the same token.
func (r *PostgresRepository) Revoke(ctx context.Context, token, revokedBy, reason string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked = true, revoked_at = $2, revoked_by = $3, revoke_reason = $4
		WHERE token = $1 AND revoked = false`,
		token, at, nullString(revokedBy), nullString(reason))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RevokeAllByUser revokes every live session of the user, sparing exceptToken
// when non-empty, and returns how many rows transitioned.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID, exceptToken, revokedBy, reason string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked = true, revoked_at = $2, revoked_by = $3, revoke_reason = $4
		WHERE user_id = $1 AND revoked = false AND expires_at > $2
		  AND ($5 = '' OR token <> $5)`,
		userID, at, nullString(revokedBy), nullString(reason), exceptToken)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkExpired flags sessions whose expiry has passed. Revoked sessions are
// skipped; revocation already ended them.
func (r *PostgresRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET expired = true
		WHERE expired = false AND revoked = false AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountActiveByUser counts the user's live sessions at the given instant.
func (r *PostgresRepository) CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE user_id = $1 AND revoked = false AND expires_at > $2`,
		userID, now).Scan(&n)
	return n, err
}

// ListActiveByUser returns the user's live sessions, newest first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND revoked = false AND expires_at > $2
		ORDER BY issued_at DESC`,
		userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// HasUserCountry reports whether the user ever held a session from country.
func (r *PostgresRepository) HasUserCountry(ctx context.Context, userID, country string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sessions WHERE user_id = $1 AND geo_country = $2
		)`, userID, country).Scan(&exists)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s                          domain.Session
		orgID                      sql.NullString
		revokedAt                  sql.NullTime
		revokedBy, revokeReason    sql.NullString
		ip, devName, devFP         sql.NullString
		devType                    string
		devBrowser, devOS          sql.NullString
		geoCountry, geoCity, geoTZ sql.NullString
		secLevel                   string
		factors, metadata          []byte
	)
	if err := row.Scan(&s.Token, &s.UserID, &orgID, &s.Purpose,
		&s.IssuedAt, &s.ExpiresAt, &s.LastAccessedAt,
		&s.Revoked, &revokedAt, &revokedBy, &revokeReason, &s.Expired,
		&ip, &devName, &devType, &devFP, &devBrowser, &devOS,
		&geoCountry, &geoCity, &geoTZ,
		&s.RiskScore, &secLevel, &factors, &metadata); err != nil {
		return nil, err
	}
	s.OrgID = orgID.String
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	s.RevokedBy = revokedBy.String
	s.RevokeReason = revokeReason.String
	s.IP = ip.String
	s.Device.Name = devName.String
	s.Device.Type = devicedomain.DeviceType(devType)
	s.Device.Fingerprint = devFP.String
	s.Device.Browser = devBrowser.String
	s.Device.OS = devOS.String
	if geoCountry.Valid || geoCity.Valid || geoTZ.Valid {
		s.Geo = &devicedomain.Geolocation{
			Country:  geoCountry.String,
			City:     geoCity.String,
			Timezone: geoTZ.String,
		}
	}
	s.SecurityLevel = risk.Level(secLevel)
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &s.RiskFactors); err != nil {
			return nil, err
		}
	}
	s.Metadata = metadata
	return &s, nil
}

func marshalJSON(v []string) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

func geoCountry(s *domain.Session) string {
	if s.Geo == nil {
		return ""
	}
	return s.Geo.Country
}

func geoCity(s *domain.Session) string {
	if s.Geo == nil {
		return ""
	}
	return s.Geo.City
}

func geoTimezone(s *domain.Session) string {
	if s.Geo == nil {
		return ""
	}
	return s.Geo.Timezone
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

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
