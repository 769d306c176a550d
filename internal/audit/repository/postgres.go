package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"org-security-engine/internal/audit/domain"
	devicedomain "org-security-engine/internal/device/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const eventColumns = `id, user_id, org_id, session_token, event_type, action, status, category,
	ip_address, user_agent, device_name, geo_country, geo_city,
	risk_score, risk_factors, event_data, error_code, error_message, source, processed, created_at`

// Create appends a single event to the trail.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Event) error {
	return insertEvent(ctx, r.db, e)
}

// CreateBatch appends all events inside one transaction; a failure on any
// event rolls back the whole batch.
func (r *PostgresRepository) CreateBatch(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		if err := insertEvent(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, e *domain.Event) error {
	factors, err := marshalFactors(e.RiskFactors)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		e.ID, nullString(e.UserID), nullString(e.OrgID), nullString(e.SessionToken),
		string(e.Type), e.Action, string(e.Status), string(e.Category),
		nullString(e.Context.IP), nullString(e.Context.UserAgent), nullString(e.Context.Device.Name),
		nullString(geoCountry(e)), nullString(geoCity(e)),
		e.RiskScore, factors, nullBytes(e.Data),
		nullString(e.ErrorCode), nullString(e.ErrorMessage), nullString(e.Source),
		e.Processed, e.CreatedAt)
	return err
}

// Query returns events matching f, newest first. An empty filter returns the
// most recent events up to the limit.
func (r *PostgresRepository) Query(ctx context.Context, f Filter) ([]*domain.Event, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.UserID != "" {
		where = append(where, "user_id = "+arg(f.UserID))
	}
	if f.OrgID != "" {
		where = append(where, "org_id = "+arg(f.OrgID))
	}
	if len(f.Types) > 0 {
		ph := make([]string, len(f.Types))
		for i, t := range f.Types {
			ph[i] = arg(string(t))
		}
		where = append(where, "event_type IN ("+strings.Join(ph, ", ")+")")
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.Category != "" {
		where = append(where, "category = "+arg(string(f.Category)))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "created_at < "+arg(f.Until))
	}

	q := "SELECT " + eventColumns + " FROM audit_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkProcessed flips the processed flag on one event. Idempotent.
func (r *PostgresRepository) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE audit_events SET processed = true WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var (
		e                             domain.Event
		userID, orgID, sessionToken   sql.NullString
		eventType, status, category   string
		ip, ua, deviceName, gc, gcity sql.NullString
		factors, data                 []byte
		errCode, errMsg, source       sql.NullString
	)
	if err := row.Scan(&e.ID, &userID, &orgID, &sessionToken,
		&eventType, &e.Action, &status, &category,
		&ip, &ua, &deviceName, &gc, &gcity,
		&e.RiskScore, &factors, &data,
		&errCode, &errMsg, &source, &e.Processed, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.UserID = userID.String
	e.OrgID = orgID.String
	e.SessionToken = sessionToken.String
	e.Type = domain.EventType(eventType)
	e.Status = domain.Status(status)
	e.Category = domain.Category(category)
	e.Context.IP = ip.String
	e.Context.UserAgent = ua.String
	e.Context.Device.Name = deviceName.String
	if gc.Valid || gcity.Valid {
		e.Context.Geo = &devicedomain.Geolocation{Country: gc.String, City: gcity.String}
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &e.RiskFactors); err != nil {
			return nil, err
		}
	}
	e.Data = data
	e.ErrorCode = errCode.String
	e.ErrorMessage = errMsg.String
	e.Source = source.String
	return &e, nil
}

func marshalFactors(factors []string) (any, error) {
	if len(factors) == 0 {
		return nil, nil
	}
	return json.Marshal(factors)
}

func geoCountry(e *domain.Event) string {
	if e.Context.Geo == nil {
		return ""
	}
	return e.Context.Geo.Country
}

func geoCity(e *domain.Event) string {
	if e.Context.Geo == nil {
		return ""
	}
	return e.Context.Geo.City
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
