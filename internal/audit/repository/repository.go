package repository

import (
	"context"
	"time"

	"org-security-engine/internal/audit/domain"
)

// Filter narrows a trail query. Zero values mean "no constraint".
type Filter struct {
	UserID   string
	OrgID    string
	Types    []domain.EventType
	Status   domain.Status
	Category domain.Category
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Repository defines persistence for the audit trail. Events are append-only;
// the only mutation is the processed flag.
type Repository interface {
	Create(ctx context.Context, e *domain.Event) error
	// CreateBatch writes all events in a single transaction. Either every
	// event lands or none do.
	CreateBatch(ctx context.Context, events []*domain.Event) error
	// Query returns matching events newest first.
	Query(ctx context.Context, f Filter) ([]*domain.Event, error)
	MarkProcessed(ctx context.Context, id string) error
}
