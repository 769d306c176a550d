// Package audit records security-relevant events. Writes are best effort by
// default: a failing trail write must never fail the operation being audited.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"org-security-engine/internal/audit/domain"
	"org-security-engine/internal/audit/repository"
	"org-security-engine/internal/clock"
)

// DefaultWriteTimeout bounds each asynchronous trail write.
const DefaultWriteTimeout = 5 * time.Second

// DefaultTrailLimit is the page size used when a trail query gives no limit.
const DefaultTrailLimit = 50

type Repository interface {
	Create(ctx context.Context, e *domain.Event) error
	CreateBatch(ctx context.Context, events []*domain.Event) error
	Query(ctx context.Context, f repository.Filter) ([]*domain.Event, error)
	MarkProcessed(ctx context.Context, id string) error
}

// Logger is the audit trail service.
type Logger struct {
	repo    Repository
	clock   clock.Clock
	log     *zap.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewLogger builds a Logger. clk and log may be nil; the real clock and a
// no-op logger are used then.
func NewLogger(repo Repository, clk clock.Clock, log *zap.Logger, timeout time.Duration) *Logger {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Logger{repo: repo, clock: clk, log: log, timeout: timeout}
}

// Log writes e asynchronously and returns immediately. The write runs on a
// detached context with its own timeout so it survives the caller's request
// ending; failures are logged, never surfaced.
func (l *Logger) Log(e *domain.Event) {
	l.prepare(e)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.repo.Create(ctx, e); err != nil {
			l.log.Warn("audit write failed",
				zap.String("event_type", string(e.Type)),
				zap.String("action", e.Action),
				zap.Error(err))
		}
	}()
}

// LogSync writes e and reports the error. Used where the caller must know the
// event landed, e.g. compliance-critical admin actions.
func (l *Logger) LogSync(ctx context.Context, e *domain.Event) error {
	l.prepare(e)
	return l.repo.Create(ctx, e)
}

// LogBatch writes all events atomically: either the whole batch lands or none
// of it does.
func (l *Logger) LogBatch(ctx context.Context, events []*domain.Event) error {
	for _, e := range events {
		l.prepare(e)
	}
	return l.repo.CreateBatch(ctx, events)
}

// Query returns events matching f, newest first, applying the default page
// size when f.Limit is unset.
func (l *Logger) Query(ctx context.Context, f repository.Filter) ([]*domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultTrailLimit
	}
	return l.repo.Query(ctx, f)
}

// UserTrail returns the user's recent events, newest first, optionally
// restricted to the given types.
func (l *Logger) UserTrail(ctx context.Context, userID string, limit int, types ...domain.EventType) ([]*domain.Event, error) {
	return l.Query(ctx, repository.Filter{UserID: userID, Types: types, Limit: limit})
}

// OrgTrail returns the organization's recent events, newest first.
func (l *Logger) OrgTrail(ctx context.Context, orgID string, limit int) ([]*domain.Event, error) {
	return l.Query(ctx, repository.Filter{OrgID: orgID, Limit: limit})
}

// MarkProcessed flags an event as handled by a downstream consumer.
func (l *Logger) MarkProcessed(ctx context.Context, id string) error {
	return l.repo.MarkProcessed(ctx, id)
}

// Drain blocks until in-flight asynchronous writes finish or the timeout
// lapses. Called on shutdown.
func (l *Logger) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (l *Logger) prepare(e *domain.Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.clock.Now()
	}
	if e.Status == "" {
		e.Status = domain.StatusSuccess
	}
	if e.Category == "" {
		e.Category = domain.CategoryAuth
	}
}
