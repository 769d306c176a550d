package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"org-security-engine/internal/audit/domain"
	"org-security-engine/internal/audit/repository"
	"org-security-engine/internal/clock"
)

type mockRepo struct {
	mu      sync.Mutex
	events  []*domain.Event
	batches [][]*domain.Event
	queries []repository.Filter

	createErr error
	batchErr  error
}

func (m *mockRepo) Create(_ context.Context, e *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockRepo) CreateBatch(_ context.Context, events []*domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchErr != nil {
		return m.batchErr
	}
	m.batches = append(m.batches, events)
	m.events = append(m.events, events...)
	return nil
}

func (m *mockRepo) Query(_ context.Context, f repository.Filter) ([]*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, f)
	out := make([]*domain.Event, len(m.events))
	for i, e := range m.events {
		out[len(m.events)-1-i] = e
	}
	return out, nil
}

func (m *mockRepo) MarkProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			e.Processed = true
		}
	}
	return nil
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestLogger(repo *mockRepo) (*Logger, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	return NewLogger(repo, clk, nil, time.Second), clk
}

func TestLog_AsyncWriteLands(t *testing.T) {
	repo := &mockRepo{}
	l, clk := newTestLogger(repo)

	l.Log(&domain.Event{Type: domain.EventTypeLogin, Action: "login"})
	if !l.Drain(time.Second) {
		t.Fatal("drain timed out")
	}
	if repo.count() != 1 {
		t.Fatalf("events = %d, want 1", repo.count())
	}

	e := repo.events[0]
	if e.ID == "" {
		t.Error("event ID was not assigned")
	}
	if !e.CreatedAt.Equal(clk.Now()) {
		t.Errorf("CreatedAt = %v, want clock time", e.CreatedAt)
	}
	if e.Status != domain.StatusSuccess {
		t.Errorf("status = %q, want default success", e.Status)
	}
	if e.Category != domain.CategoryAuth {
		t.Errorf("category = %q, want default auth", e.Category)
	}
}

func TestLog_WriteFailureIsSwallowed(t *testing.T) {
	repo := &mockRepo{createErr: errors.New("db down")}
	l, _ := newTestLogger(repo)

	// Must not panic or surface anywhere.
	l.Log(&domain.Event{Type: domain.EventTypeSession, Action: "create_session"})
	if !l.Drain(time.Second) {
		t.Fatal("drain timed out")
	}
	if repo.count() != 0 {
		t.Fatalf("events = %d, want 0", repo.count())
	}
}

func TestLogSync_SurfacesError(t *testing.T) {
	repo := &mockRepo{createErr: errors.New("db down")}
	l, _ := newTestLogger(repo)

	err := l.LogSync(context.Background(), &domain.Event{Type: domain.EventTypeLogin, Action: "login"})
	if err == nil {
		t.Fatal("expected error from LogSync")
	}
}

func TestLogBatch_AllOrNothing(t *testing.T) {
	repo := &mockRepo{}
	l, _ := newTestLogger(repo)

	events := []*domain.Event{
		{Type: domain.EventTypeLogin, Action: "login"},
		{Type: domain.EventTypeSession, Action: "create_session"},
	}
	if err := l.LogBatch(context.Background(), events); err != nil {
		t.Fatalf("LogBatch: %v", err)
	}
	if len(repo.batches) != 1 || len(repo.batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch of two", repo.batches)
	}
	for _, e := range events {
		if e.ID == "" || e.CreatedAt.IsZero() {
			t.Errorf("batch event not prepared: %+v", e)
		}
	}

	repo.batchErr = errors.New("db down")
	if err := l.LogBatch(context.Background(), events); err == nil {
		t.Fatal("expected batch error to surface")
	}
	if repo.count() != 2 {
		t.Fatalf("events = %d after failed batch, want unchanged 2", repo.count())
	}
}

func TestQuery_AppliesDefaultLimit(t *testing.T) {
	repo := &mockRepo{}
	l, _ := newTestLogger(repo)

	if _, err := l.Query(context.Background(), repository.Filter{UserID: "u1"}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := repo.queries[0].Limit; got != DefaultTrailLimit {
		t.Errorf("limit = %d, want default %d", got, DefaultTrailLimit)
	}
}

func TestUserTrail_FiltersByUserAndTypes(t *testing.T) {
	repo := &mockRepo{}
	l, _ := newTestLogger(repo)

	_, err := l.UserTrail(context.Background(), "u1", 10, domain.EventTypeLogin, domain.EventTypeSession)
	if err != nil {
		t.Fatalf("UserTrail: %v", err)
	}
	f := repo.queries[0]
	if f.UserID != "u1" || f.Limit != 10 || len(f.Types) != 2 {
		t.Errorf("filter = %+v, want user u1, limit 10, two types", f)
	}
}

func TestMarkProcessed(t *testing.T) {
	repo := &mockRepo{}
	l, _ := newTestLogger(repo)

	e := &domain.Event{Type: domain.EventTypeLogin, Action: "login"}
	if err := l.LogSync(context.Background(), e); err != nil {
		t.Fatalf("LogSync: %v", err)
	}
	if err := l.MarkProcessed(context.Background(), e.ID); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !repo.events[0].Processed {
		t.Error("event not marked processed")
	}
}
