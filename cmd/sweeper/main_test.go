package main

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"org-security-engine/internal/metrics"
)

type fakeSweeper struct {
	n   int64
	err error
}

func (f fakeSweeper) CleanupExpired(context.Context) (int64, error) { return f.n, f.err }

func TestSweep_CountsFlaggedSessions(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	sweep(context.Background(), fakeSweeper{n: 3}, zap.NewNop(), m)
	sweep(context.Background(), fakeSweeper{n: 2}, zap.NewNop(), m)
	if got := testutil.ToFloat64(m.SessionsSwept); got != 5 {
		t.Errorf("swept total = %v, want 5", got)
	}

	// A failed sweep flags nothing and must not move the counter.
	sweep(context.Background(), fakeSweeper{err: errors.New("db down")}, zap.NewNop(), m)
	if got := testutil.ToFloat64(m.SessionsSwept); got != 5 {
		t.Errorf("swept total after failure = %v, want still 5", got)
	}
}
