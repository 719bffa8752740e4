package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeEvicter struct {
	calls int
	now   time.Time
	ttl   time.Duration
}

func (e *fakeEvicter) EvictIdle(_ context.Context, now time.Time, ttl time.Duration) int {
	e.calls++
	e.now = now
	e.ttl = ttl
	return 1
}

type fakePruner struct {
	cutoff time.Time
	err    error
}

func (p *fakePruner) PruneRequests(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return 3, p.err
}

func newScheduler(ctx context.Context, e IdleEvicter, p JournalPruner) *Scheduler {
	s := New(ctx, e, p, time.Hour, 24*time.Hour, slog.New(slog.DiscardHandler))
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestEvictIdle(t *testing.T) {
	e := &fakeEvicter{}
	s := newScheduler(context.Background(), e, nil)

	s.evictIdle()

	if e.calls != 1 || e.ttl != time.Hour || !e.now.Equal(s.now()) {
		t.Fatalf("unexpected eviction call: %+v", e)
	}
}

func TestEvictIdleSkipsWhenContextIsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &fakeEvicter{}
	newScheduler(ctx, e, nil).evictIdle()

	if e.calls != 0 {
		t.Fatalf("expected no eviction after shutdown")
	}
}

func TestPruneJournal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"failure is logged", errors.New("disk full")},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := &fakePruner{err: test.err}
			s := newScheduler(context.Background(), &fakeEvicter{}, p)

			s.pruneJournal()

			if want := s.now().Add(-24 * time.Hour); !p.cutoff.Equal(want) {
				t.Fatalf("expected cutoff %v, got %v", want, p.cutoff)
			}
		})
	}
}

func TestStartRegistersJobs(t *testing.T) {
	s := newScheduler(context.Background(), &fakeEvicter{}, &fakePruner{})
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	if got := len(s.cron.Entries()); got != 2 {
		t.Fatalf("expected 2 jobs, got %d", got)
	}
}
