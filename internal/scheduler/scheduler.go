package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	EvictIdleSpec         = "*/15 * * * *"
	PruneJournalSpec      = "30 3 * * *"
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	evictIdleTimeout      = time.Minute
	pruneJournalTimeout   = 5 * time.Minute
)

// IdleEvicter forgets documents and chat sessions nobody used for ttl.
type IdleEvicter interface {
	EvictIdle(ctx context.Context, now time.Time, ttl time.Duration) int
}

type JournalPruner interface {
	PruneRequests(ctx context.Context, cutoff time.Time) (int64, error)
}

type Scheduler struct {
	ctx       context.Context
	cron      *cron.Cron
	evicter   IdleEvicter
	pruner    JournalPruner
	idleTTL   time.Duration
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

func New(
	ctx context.Context,
	evicter IdleEvicter,
	pruner JournalPruner,
	idleTTL time.Duration,
	retention time.Duration,
	log *slog.Logger,
) *Scheduler {
	c := cron.New(cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)))

	return &Scheduler{
		ctx:       ctx,
		cron:      c,
		evicter:   evicter,
		pruner:    pruner,
		idleTTL:   idleTTL,
		retention: retention,
		now:       time.Now,
		log:       log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(EvictIdleSpec, s.evictIdle); err != nil {
		return err
	}

	if s.pruner != nil {
		if _, err := s.cron.AddFunc(PruneJournalSpec, s.pruneJournal); err != nil {
			return err
		}
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) evictIdle() {
	ctx, cancel := context.WithTimeout(s.ctx, evictIdleTimeout)
	defer cancel()

	if ctx.Err() != nil {
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	}

	evicted := s.evicter.EvictIdle(ctx, s.now(), s.idleTTL)

	s.log.DebugContext(ctx, "Idle chats are checked",
		"evicted", evicted,
		"idleTTL", s.idleTTL)
}

func (s *Scheduler) pruneJournal() {
	ctx, cancel := context.WithTimeout(s.ctx, pruneJournalTimeout)
	defer cancel()

	if ctx.Err() != nil {
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	}

	cutoff := s.now().Add(-s.retention)

	pruned, err := s.pruner.PruneRequests(ctx, cutoff)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to prune journal",
			"error", err,
			"cutoff", cutoff)
		return
	}

	s.log.InfoContext(ctx, "Journal is pruned",
		"pruned", pruned,
		"cutoff", cutoff)
}
