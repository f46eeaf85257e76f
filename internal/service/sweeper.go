package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/digkill/PhotoForge/internal/config"
	"github.com/digkill/PhotoForge/internal/models"
	"github.com/digkill/PhotoForge/internal/repository"
)

// Sweeper polls processing jobs no signal has touched for a while, so jobs whose
// webhook never arrived still converge. It also fails jobs stuck in pending, which
// returns their charge.
type Sweeper struct {
	cfg        config.Config
	log        *slog.Logger
	jobs       *repository.JobRepository
	reconciler *Reconciler
	now        func() time.Time
}

type SweepStats struct {
	Checked   int
	Completed int
	Failed    int
	Errors    int
	Abandoned int
}

// abandonedMessage is recorded on pending jobs whose submission outcome was never stored.
const abandonedMessage = "submission abandoned before the provider answer was recorded"

func NewSweeper(cfg config.Config, log *slog.Logger, jobs *repository.JobRepository, reconciler *Reconciler) *Sweeper {
	return &Sweeper{
		cfg:        cfg,
		log:        log,
		jobs:       jobs,
		reconciler: reconciler,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep reconciles one batch of stale jobs. Per-job errors are counted, not returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	batch := s.cfg.SweepBatchSize
	if batch <= 0 {
		batch = 100
	}
	stale, err := s.jobs.ListStale(ctx, s.now().Add(-s.cfg.PollAfter), batch)
	if err != nil {
		return SweepStats{}, err
	}

	var completed, failed, errs atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.SweepConcurrency, 1))
	for _, job := range stale {
		id := job.ID
		g.Go(func() error {
			_, outcome, err := s.reconciler.Reconcile(gctx, id)
			switch {
			case err != nil:
				errs.Add(1)
			case outcome == OutcomeCompleted:
				completed.Add(1)
			case outcome == OutcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := SweepStats{
		Checked:   len(stale),
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
		Errors:    int(errs.Load()),
	}

	abandoned, err := s.failAbandoned(ctx, batch)
	stats.Abandoned = abandoned
	if err != nil {
		s.log.Error("fail abandoned jobs", "err", err)
		stats.Errors++
	}

	if stats.Checked > 0 || stats.Abandoned > 0 {
		s.log.Info("sweep finished", "checked", stats.Checked, "completed", stats.Completed, "failed", stats.Failed, "errors", stats.Errors, "abandoned", stats.Abandoned)
	}
	return stats, ctx.Err()
}

// failAbandoned moves pending jobs older than the finalize lease to failed. Fail refunds
// the charge in the same transaction, and loses the race if Submit records the answer first.
func (s *Sweeper) failAbandoned(ctx context.Context, limit int) (int, error) {
	lease := s.cfg.FinalizeLease
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	now := s.now()
	pending, err := s.jobs.ListAbandoned(ctx, now.Add(-lease), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range pending {
		won, err := s.jobs.Fail(ctx, repository.FailParams{
			ID:      job.ID,
			From:    models.JobStatePending,
			Message: abandonedMessage,
			Now:     now,
		})
		if err != nil {
			return n, err
		}
		if won {
			n++
			s.log.Warn("abandoned pending job failed", "job_id", job.ID, "provider", job.Provider, "user_id", job.UserID, "credits_refunded", job.CreditsCharged)
		}
	}
	return n, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweep failed", "err", err)
			}
		}
	}
}
