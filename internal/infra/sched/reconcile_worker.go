package sched

import (
	"context"
	"time"

	"subscription-lifecycle/internal/infra/metrics"
	"subscription-lifecycle/internal/infra/redis"
	"subscription-lifecycle/internal/usecase"

	"github.com/rs/zerolog"
)

const reconcileLockKey = "lock:sched:reconcile"

// ReconcileWorker periodically retries open provider/ledger discrepancies and
// refreshes the subscription gauges. This covers calls whose outcome was
// unknown and ledger writes that failed after the provider applied a change.
type ReconcileWorker struct {
	uc       usecase.ReconcileUseCase
	stats    usecase.StatsUseCase
	locker   redis.Locker
	interval time.Duration
	batch    int
	lockTTL  time.Duration
	log      *zerolog.Logger
}

func NewReconcileWorker(uc usecase.ReconcileUseCase, stats usecase.StatsUseCase, locker redis.Locker, interval time.Duration, batch int, lockTTL time.Duration, logger *zerolog.Logger) *ReconcileWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	l := logger.With().Str("component", "ReconcileWorker").Logger()
	return &ReconcileWorker{uc: uc, stats: stats, locker: locker, interval: interval, batch: batch, lockTTL: lockTTL, log: &l}
}

func (w *ReconcileWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting reconcile worker")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping reconcile worker")
			return ctx.Err()
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *ReconcileWorker) tick(ctx context.Context) {
	ran, err := runLocked(ctx, w.locker, reconcileLockKey, w.lockTTL, func(ctx context.Context) error {
		rep, err := w.uc.ReconcileOpen(ctx, w.batch)
		if err != nil {
			return err
		}
		if rep.Checked > 0 || rep.Skipped > 0 {
			w.log.Info().
				Int("checked", rep.Checked).
				Int("resolved", rep.Resolved).
				Int("failed", rep.Failed).
				Int("skipped", rep.Skipped).
				Msg("reconciliation pass finished")
		}
		return nil
	})
	switch {
	case err != nil:
		metrics.IncJobRun("reconcile", "error")
		w.log.Error().Err(err).Msg("reconcile worker error")
	case !ran:
		metrics.IncJobRun("reconcile", "skipped")
	default:
		metrics.IncJobRun("reconcile", "ok")
	}

	if w.stats != nil {
		if _, err := w.stats.Snapshot(ctx); err != nil {
			w.log.Debug().Err(err).Msg("stats refresh failed")
		}
	}
}
