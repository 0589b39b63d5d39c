package sched

import (
	"context"
	"time"

	"subscription-lifecycle/internal/infra/metrics"
	"subscription-lifecycle/internal/infra/redis"
	"subscription-lifecycle/internal/usecase"

	"github.com/rs/zerolog"
)

const expiryLockKey = "lock:sched:expiry"

// ExpiryWorker periodically moves cancelled subscriptions whose access window
// has closed to expired.
type ExpiryWorker struct {
	interval time.Duration
	batch    int
	lockTTL  time.Duration
	uc       usecase.ExpiryUseCase
	locker   redis.Locker
	now      func() time.Time
	log      *zerolog.Logger
}

// NewExpiryWorker builds the sweep. locker may be nil when only one replica runs.
func NewExpiryWorker(interval time.Duration, batch int, lockTTL time.Duration, uc usecase.ExpiryUseCase, locker redis.Locker, logger *zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if batch <= 0 {
		batch = 200
	}
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		batch:    batch,
		lockTTL:  lockTTL,
		uc:       uc,
		locker:   locker,
		now:      func() time.Time { return time.Now().UTC() },
		log:      &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick drains every due row, one batch at a time.
func (w *ExpiryWorker) tick(ctx context.Context) {
	ran, err := runLocked(ctx, w.locker, expiryLockKey, w.lockTTL, func(ctx context.Context) error {
		total := 0
		for {
			n, err := w.uc.ExpireDue(ctx, w.now(), w.batch)
			if err != nil {
				return err
			}
			total += n
			if n < w.batch {
				break
			}
		}
		if total > 0 {
			w.log.Info().Int("count", total).Msg("expired subscriptions finished")
		}
		return nil
	})
	switch {
	case err != nil:
		metrics.IncJobRun("expiry", "error")
		w.log.Error().Err(err).Msg("expiry worker error")
	case !ran:
		metrics.IncJobRun("expiry", "skipped")
	default:
		metrics.IncJobRun("expiry", "ok")
	}
}
