package events

import (
	"context"
	"time"

	"subscription-lifecycle/internal/domain/ports/adapter"
	"subscription-lifecycle/internal/infra/metrics"
	"subscription-lifecycle/internal/infra/worker"

	"github.com/rs/zerolog"
)

var _ adapter.EventPublisher = (*AsyncPublisher)(nil)

// AsyncPublisher hands events to the worker pool so a slow broker never
// holds up a committed lifecycle operation. Delivery is best effort.
type AsyncPublisher struct {
	inner   adapter.EventPublisher
	pool    *worker.Pool
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewAsyncPublisher(inner adapter.EventPublisher, pool *worker.Pool, logger *zerolog.Logger) *AsyncPublisher {
	l := logger.With().Str("component", "AsyncPublisher").Logger()
	return &AsyncPublisher{inner: inner, pool: pool, timeout: 10 * time.Second, logger: &l}
}

func (p *AsyncPublisher) Publish(_ context.Context, ev adapter.LifecycleEvent) error {
	err := p.pool.Submit(func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		if err := p.inner.Publish(cctx, ev); err != nil {
			metrics.IncEventPublished("error")
			return err
		}
		metrics.IncEventPublished("ok")
		return nil
	})
	if err != nil {
		metrics.IncEventPublished("dropped")
		p.logger.Warn().Err(err).Str("type", ev.Type).Str("subscription_id", ev.SubscriptionID).Msg("lifecycle event dropped")
	}
	return nil
}

func (p *AsyncPublisher) Close() error { return p.inner.Close() }
