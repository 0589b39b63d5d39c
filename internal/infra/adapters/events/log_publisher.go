package events

import (
	"context"

	"subscription-lifecycle/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.EventPublisher = (*LogPublisher)(nil)

// LogPublisher is used when kafka is disabled.
type LogPublisher struct {
	logger *zerolog.Logger
}

func NewLogPublisher(logger *zerolog.Logger) *LogPublisher {
	l := logger.With().Str("component", "LogPublisher").Logger()
	return &LogPublisher{logger: &l}
}

func (p *LogPublisher) Publish(ctx context.Context, ev adapter.LifecycleEvent) error {
	p.logger.Debug().
		Str("type", ev.Type).
		Str("user_id", ev.UserID).
		Str("subscription_id", ev.SubscriptionID).
		Msg("lifecycle event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
