// File: internal/usecase/expiry_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/adapter"
	"subscription-lifecycle/internal/domain/ports/repository"
	"subscription-lifecycle/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ ExpiryUseCase = (*expiryUC)(nil)

type ExpiryUseCase interface {
	// ExpireDue moves cancelled rows whose end date has passed to expired and
	// returns how many were moved.
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

type expiryUC struct {
	ledger    Ledger
	publisher adapter.EventPublisher
	log       *zerolog.Logger
}

func NewExpiryUseCase(ledger Ledger, publisher adapter.EventPublisher, logger *zerolog.Logger) *expiryUC {
	l := logger.With().Str("component", "ExpiryUseCase").Logger()
	return &expiryUC{ledger: ledger, publisher: publisher, log: &l}
}

func (uc *expiryUC) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := uc.ledger.Subscriptions.ListCancelledEndedBefore(ctx, repository.NoTX, now, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, sub := range due {
		if ctx.Err() != nil {
			break
		}
		next := sub.Clone()
		next.Status = model.SubscriptionStatusExpired
		next.AutoRenew = false
		next.UpdatedAt = now

		err := uc.ledger.Tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := uc.ledger.Subscriptions.LockUser(ctx, tx, sub.UserID); err != nil {
				return err
			}
			return uc.ledger.Subscriptions.UpdateGuarded(ctx, tx, next, model.SubscriptionStatusCancelled, sub.PlanID)
		})
		if errors.Is(err, domain.ErrConcurrentModification) {
			// Resumed or replaced since the scan.
			continue
		}
		if err != nil {
			uc.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to expire subscription")
			continue
		}
		expired++
		publish(ctx, uc.publisher, uc.log, adapter.LifecycleEvent{
			ID:             uuid.NewString(),
			Type:           "subscription.expired",
			UserID:         next.UserID,
			SubscriptionID: next.ID,
			PlanID:         next.PlanID,
			Status:         string(next.Status),
			OccurredAt:     now,
		})
	}
	if expired > 0 {
		metrics.IncSubscriptionsExpired(expired)
		uc.log.Info().Int("expired", expired).Int("scanned", len(due)).Msg("expired cancelled subscriptions")
	}
	return expired, nil
}
