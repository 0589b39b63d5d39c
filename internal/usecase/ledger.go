// File: internal/usecase/ledger.go
package usecase

import (
	"context"
	"time"

	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/adapter"
	"subscription-lifecycle/internal/domain/ports/repository"
	"subscription-lifecycle/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger groups the persistence ports shared by the lifecycle use cases.
type Ledger struct {
	Tx            repository.TransactionManager
	Plans         repository.SubscriptionPlanRepository
	Subscriptions repository.SubscriptionRepository
	History       repository.HistoryRepository
	Coupons       repository.CouponRepository
	Customers     repository.CustomerRepository
	Invoices      repository.InvoiceRepository
	Discrepancies repository.DiscrepancyRepository
}

// Clock returns the current time; tests pin it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func newHistory(sub *model.UserSubscription, action model.HistoryAction, oldPlanID, newPlanID string, now time.Time) *model.SubscriptionHistory {
	h := &model.SubscriptionHistory{
		ID:             uuid.NewString(),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Action:         action,
		CreatedAt:      now,
	}
	if oldPlanID != "" {
		h.OldPlanID = &oldPlanID
	}
	if newPlanID != "" {
		h.NewPlanID = &newPlanID
	}
	return h
}

// settleTimeout bounds ledger work that runs after the provider was called.
const settleTimeout = 10 * time.Second

// settleContext keeps ctx's values but not its cancellation, so a local
// transition the provider may already reflect still commits after the caller
// has gone away.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func stampDiscrepancy(d *model.Discrepancy, now time.Time) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.Status = model.DiscrepancyOpen
	d.CreatedAt, d.UpdatedAt = now, now
}

// recordDiscrepancy persists a suspected provider/ledger mismatch outside of any
// transaction. A failure to record is logged, never returned: the caller's
// outcome is already decided.
func recordDiscrepancy(ctx context.Context, repo repository.DiscrepancyRepository, log *zerolog.Logger, d *model.Discrepancy) {
	stampDiscrepancy(d, time.Now().UTC())

	metrics.IncDiscrepancyRecorded(string(d.Operation), string(d.Reason))
	ev := log.Warn().
		Str("discrepancy_id", d.ID).
		Str("user_id", d.UserID).
		Str("operation", string(d.Operation)).
		Str("reason", string(d.Reason)).
		Str("detail", d.Detail)
	if err := repo.Record(ctx, repository.NoTX, d); err != nil {
		log.Error().Err(err).Str("discrepancy_id", d.ID).Msg("failed to record reconciliation discrepancy")
		return
	}
	ev.Msg("reconciliation discrepancy recorded")
}

// publishHistory emits the committed history row as a lifecycle event.
func publishHistory(ctx context.Context, pub adapter.EventPublisher, log *zerolog.Logger, sub *model.UserSubscription, h *model.SubscriptionHistory) {
	ev := adapter.LifecycleEvent{
		ID:             h.ID,
		Type:           "subscription." + string(h.Action),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		Status:         string(sub.Status),
		OccurredAt:     h.CreatedAt,
	}
	if h.OldPlanID != nil {
		ev.OldPlanID = *h.OldPlanID
	}
	publish(ctx, pub, log, ev)
}

func publish(ctx context.Context, pub adapter.EventPublisher, log *zerolog.Logger, ev adapter.LifecycleEvent) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("type", ev.Type).Str("subscription_id", ev.SubscriptionID).Msg("lifecycle event publish failed")
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
