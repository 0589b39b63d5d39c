// File: internal/usecase/reconcile_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

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
var _ ReconcileUseCase = (*reconcileUC)(nil)

// ReconcileUseCase converges local and provider state for open discrepancies.
// Access state (cancel at period end) is pushed from the ledger to the
// provider; the billed plan is pulled from the provider into the ledger.
type ReconcileUseCase interface {
	ReconcileOpen(ctx context.Context, limit int) (*ReconcileReport, error)
	ListOpen(ctx context.Context, limit int) ([]*model.Discrepancy, error)
	Resolve(ctx context.Context, id, note string) error
}

type ReconcileReport struct {
	Checked  int `json:"checked"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

type reconcileUC struct {
	ledger      Ledger
	gateway     adapter.BillingGateway
	publisher   adapter.EventPublisher
	retry       RetryPolicy
	maxAttempts int
	now         Clock
	log         *zerolog.Logger
}

func NewReconcileUseCase(ledger Ledger, gateway adapter.BillingGateway, publisher adapter.EventPublisher, retry RetryPolicy, maxAttempts int, clock Clock, logger *zerolog.Logger) *reconcileUC {
	if clock == nil {
		clock = systemClock
	}
	l := logger.With().Str("component", "ReconcileUseCase").Logger()
	return &reconcileUC{
		ledger:      ledger,
		gateway:     gateway,
		publisher:   publisher,
		retry:       retry,
		maxAttempts: maxAttempts,
		now:         clock,
		log:         &l,
	}
}

func (uc *reconcileUC) ListOpen(ctx context.Context, limit int) ([]*model.Discrepancy, error) {
	if limit <= 0 {
		limit = 100
	}
	return uc.ledger.Discrepancies.ListOpen(ctx, repository.NoTX, limit)
}

// Resolve closes a discrepancy by hand.
func (uc *reconcileUC) Resolve(ctx context.Context, id, note string) error {
	d, err := uc.ledger.Discrepancies.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	if note == "" {
		note = "resolved manually"
	}
	if err := uc.ledger.Discrepancies.MarkResolved(ctx, repository.NoTX, id, note); err != nil {
		return err
	}
	metrics.IncDiscrepancyResolved(string(d.Operation), "manual")
	uc.log.Info().Str("discrepancy_id", id).Str("note", note).Msg("discrepancy resolved manually")
	uc.refreshOpenGauge(ctx)
	return nil
}

func (uc *reconcileUC) ReconcileOpen(ctx context.Context, limit int) (*ReconcileReport, error) {
	open, err := uc.ListOpen(ctx, limit)
	if err != nil {
		return nil, err
	}
	rep := &ReconcileReport{}
	for _, d := range open {
		if ctx.Err() != nil {
			break
		}
		if d.SubscriptionID == nil || (uc.maxAttempts > 0 && d.Attempts >= uc.maxAttempts) {
			// Needs a human: nothing to compare against, or we gave up.
			rep.Skipped++
			continue
		}
		rep.Checked++
		note, err := uc.reconcileOne(ctx, d)
		if err != nil {
			rep.Failed++
			uc.log.Warn().Err(err).Str("discrepancy_id", d.ID).Int("attempts", d.Attempts+1).Msg("reconciliation attempt failed")
			if ierr := uc.ledger.Discrepancies.IncrementAttempts(ctx, repository.NoTX, d.ID, err.Error()); ierr != nil {
				uc.log.Error().Err(ierr).Str("discrepancy_id", d.ID).Msg("failed to bump reconciliation attempts")
			}
			continue
		}
		if err := uc.ledger.Discrepancies.MarkResolved(ctx, repository.NoTX, d.ID, note); err != nil && !errors.Is(err, domain.ErrNotFound) {
			rep.Failed++
			uc.log.Error().Err(err).Str("discrepancy_id", d.ID).Msg("failed to mark discrepancy resolved")
			continue
		}
		rep.Resolved++
		metrics.IncDiscrepancyResolved(string(d.Operation), "auto")
		uc.log.Info().Str("discrepancy_id", d.ID).Str("resolution", note).Msg("discrepancy reconciled")
	}
	uc.refreshOpenGauge(ctx)
	return rep, nil
}

func (uc *reconcileUC) reconcileOne(ctx context.Context, d *model.Discrepancy) (string, error) {
	sub, err := uc.ledger.Subscriptions.FindByID(ctx, repository.NoTX, *d.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("load subscription: %w", err)
	}
	subID := sub.ProviderSubID()
	if subID == "" {
		return "subscription not linked to provider", nil
	}

	ps, err := withRetry(ctx, "get_subscription", uc.retry.MaxAttempts, uc.retry.BaseDelay,
		func(ctx context.Context) (*adapter.ProviderSubscription, error) {
			return uc.gateway.GetSubscription(ctx, subID)
		})
	if err != nil {
		return "", err
	}

	var notes []string
	if pushed, err := uc.pushAccessState(ctx, sub, ps); err != nil {
		return "", err
	} else if pushed != "" {
		notes = append(notes, pushed)
	}
	if pulled, err := uc.pullPlan(ctx, sub, ps); err != nil {
		return "", err
	} else if pulled != "" {
		notes = append(notes, pulled)
	}
	if len(notes) == 0 {
		return "in sync", nil
	}
	return strings.Join(notes, "; "), nil
}

// pushAccessState makes the provider's cancel-at-period-end flag match the ledger.
func (uc *reconcileUC) pushAccessState(ctx context.Context, sub *model.UserSubscription, ps *adapter.ProviderSubscription) (string, error) {
	var wantCancel bool
	switch {
	case sub.IsLive():
		wantCancel = false
	case sub.Status == model.SubscriptionStatusCancelled:
		wantCancel = true
	case sub.Status == model.SubscriptionStatusExpired:
		// Closed locally: the provider must stop renewing it, unless it already ended there.
		if providerEnded(ps.Status) {
			return "", nil
		}
		wantCancel = true
	default:
		return "", nil
	}
	if ps.CancelAtPeriodEnd == wantCancel {
		return "", nil
	}

	opCtx := adapter.WithIdempotencyKey(ctx, uuid.NewString())
	_, err := withRetry(opCtx, "reconcile_access", uc.retry.MaxAttempts, uc.retry.BaseDelay,
		func(ctx context.Context) (*adapter.ProviderSubscription, error) {
			if wantCancel {
				return uc.gateway.CancelSubscription(ctx, ps.ID)
			}
			return uc.gateway.ResumeSubscription(ctx, ps.ID)
		})
	if err != nil {
		return "", fmt.Errorf("push access state: %w", err)
	}
	if wantCancel {
		return "provider set to cancel at period end", nil
	}
	return "provider cancellation cleared", nil
}

// pullPlan moves the local row onto the plan the provider is billing.
func (uc *reconcileUC) pullPlan(ctx context.Context, sub *model.UserSubscription, ps *adapter.ProviderSubscription) (string, error) {
	if ps.PriceRef == "" || (!sub.IsLive() && sub.Status != model.SubscriptionStatusCancelled) {
		return "", nil
	}
	billed, err := uc.ledger.Plans.FindByProviderPriceRef(ctx, repository.NoTX, ps.PriceRef)
	if err != nil {
		return "", fmt.Errorf("resolve provider price %s: %w", ps.PriceRef, err)
	}
	if billed.ID == sub.PlanID {
		return "", nil
	}
	local, err := uc.ledger.Plans.FindByID(ctx, repository.NoTX, sub.PlanID)
	if err != nil {
		return "", fmt.Errorf("load local plan: %w", err)
	}

	now := uc.now()
	isUpgrade := billed.PriceMonthly > local.PriceMonthly
	next := sub.Clone()
	next.PlanID = billed.ID
	next.UpdatedAt = now
	h := newHistory(next, model.PlanChangeAction(isUpgrade), sub.PlanID, billed.ID, now)

	err = uc.ledger.Tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.ledger.Subscriptions.LockUser(ctx, tx, sub.UserID); err != nil {
			return err
		}
		if err := uc.ledger.Subscriptions.UpdateGuarded(ctx, tx, next, sub.Status, sub.PlanID); err != nil {
			return err
		}
		return uc.ledger.History.Append(ctx, tx, h)
	})
	if err != nil {
		return "", fmt.Errorf("pull plan: %w", err)
	}
	publishHistory(ctx, uc.publisher, uc.log, next, h)
	return fmt.Sprintf("local plan %s -> %s", sub.PlanID, billed.ID), nil
}

func (uc *reconcileUC) refreshOpenGauge(ctx context.Context) {
	n, err := uc.ledger.Discrepancies.CountOpen(ctx, repository.NoTX)
	if err != nil {
		uc.log.Debug().Err(err).Msg("count open discrepancies")
		return
	}
	metrics.SetDiscrepanciesOpen(n)
}

func providerEnded(status string) bool {
	switch status {
	case "canceled", "incomplete_expired":
		return true
	}
	return false
}
