// File: internal/usecase/billing_event_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/adapter"
	"subscription-lifecycle/internal/domain/ports/repository"
	"subscription-lifecycle/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ BillingEventUseCase = (*billingEventUC)(nil)

// BillingEventUseCase consumes confirmations handed over by the payment
// webhook collaborator. It is the only path that creates subscription rows.
type BillingEventUseCase interface {
	ActivateFromCheckout(ctx context.Context, in ActivationInput) (*model.UserSubscription, error)
	RecordInvoice(ctx context.Context, in InvoiceInput) (*model.Invoice, error)
	ListInvoices(ctx context.Context, userID string, limit int) ([]*model.Invoice, error)
}

// ActivationInput describes a provider-confirmed checkout. Either PlanID or
// PriceRef identifies the plan; PriceRef also determines the billing cycle.
type ActivationInput struct {
	UserID                 string             `json:"user_id"`
	PlanID                 string             `json:"plan_id,omitempty"`
	PriceRef               string             `json:"price_ref,omitempty"`
	Cycle                  model.BillingCycle `json:"billing_cycle,omitempty"`
	ProviderSubscriptionID string             `json:"provider_subscription_id"`
	ProviderCustomerID     string             `json:"provider_customer_id,omitempty"`
	Trial                  bool               `json:"trial"`
	CouponCode             string             `json:"coupon_code,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
}

type InvoiceInput struct {
	ProviderInvoiceID      string              `json:"provider_invoice_id"`
	ProviderSubscriptionID string              `json:"provider_subscription_id"`
	Amount                 int64               `json:"amount"`
	TotalAmount            int64               `json:"total_amount"`
	Currency               string              `json:"currency"`
	Status                 model.PaymentStatus `json:"status"`
	PaidAt                 *time.Time          `json:"paid_at,omitempty"`
	NextPeriodEnd          *time.Time          `json:"next_period_end,omitempty"`
}

type billingEventUC struct {
	ledger    Ledger
	publisher adapter.EventPublisher
	now       Clock
	log       *zerolog.Logger
}

func NewBillingEventUseCase(ledger Ledger, publisher adapter.EventPublisher, clock Clock, logger *zerolog.Logger) *billingEventUC {
	if clock == nil {
		clock = systemClock
	}
	l := logger.With().Str("component", "BillingEventUseCase").Logger()
	return &billingEventUC{ledger: ledger, publisher: publisher, now: clock, log: &l}
}

func (uc *billingEventUC) ActivateFromCheckout(ctx context.Context, in ActivationInput) (sub *model.UserSubscription, err error) {
	defer func() { metrics.IncLifecycleOp("activate", result(err)) }()
	if in.UserID == "" || in.ProviderSubscriptionID == "" {
		return nil, domain.ErrInvalidArgument
	}
	plan, cycle, err := uc.resolvePlan(ctx, in)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	var (
		created    *model.UserSubscription
		history    *model.SubscriptionHistory
		superseded []*model.Discrepancy
		replayed   bool
	)
	err = uc.ledger.Tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		created, history, superseded, replayed = nil, nil, nil, false
		if err := uc.ledger.Subscriptions.LockUser(ctx, tx, in.UserID); err != nil {
			return err
		}
		existing, err := uc.ledger.Subscriptions.FindByProviderSubscriptionID(ctx, tx, in.ProviderSubscriptionID)
		if err == nil {
			created, replayed = existing, true
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		closed, err := uc.ledger.Subscriptions.ExpirePriorForUser(ctx, tx, in.UserID, now)
		if err != nil {
			return err
		}
		// A closed row still linked to the provider keeps billing until the
		// reconciler cancels it there.
		for _, old := range closed {
			psid := old.ProviderSubID()
			if psid == "" || psid == in.ProviderSubscriptionID {
				continue
			}
			d := &model.Discrepancy{
				UserID:                 old.UserID,
				SubscriptionID:         &old.ID,
				Operation:              model.DiscrepancyOpActivation,
				Reason:                 model.DiscrepancySuperseded,
				Detail:                 fmt.Sprintf("superseded by provider subscription %s", in.ProviderSubscriptionID),
				ProviderSubscriptionID: psid,
			}
			stampDiscrepancy(d, now)
			if err := uc.ledger.Discrepancies.Record(ctx, tx, d); err != nil {
				return err
			}
			superseded = append(superseded, d)
		}
		if len(closed) > 0 {
			uc.log.Info().Str("user_id", in.UserID).Int("closed", len(closed)).Msg("closed prior subscriptions on activation")
		}

		s, err := model.NewUserSubscription(uuid.NewString(), in.UserID, plan, cycle, in.Trial, now)
		if err != nil {
			return err
		}
		psid := in.ProviderSubscriptionID
		s.ProviderSubscriptionID = &psid
		if in.ProviderCustomerID != "" {
			pcid := in.ProviderCustomerID
			s.ProviderCustomerID = &pcid
		}
		if in.CurrentPeriodEnd != nil {
			nb := in.CurrentPeriodEnd.UTC()
			s.NextBillingDate = &nb
		}
		if err := uc.ledger.Subscriptions.Create(ctx, tx, s); err != nil {
			return err
		}
		h := newHistory(s, model.HistoryActionCreated, "", plan.ID, now)
		if err := uc.ledger.History.Append(ctx, tx, h); err != nil {
			return err
		}

		if code := model.NormalizeCode(in.CouponCode); code != "" {
			c, err := uc.ledger.Coupons.FindByCode(ctx, tx, code)
			if err != nil {
				return fmt.Errorf("activation coupon %s: %w", code, err)
			}
			if err := uc.ledger.Coupons.IncrementUsage(ctx, tx, c.ID); err != nil {
				return err
			}
		}
		created, history = s, h
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCouponExhausted) {
			metrics.IncCouponRedemption("exhausted")
			recordDiscrepancy(ctx, uc.ledger.Discrepancies, uc.log, &model.Discrepancy{
				UserID:                 in.UserID,
				Operation:              model.DiscrepancyOpActivation,
				Reason:                 model.DiscrepancyCouponExhausted,
				Detail:                 fmt.Sprintf("coupon %s exhausted for provider subscription %s", model.NormalizeCode(in.CouponCode), in.ProviderSubscriptionID),
				ProviderSubscriptionID: in.ProviderSubscriptionID,
			})
		}
		return nil, err
	}
	if replayed {
		uc.log.Debug().Str("provider_subscription_id", in.ProviderSubscriptionID).Msg("activation replayed; returning stored subscription")
		return created, nil
	}
	if in.CouponCode != "" {
		metrics.IncCouponRedemption("ok")
	}
	for _, d := range superseded {
		metrics.IncDiscrepancyRecorded(string(d.Operation), string(d.Reason))
		uc.log.Warn().
			Str("discrepancy_id", d.ID).
			Str("subscription_id", *d.SubscriptionID).
			Str("provider_subscription_id", d.ProviderSubscriptionID).
			Msg("superseded subscription still linked to provider; queued for cancellation")
	}

	uc.log.Info().Str("user_id", created.UserID).Str("subscription_id", created.ID).Str("plan_id", plan.ID).Str("status", string(created.Status)).Msg("subscription activated")
	publishHistory(ctx, uc.publisher, uc.log, created, history)
	return created, nil
}

func (uc *billingEventUC) resolvePlan(ctx context.Context, in ActivationInput) (*model.SubscriptionPlan, model.BillingCycle, error) {
	var (
		plan *model.SubscriptionPlan
		err  error
	)
	switch {
	case in.PlanID != "":
		plan, err = uc.ledger.Plans.FindByID(ctx, repository.NoTX, in.PlanID)
	case in.PriceRef != "":
		plan, err = uc.ledger.Plans.FindByProviderPriceRef(ctx, repository.NoTX, in.PriceRef)
	default:
		return nil, "", domain.ErrInvalidArgument
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "", domain.ErrPlanNotFound
	}
	if err != nil {
		return nil, "", err
	}

	cycle := in.Cycle
	if in.PriceRef != "" {
		switch strings.TrimSpace(in.PriceRef) {
		case plan.ProviderPriceMonthly:
			cycle = model.BillingCycleMonthly
		case plan.ProviderPriceYearly:
			cycle = model.BillingCycleYearly
		}
	}
	if cycle == "" {
		cycle = model.BillingCycleMonthly
	}
	if !cycle.Valid() {
		return nil, "", domain.ErrInvalidArgument
	}
	return plan, cycle, nil
}

func (uc *billingEventUC) RecordInvoice(ctx context.Context, in InvoiceInput) (*model.Invoice, error) {
	if in.ProviderInvoiceID == "" || in.ProviderSubscriptionID == "" || !in.Status.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	sub, err := uc.ledger.Subscriptions.FindByProviderSubscriptionID(ctx, repository.NoTX, in.ProviderSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: subscription %s: %w", in.ProviderInvoiceID, in.ProviderSubscriptionID, err)
	}

	now := uc.now()
	inv := &model.Invoice{
		ID:                uuid.NewString(),
		UserID:            sub.UserID,
		SubscriptionID:    sub.ID,
		InvoiceNumber:     "INV-" + ulid.Make().String(),
		Amount:            in.Amount,
		TotalAmount:       in.TotalAmount,
		Currency:          strings.ToLower(in.Currency),
		PaymentStatus:     in.Status,
		PaymentDate:       in.PaidAt,
		ProviderInvoiceID: in.ProviderInvoiceID,
		CreatedAt:         now,
	}

	var stored *model.Invoice
	err = uc.ledger.Tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if stored, err = uc.ledger.Invoices.Save(ctx, tx, inv); err != nil {
			return err
		}
		if in.Status != model.PaymentStatusPaid || in.NextPeriodEnd == nil || !sub.IsLive() {
			return nil
		}
		if sub.NextBillingDate != nil && !in.NextPeriodEnd.After(*sub.NextBillingDate) {
			return nil
		}
		next := sub.Clone()
		nb := in.NextPeriodEnd.UTC()
		next.NextBillingDate = &nb
		next.UpdatedAt = now
		return uc.ledger.Subscriptions.UpdateGuarded(ctx, tx, next, sub.Status, sub.PlanID)
	})
	if errors.Is(err, domain.ErrConcurrentModification) {
		// Billing date is advisory; keep the invoice even if the row moved on.
		uc.log.Debug().Str("subscription_id", sub.ID).Msg("next billing date not advanced; subscription changed concurrently")
		stored, err = uc.ledger.Invoices.Save(ctx, repository.NoTX, inv)
	}
	if err != nil {
		return nil, err
	}

	if stored.ID == inv.ID {
		metrics.IncInvoice(string(stored.PaymentStatus))
		if stored.PaymentStatus == model.PaymentStatusPaid {
			metrics.AddInvoiceRevenue(stored.Currency, stored.TotalAmount)
		}
	}
	return stored, nil
}

func (uc *billingEventUC) ListInvoices(ctx context.Context, userID string, limit int) ([]*model.Invoice, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return uc.ledger.Invoices.ListByUser(ctx, repository.NoTX, userID, limit)
}
