// File: internal/usecase/lifecycle_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/adapter"
	"subscription-lifecycle/internal/domain/ports/repository"
	ucport "subscription-lifecycle/internal/domain/ports/usecase"
	"subscription-lifecycle/internal/infra/logging"
	"subscription-lifecycle/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ LifecycleUseCase = (*lifecycleUC)(nil)

// LifecycleUseCase drives a user's subscription through
// trial/active -> cancelled -> active | expired.
type LifecycleUseCase interface {
	StartCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	CancelSubscription(ctx context.Context, userID string) (*CancelResult, error)
	ResumeSubscription(ctx context.Context, userID string) (*model.UserSubscription, error)
	ChangePlan(ctx context.Context, req ChangePlanRequest) (*ChangePlanResult, error)
	ucport.SubscriptionReader
	EnsureCustomer(ctx context.Context, userID, email, displayName string) (string, error)
}

type CheckoutRequest struct {
	UserID      string
	Email       string
	DisplayName string
	Role        model.Role // empty when the caller has no role data
	PlanID      string
	Cycle       model.BillingCycle
	CouponCode  string
	SuccessURL  string // optional override of the configured default
	CancelURL   string
}

type CheckoutResult struct {
	CheckoutURL string `json:"checkout_url"`
}

type CancelResult struct {
	EndDate *time.Time `json:"end_date"`
}

type ChangePlanRequest struct {
	UserID    string
	Role      model.Role
	NewPlanID string
}

type ChangePlanResult struct {
	IsUpgrade    bool                    `json:"is_upgrade"`
	Subscription *model.UserSubscription `json:"subscription"`
}

type LifecycleOptions struct {
	Retry      RetryPolicy
	SuccessURL string
	CancelURL  string
	Clock      Clock
}

type lifecycleUC struct {
	ledger    Ledger
	catalog   PlanUseCase
	coupons   CouponUseCase
	gateway   adapter.BillingGateway
	publisher adapter.EventPublisher
	opts      LifecycleOptions
	now       Clock
	log       *zerolog.Logger
}

func NewLifecycleUseCase(
	ledger Ledger,
	catalog PlanUseCase,
	coupons CouponUseCase,
	gateway adapter.BillingGateway,
	publisher adapter.EventPublisher,
	opts LifecycleOptions,
	logger *zerolog.Logger,
) *lifecycleUC {
	now := opts.Clock
	if now == nil {
		now = systemClock
	}
	l := logger.With().Str("component", "LifecycleUseCase").Logger()
	return &lifecycleUC{
		ledger:    ledger,
		catalog:   catalog,
		coupons:   coupons,
		gateway:   gateway,
		publisher: publisher,
		opts:      opts,
		now:       now,
		log:       &l,
	}
}

// conflictRetries is how many times a guarded write is re-attempted from a
// fresh read before ErrConcurrentModification reaches the caller.
const conflictRetries = 1

func (uc *lifecycleUC) StartCheckout(ctx context.Context, req CheckoutRequest) (res *CheckoutResult, err error) {
	defer func() { metrics.IncLifecycleOp("checkout", result(err)) }()
	log := logging.With(logging.WithOp(logging.WithUserID(ctx, req.UserID), "checkout"), uc.log)

	if req.UserID == "" || !req.Cycle.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	plan, err := uc.catalog.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if req.Role != "" && !plan.Category.Allows(req.Role) {
		return nil, domain.ErrRoleNotAllowed
	}

	live, err := uc.ledger.Subscriptions.FindLiveByUser(ctx, repository.NoTX, req.UserID)
	switch {
	case err == nil && live.PlanID == plan.ID:
		return nil, domain.ErrAlreadySubscribed
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	var coupon *model.Coupon
	if req.CouponCode != "" {
		if coupon, err = uc.coupons.Validate(ctx, req.CouponCode, plan.ID, uc.now()); err != nil {
			return nil, err
		}
	}

	priceRef, ok := plan.ProviderPriceRef(req.Cycle)
	if !ok {
		return nil, domain.ErrPlanNotPurchasable
	}

	var discountRef string
	if coupon != nil {
		if discountRef, err = uc.ensureProviderCoupon(ctx, log, req.UserID, coupon, plan.Currency); err != nil {
			return nil, err
		}
	}

	customerID, err := uc.EnsureCustomer(ctx, req.UserID, req.Email, req.DisplayName)
	if err != nil {
		return nil, err
	}

	in := adapter.CheckoutSessionInput{
		CustomerID:  customerID,
		PriceRef:    priceRef,
		SuccessURL:  firstNonEmpty(req.SuccessURL, uc.opts.SuccessURL),
		CancelURL:   firstNonEmpty(req.CancelURL, uc.opts.CancelURL),
		DiscountRef: discountRef,
		Metadata: map[string]string{
			"user_id":       req.UserID,
			"plan_id":       plan.ID,
			"billing_cycle": string(req.Cycle),
		},
	}
	if coupon != nil {
		in.Metadata["coupon_code"] = coupon.Code
	}
	url, err := withRetry(ctx, "create_checkout_session", uc.opts.Retry.MaxAttempts, uc.opts.Retry.BaseDelay,
		func(ctx context.Context) (string, error) { return uc.gateway.CreateCheckoutSession(ctx, in) })
	if err != nil {
		log.Warn().Err(err).Str("plan_id", plan.ID).Msg("checkout session creation failed")
		return nil, err
	}

	log.Info().Str("plan_id", plan.ID).Str("cycle", string(req.Cycle)).Msg("checkout session created")
	return &CheckoutResult{CheckoutURL: url}, nil
}

// ensureProviderCoupon resolves the provider id of a validated coupon, creating
// it on first use. Any failure aborts checkout; an unknown outcome is also
// recorded so the provider side can be checked.
func (uc *lifecycleUC) ensureProviderCoupon(ctx context.Context, log *zerolog.Logger, userID string, c *model.Coupon, currency string) (string, error) {
	if c.ProviderCouponID != nil && *c.ProviderCouponID != "" {
		return *c.ProviderCouponID, nil
	}
	id, err := withRetry(ctx, "ensure_coupon", uc.opts.Retry.MaxAttempts, uc.opts.Retry.BaseDelay,
		func(ctx context.Context) (string, error) {
			return uc.gateway.EnsureCoupon(ctx, c.Code, c.DiscountType, c.DiscountValue, currency)
		})
	if err != nil {
		if domain.ProviderKind(err) == domain.ProviderUnknown {
			recordDiscrepancy(ctx, uc.ledger.Discrepancies, log, &model.Discrepancy{
				UserID:    userID,
				Operation: model.DiscrepancyOpCoupon,
				Reason:    model.DiscrepancyProviderUnknown,
				Detail:    fmt.Sprintf("coupon %s: %v", c.Code, err),
			})
		}
		return "", err
	}
	if err := uc.ledger.Coupons.SetProviderCouponID(ctx, repository.NoTX, c.ID, id); err != nil {
		// The provider call is idempotent, next checkout resolves the id again.
		log.Warn().Err(err).Str("coupon", c.Code).Msg("failed to store provider coupon id")
	}
	return id, nil
}

// EnsureCustomer returns the user's provider customer id, creating and storing
// it on first use. Concurrent callers converge on the first stored mapping.
func (uc *lifecycleUC) EnsureCustomer(ctx context.Context, userID, email, displayName string) (string, error) {
	if userID == "" {
		return "", domain.ErrInvalidArgument
	}
	existing, err := uc.ledger.Customers.FindByUser(ctx, repository.NoTX, userID)
	if err == nil {
		return existing.ProviderCustomerID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	id, err := withRetry(ctx, "create_customer", uc.opts.Retry.MaxAttempts, uc.opts.Retry.BaseDelay,
		func(ctx context.Context) (string, error) {
			return uc.gateway.CreateCustomer(ctx, adapter.CreateCustomerInput{UserID: userID, Email: email, DisplayName: displayName})
		})
	if err != nil {
		return "", err
	}

	stored, err := uc.ledger.Customers.SaveIfAbsent(ctx, repository.NoTX, &model.BillingCustomer{
		UserID:             userID,
		ProviderCustomerID: id,
		Email:              email,
		CreatedAt:          uc.now(),
	})
	if err != nil {
		return "", err
	}
	if stored.ProviderCustomerID != id {
		uc.log.Warn().Str("user_id", userID).Msg("provider customer created concurrently; keeping stored mapping")
	}
	return stored.ProviderCustomerID, nil
}

func (uc *lifecycleUC) CancelSubscription(ctx context.Context, userID string) (res *CancelResult, err error) {
	defer func() { metrics.IncLifecycleOp("cancel", result(err)) }()
	for i := 0; ; i++ {
		res, err = uc.cancelOnce(ctx, userID, i >= conflictRetries)
		if !errors.Is(err, domain.ErrConcurrentModification) || i >= conflictRetries {
			return res, err
		}
	}
}

func (uc *lifecycleUC) cancelOnce(ctx context.Context, userID string, last bool) (*CancelResult, error) {
	log := logging.With(logging.WithOp(logging.WithUserID(ctx, userID), "cancel"), uc.log)
	now := uc.now()

	cur, err := uc.ledger.Subscriptions.FindCurrentByUser(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoActiveSubscription
	}
	if err != nil {
		return nil, err
	}
	if cur.IsResumable(now) {
		// Already cancelled: report the same outcome again.
		return &CancelResult{EndDate: cur.EndDate}, nil
	}
	if !cur.IsLive() {
		return nil, domain.ErrNoActiveSubscription
	}

	var (
		provider *adapter.ProviderSubscription
		perr     error
	)
	if subID := cur.ProviderSubID(); subID != "" {
		opCtx := adapter.WithIdempotencyKey(ctx, uuid.NewString())
		provider, perr = withRetry(opCtx, "cancel_subscription", uc.opts.Retry.MaxAttempts, uc.opts.Retry.BaseDelay,
			func(ctx context.Context) (*adapter.ProviderSubscription, error) {
				return uc.gateway.CancelSubscription(ctx, subID)
			})
	} else {
		log.Debug().Str("subscription_id", cur.ID).Msg("subscription not linked to provider; cancelling locally")
	}

	// From here on the local side commits even if the caller is gone.
	ctx, cancel := settleContext(ctx)
	defer cancel()
	if perr != nil {
		uc.tolerate(ctx, log, cur, model.DiscrepancyOpCancel, perr)
		provider = nil
	}

	next := cur.Clone()
	next.Status = model.SubscriptionStatusCancelled
	next.AutoRenew = false
	next.CancelledAt = &now
	next.UpdatedAt = now
	if provider != nil && provider.CurrentPeriodEnd != nil {
		end := *provider.CurrentPeriodEnd
		next.EndDate = &end
	} else if cur.NextBillingDate != nil {
		end := *cur.NextBillingDate
		next.EndDate = &end
	}

	h := newHistory(next, model.HistoryActionCancelled, "", "", now)
	if err := uc.commitTransition(ctx, log, cur, next, h, model.DiscrepancyOpCancel, provider != nil, last); err != nil {
		return nil, err
	}
	log.Info().Str("subscription_id", next.ID).Msg("subscription cancelled")
	publishHistory(ctx, uc.publisher, log, next, h)
	return &CancelResult{EndDate: next.EndDate}, nil
}

func (uc *lifecycleUC) ResumeSubscription(ctx context.Context, userID string) (sub *model.UserSubscription, err error) {
	defer func() { metrics.IncLifecycleOp("resume", result(err)) }()
	for i := 0; ; i++ {
		sub, err = uc.resumeOnce(ctx, userID, i >= conflictRetries)
		if !errors.Is(err, domain.ErrConcurrentModification) || i >= conflictRetries {
			return sub, err
		}
	}
}

func (uc *lifecycleUC) resumeOnce(ctx context.Context, userID string, last bool) (*model.UserSubscription, error) {
	log := logging.With(logging.WithOp(logging.WithUserID(ctx, userID), "resume"), uc.log)
	now := uc.now()

	cur, err := uc.ledger.Subscriptions.FindCurrentByUser(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoResumableSubscription
	}
	if err != nil {
		return nil, err
	}
	if cur.Status != model.SubscriptionStatusCancelled {
		return nil, domain.ErrNoResumableSubscription
	}
	if !cur.IsResumable(now) {
		return nil, domain.ErrWindowExpired
	}

	var (
		provider *adapter.ProviderSubscription
		perr     error
	)
	if subID := cur.ProviderSubID(); subID != "" {
		opCtx := adapter.WithIdempotencyKey(ctx, uuid.NewString())
		provider, perr = withRetry(opCtx, "resume_subscription", uc.opts.Retry.MaxAttempts, uc.opts.Retry.BaseDelay,
			func(ctx context.Context) (*adapter.ProviderSubscription, error) {
				return uc.gateway.ResumeSubscription(ctx, subID)
			})
	}

	ctx, cancel := settleContext(ctx)
	defer cancel()
	if perr != nil {
		uc.tolerate(ctx, log, cur, model.DiscrepancyOpResume, perr)
		provider = nil
	}

	next := cur.Clone()
	next.Status = model.SubscriptionStatusActive
	next.AutoRenew = true
	next.CancelledAt = nil
	next.EndDate = nil
	next.UpdatedAt = now
	if provider != nil && provider.CurrentPeriodEnd != nil {
		nb := *provider.CurrentPeriodEnd
		next.NextBillingDate = &nb
	}

	h := newHistory(next, model.HistoryActionReactivated, "", "", now)
	if err := uc.commitTransition(ctx, log, cur, next, h, model.DiscrepancyOpResume, provider != nil, last); err != nil {
		return nil, err
	}
	log.Info().Str("subscription_id", next.ID).Msg("subscription resumed")
	publishHistory(ctx, uc.publisher, log, next, h)
	return next, nil
}

func (uc *lifecycleUC) ChangePlan(ctx context.Context, req ChangePlanRequest) (res *ChangePlanResult, err error) {
	defer func() { metrics.IncLifecycleOp("change_plan", result(err)) }()
	for i := 0; ; i++ {
		res, err = uc.changePlanOnce(ctx, req, i >= conflictRetries)
		if !errors.Is(err, domain.ErrConcurrentModification) || i >= conflictRetries {
			return res, err
		}
	}
}

func (uc *lifecycleUC) changePlanOnce(ctx context.Context, req ChangePlanRequest, last bool) (*ChangePlanResult, error) {
	log := logging.With(logging.WithOp(logging.WithUserID(ctx, req.UserID), "change_plan"), uc.log)
	now := uc.now()

	cur, err := uc.ledger.Subscriptions.FindLiveByUser(ctx, repository.NoTX, req.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoActiveSubscription
	}
	if err != nil {
		return nil, err
	}
	if req.NewPlanID == cur.PlanID {
		return nil, domain.ErrSamePlan
	}

	newPlan, err := uc.catalog.GetPlan(ctx, req.NewPlanID)
	if err != nil {
		return nil, err
	}
	if req.Role != "" && !newPlan.Category.Allows(req.Role) {
		return nil, domain.ErrRoleNotAllowed
	}
	// The current plan may have been retired from the catalog since purchase.
	curPlan, err := uc.ledger.Plans.FindByID(ctx, repository.NoTX, cur.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load current plan %s: %w", cur.PlanID, err)
	}
	isUpgrade := newPlan.PriceMonthly > curPlan.PriceMonthly

	priceRef, ok := newPlan.ProviderPriceRef(cur.BillingCycle)
	if !ok {
		return nil, domain.ErrPriceNotConfigured
	}
	subID := cur.ProviderSubID()
	if subID == "" {
		return nil, domain.ErrSubscriptionNotLinked
	}

	policy := adapter.ProrationFor(isUpgrade)
	opCtx := adapter.WithIdempotencyKey(ctx, uuid.NewString())
	err = retryDo(opCtx, "update_subscription_plan", uc.opts.Retry, func(ctx context.Context) error {
		return uc.gateway.UpdateSubscriptionPlan(ctx, subID, priceRef, policy)
	})
	if err != nil {
		if domain.ProviderKind(err) == domain.ProviderUnknown {
			recordDiscrepancy(ctx, uc.ledger.Discrepancies, log, &model.Discrepancy{
				UserID:                 cur.UserID,
				SubscriptionID:         &cur.ID,
				Operation:              model.DiscrepancyOpChangePlan,
				Reason:                 model.DiscrepancyProviderUnknown,
				Detail:                 fmt.Sprintf("%s -> %s: %v", cur.PlanID, newPlan.ID, err),
				ProviderSubscriptionID: subID,
			})
		}
		log.Warn().Err(err).Str("new_plan_id", newPlan.ID).Msg("provider plan change failed; local plan unchanged")
		return nil, err
	}

	next := cur.Clone()
	next.PlanID = newPlan.ID
	next.UpdatedAt = now
	h := newHistory(next, model.PlanChangeAction(isUpgrade), cur.PlanID, newPlan.ID, now)
	if err := uc.commitTransition(ctx, log, cur, next, h, model.DiscrepancyOpChangePlan, true, last); err != nil {
		return nil, err
	}

	log.Info().Str("old_plan_id", cur.PlanID).Str("new_plan_id", newPlan.ID).Bool("upgrade", isUpgrade).Msg("plan changed")
	publishHistory(ctx, uc.publisher, log, next, h)
	return &ChangePlanResult{IsUpgrade: isUpgrade, Subscription: next}, nil
}

// commitTransition writes next over cur and appends h in one transaction,
// guarded on cur's status and plan. last marks the final conflict attempt.
func (uc *lifecycleUC) commitTransition(
	ctx context.Context,
	log *zerolog.Logger,
	cur, next *model.UserSubscription,
	h *model.SubscriptionHistory,
	op model.DiscrepancyOp,
	providerApplied, last bool,
) error {
	err := uc.ledger.Tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.ledger.Subscriptions.LockUser(ctx, tx, cur.UserID); err != nil {
			return err
		}
		if err := uc.ledger.Subscriptions.UpdateGuarded(ctx, tx, next, cur.Status, cur.PlanID); err != nil {
			return err
		}
		return uc.ledger.History.Append(ctx, tx, h)
	})
	if err == nil {
		return nil
	}
	conflict := errors.Is(err, domain.ErrConcurrentModification)
	// A lost race is re-read and settled by the next attempt; only the final
	// one leaves provider state the ledger does not reflect.
	if providerApplied && (!conflict || last) {
		recordDiscrepancy(ctx, uc.ledger.Discrepancies, log, &model.Discrepancy{
			UserID:                 cur.UserID,
			SubscriptionID:         &cur.ID,
			Operation:              op,
			Reason:                 model.DiscrepancyLedgerWriteFailed,
			Detail:                 err.Error(),
			ProviderSubscriptionID: cur.ProviderSubID(),
		})
	}
	if conflict {
		log.Debug().Str("subscription_id", cur.ID).Msg("guarded write lost a race")
	} else {
		log.Error().Err(err).Str("subscription_id", cur.ID).Msg("ledger write failed")
	}
	return err
}

// tolerate logs and records a provider failure that must not block an
// access-state change.
func (uc *lifecycleUC) tolerate(ctx context.Context, log *zerolog.Logger, cur *model.UserSubscription, op model.DiscrepancyOp, err error) {
	unknown := domain.ProviderKind(err) == domain.ProviderUnknown
	log.Warn().Err(err).Str("subscription_id", cur.ID).Bool("outcome_unknown", unknown).Msg("provider call failed; continuing with local transition")
	recordDiscrepancy(ctx, uc.ledger.Discrepancies, log, &model.Discrepancy{
		UserID:                 cur.UserID,
		SubscriptionID:         &cur.ID,
		Operation:              op,
		Reason:                 model.ReasonFor(unknown),
		Detail:                 err.Error(),
		ProviderSubscriptionID: cur.ProviderSubID(),
	})
}

// GetCurrentSubscription returns the live row, else the latest cancelled row,
// else nil.
func (uc *lifecycleUC) GetCurrentSubscription(ctx context.Context, userID string) (*model.UserSubscription, error) {
	sub, err := uc.ledger.Subscriptions.FindCurrentByUser(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return sub, err
}

func (uc *lifecycleUC) ListHistory(ctx context.Context, userID string) ([]*model.SubscriptionHistory, error) {
	return uc.ledger.History.ListByUser(ctx, repository.NoTX, userID)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
