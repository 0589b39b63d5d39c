package adapter

import (
	"context"
	"time"

	"subscription-lifecycle/internal/domain/model"
)

// ProrationPolicy controls how the provider bills a mid-cycle plan change.
type ProrationPolicy string

const (
	ProrationInvoiceImmediately ProrationPolicy = "invoice_immediately"
	ProrationNone               ProrationPolicy = "none"
)

// ProrationFor returns InvoiceImmediately for upgrades and None for downgrades.
func ProrationFor(isUpgrade bool) ProrationPolicy {
	if isUpgrade {
		return ProrationInvoiceImmediately
	}
	return ProrationNone
}

type CreateCustomerInput struct {
	UserID      string
	Email       string
	DisplayName string
}

type CheckoutSessionInput struct {
	CustomerID  string
	PriceRef    string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
	DiscountRef string // provider coupon id, optional
}

// ProviderSubscription is the provider's view of a subscription, used to
// derive period ends and to reconcile drift.
type ProviderSubscription struct {
	ID                string
	CustomerID        string
	PriceRef          string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
}

// BillingGateway is the only port that talks to the external billing provider.
// Implementations never retry; failures are *domain.ProviderError values.
type BillingGateway interface {
	Name() string

	CreateCustomer(ctx context.Context, in CreateCustomerInput) (customerID string, err error)
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (checkoutURL string, err error)
	UpdateSubscriptionPlan(ctx context.Context, providerSubID, newPriceRef string, policy ProrationPolicy) error
	// CancelSubscription cancels at period end and returns the provider state.
	CancelSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error)
	// ResumeSubscription clears cancel-at-period-end.
	ResumeSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error)
	// EnsureCoupon creates the coupon, or resolves to the existing provider id
	// when the provider reports it already exists.
	EnsureCoupon(ctx context.Context, code string, typ model.DiscountType, value int64, currency string) (providerCouponID string, err error)
	GetSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error)
}

type idempotencyKeyCtx struct{}

// WithIdempotencyKey scopes one logical provider operation. Retries of the
// same operation must reuse the key so the provider can deduplicate them.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

func IdempotencyKeyFrom(ctx context.Context) string {
	v, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return v
}
