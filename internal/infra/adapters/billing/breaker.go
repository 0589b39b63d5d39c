package billing

import (
	"context"
	"errors"

	"subscription-lifecycle/internal/config"
	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/adapter"
	"subscription-lifecycle/internal/infra/metrics"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var _ adapter.BillingGateway = (*breakerGateway)(nil)

// breakerGateway short-circuits calls while the provider is unhealthy.
// An open breaker surfaces as a transient provider error so callers treat it
// exactly like a failed call.
type breakerGateway struct {
	inner  adapter.BillingGateway
	cb     *gobreaker.CircuitBreaker[any]
	logger *zerolog.Logger
}

func NewBreakerGateway(inner adapter.BillingGateway, cfg config.BreakerConfig, logger *zerolog.Logger) adapter.BillingGateway {
	name := inner.Name() + "-billing"
	l := logger.With().Str("component", "BillingBreaker").Logger()
	g := &breakerGateway{inner: inner, logger: &l}

	g.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// Rejections are a statement about the request, not provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || domain.ProviderKind(err) == domain.ProviderPermanent
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, int(to))
			g.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("billing breaker state change")
		},
	})
	metrics.SetBreakerState(name, int(gobreaker.StateClosed))
	return g
}

func (g *breakerGateway) Name() string { return g.inner.Name() }

func (g *breakerGateway) run(op string, fn func() (any, error)) (any, error) {
	v, err := g.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewProviderError(op, domain.ProviderTransient, "breaker_open", err)
	}
	return v, err
}

func (g *breakerGateway) CreateCustomer(ctx context.Context, in adapter.CreateCustomerInput) (string, error) {
	v, err := g.run("create_customer", func() (any, error) { return g.inner.CreateCustomer(ctx, in) })
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (g *breakerGateway) CreateCheckoutSession(ctx context.Context, in adapter.CheckoutSessionInput) (string, error) {
	v, err := g.run("create_checkout_session", func() (any, error) { return g.inner.CreateCheckoutSession(ctx, in) })
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (g *breakerGateway) UpdateSubscriptionPlan(ctx context.Context, providerSubID, newPriceRef string, policy adapter.ProrationPolicy) error {
	_, err := g.run("update_subscription_plan", func() (any, error) {
		return nil, g.inner.UpdateSubscriptionPlan(ctx, providerSubID, newPriceRef, policy)
	})
	return err
}

func (g *breakerGateway) CancelSubscription(ctx context.Context, providerSubID string) (*adapter.ProviderSubscription, error) {
	return g.subscription("cancel_subscription", func() (any, error) { return g.inner.CancelSubscription(ctx, providerSubID) })
}

func (g *breakerGateway) ResumeSubscription(ctx context.Context, providerSubID string) (*adapter.ProviderSubscription, error) {
	return g.subscription("resume_subscription", func() (any, error) { return g.inner.ResumeSubscription(ctx, providerSubID) })
}

func (g *breakerGateway) GetSubscription(ctx context.Context, providerSubID string) (*adapter.ProviderSubscription, error) {
	return g.subscription("get_subscription", func() (any, error) { return g.inner.GetSubscription(ctx, providerSubID) })
}

func (g *breakerGateway) EnsureCoupon(ctx context.Context, code string, typ model.DiscountType, value int64, currency string) (string, error) {
	v, err := g.run("ensure_coupon", func() (any, error) { return g.inner.EnsureCoupon(ctx, code, typ, value, currency) })
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (g *breakerGateway) subscription(op string, fn func() (any, error)) (*adapter.ProviderSubscription, error) {
	v, err := g.run(op, fn)
	if err != nil {
		return nil, err
	}
	ps, _ := v.(*adapter.ProviderSubscription)
	return ps, nil
}
