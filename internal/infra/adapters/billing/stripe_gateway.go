// File: internal/infra/adapters/billing/stripe_gateway.go
package billing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/adapter"
	"subscription-lifecycle/internal/infra/metrics"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/coupon"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/subscription"
)

var _ adapter.BillingGateway = (*StripeGateway)(nil)

// StripeGateway implements adapter.BillingGateway against the Stripe API.
// Every call is bounded by callTimeout and never retried here; the stripe
// backend is configured with zero network retries so the caller owns policy.
type StripeGateway struct {
	customers     customer.Client
	subscriptions subscription.Client
	coupons       coupon.Client
	sessions      session.Client
	callTimeout   time.Duration
	logger        *zerolog.Logger
}

type StripeOptions struct {
	SecretKey   string
	APIURL      string // empty means api.stripe.com
	CallTimeout time.Duration
	HTTPClient  *http.Client
}

func NewStripeGateway(opts StripeOptions, logger *zerolog.Logger) (*StripeGateway, error) {
	if strings.TrimSpace(opts.SecretKey) == "" {
		return nil, errors.New("stripe secret key empty")
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        hc,
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if opts.APIURL != "" {
		cfg.URL = stripe.String(opts.APIURL)
	}
	b := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)

	l := logger.With().Str("component", "StripeGateway").Logger()
	return &StripeGateway{
		customers:     customer.Client{B: b, Key: opts.SecretKey},
		subscriptions: subscription.Client{B: b, Key: opts.SecretKey},
		coupons:       coupon.Client{B: b, Key: opts.SecretKey},
		sessions:      session.Client{B: b, Key: opts.SecretKey},
		callTimeout:   opts.CallTimeout,
		logger:        &l,
	}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

// params returns request params bound to a per-call timeout and, when the
// caller scoped one, an idempotency key suffixed with the method name.
func (g *StripeGateway) params(ctx context.Context, method string) (stripe.Params, context.CancelFunc) {
	cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	p := stripe.Params{Context: cctx}
	if key := adapter.IdempotencyKeyFrom(ctx); key != "" {
		p.SetIdempotencyKey(key + ":" + method)
	}
	return p, cancel
}

func (g *StripeGateway) observe(method string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(domain.ProviderKind(err))
	}
	metrics.ObserveProviderCall(g.Name(), method, outcome, time.Since(start))
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, in adapter.CreateCustomerInput) (id string, err error) {
	const method = "create_customer"
	start := time.Now()
	defer func() { g.observe(method, start, err) }()

	p, cancel := g.params(ctx, method)
	defer cancel()
	if p.IdempotencyKey == nil {
		// One provider customer per user, even across separate requests.
		p.SetIdempotencyKey("customer-" + in.UserID)
	}
	params := &stripe.CustomerParams{Params: p}
	if in.Email != "" {
		params.Email = stripe.String(in.Email)
	}
	if in.DisplayName != "" {
		params.Name = stripe.String(in.DisplayName)
	}
	params.AddMetadata("user_id", in.UserID)

	c, err := g.customers.New(params)
	if err != nil {
		return "", classify(method, err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, in adapter.CheckoutSessionInput) (url string, err error) {
	const method = "create_checkout_session"
	start := time.Now()
	defer func() { g.observe(method, start, err) }()

	p, cancel := g.params(ctx, method)
	defer cancel()
	params := &stripe.CheckoutSessionParams{
		Params:   p,
		Customer: stripe.String(in.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(in.PriceRef), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	if in.DiscountRef != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(in.DiscountRef)}}
	}
	if uid := in.Metadata["user_id"]; uid != "" {
		params.ClientReferenceID = stripe.String(uid)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := g.sessions.New(params)
	if err != nil {
		return "", classify(method, err)
	}
	if s.URL == "" {
		return "", domain.NewProviderError(method, domain.ProviderPermanent, "", errors.New("checkout session has no url"))
	}
	return s.URL, nil
}

func (g *StripeGateway) UpdateSubscriptionPlan(ctx context.Context, providerSubID, newPriceRef string, policy adapter.ProrationPolicy) (err error) {
	const method = "update_subscription_plan"
	start := time.Now()
	defer func() { g.observe(method, start, err) }()

	p, cancel := g.params(ctx, method)
	defer cancel()

	// The price lives on the subscription item; fetch it to learn the item id.
	cur, err := g.subscriptions.Get(providerSubID, &stripe.SubscriptionParams{Params: stripe.Params{Context: p.Context}})
	if err != nil {
		return classify(method, err)
	}
	if cur.Items == nil || len(cur.Items.Data) == 0 {
		return domain.NewProviderError(method, domain.ProviderPermanent, "", fmt.Errorf("subscription %s has no items", providerSubID))
	}

	params := &stripe.SubscriptionParams{
		Params: p,
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(cur.Items.Data[0].ID), Price: stripe.String(newPriceRef)},
		},
		ProrationBehavior: stripe.String(prorationBehavior(policy)),
	}
	if _, err := g.subscriptions.Update(providerSubID, params); err != nil {
		return classify(method, err)
	}
	return nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, providerSubID string) (*adapter.ProviderSubscription, error) {
	return g.setCancelAtPeriodEnd(ctx, "cancel_subscription", providerSubID, true)
}

func (g *StripeGateway) ResumeSubscription(ctx context.Context, providerSubID string) (*adapter.ProviderSubscription, error) {
	return g.setCancelAtPeriodEnd(ctx, "resume_subscription", providerSubID, false)
}

func (g *StripeGateway) setCancelAtPeriodEnd(ctx context.Context, method, providerSubID string, flag bool) (ps *adapter.ProviderSubscription, err error) {
	start := time.Now()
	defer func() { g.observe(method, start, err) }()

	p, cancel := g.params(ctx, method)
	defer cancel()
	s, err := g.subscriptions.Update(providerSubID, &stripe.SubscriptionParams{
		Params:            p,
		CancelAtPeriodEnd: stripe.Bool(flag),
	})
	if err != nil {
		return nil, classify(method, err)
	}
	return toProviderSubscription(s), nil
}

func (g *StripeGateway) EnsureCoupon(ctx context.Context, code string, typ model.DiscountType, value int64, currency string) (id string, err error) {
	const method = "ensure_coupon"
	start := time.Now()
	defer func() { g.observe(method, start, err) }()

	code = model.NormalizeCode(code)
	p, cancel := g.params(ctx, method)
	defer cancel()
	p.SetIdempotencyKey("coupon-" + code)

	params := &stripe.CouponParams{
		Params:   p,
		ID:       stripe.String(code),
		Name:     stripe.String(code),
		Duration: stripe.String(string(stripe.CouponDurationOnce)),
	}
	switch typ {
	case model.DiscountPercentage:
		params.PercentOff = stripe.Float64(float64(value))
	case model.DiscountFixedAmount:
		params.AmountOff = stripe.Int64(value)
		params.Currency = stripe.String(strings.ToLower(currency))
	default:
		return "", domain.NewProviderError(method, domain.ProviderPermanent, "", fmt.Errorf("%w: discount type %q", domain.ErrInvalidArgument, typ))
	}

	c, err := g.coupons.New(params)
	if err == nil {
		return c.ID, nil
	}
	perr := classify(method, err)
	if !errors.Is(perr, domain.ErrProviderAlreadyExists) {
		return "", perr
	}

	g.logger.Debug().Str("code", code).Msg("coupon already exists at provider; resolving")
	existing, gerr := g.coupons.Get(code, &stripe.CouponParams{Params: stripe.Params{Context: p.Context}})
	if gerr != nil {
		return "", classify(method, gerr)
	}
	return existing.ID, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, providerSubID string) (ps *adapter.ProviderSubscription, err error) {
	const method = "get_subscription"
	start := time.Now()
	defer func() { g.observe(method, start, err) }()

	cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	s, err := g.subscriptions.Get(providerSubID, &stripe.SubscriptionParams{Params: stripe.Params{Context: cctx}})
	if err != nil {
		return nil, classify(method, err)
	}
	return toProviderSubscription(s), nil
}

func prorationBehavior(p adapter.ProrationPolicy) string {
	if p == adapter.ProrationInvoiceImmediately {
		return "always_invoice"
	}
	return "none"
}

func toProviderSubscription(s *stripe.Subscription) *adapter.ProviderSubscription {
	out := &adapter.ProviderSubscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		out.PriceRef = s.Items.Data[0].Price.ID
	}
	if s.CurrentPeriodEnd > 0 {
		t := time.Unix(s.CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &t
	}
	return out
}

// classify maps a stripe-go error onto the provider outcome classes.
//   - deadline / network timeout: request may have landed, outcome unknown
//   - other network errors, 429, 5xx, api_error: transient
//   - resource_already_exists: permanent, wraps ErrProviderAlreadyExists
//   - everything else: permanent
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(op, domain.ProviderUnknown, "timeout", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewProviderError(op, domain.ProviderUnknown, "canceled", err)
	}

	var se *stripe.Error
	if errors.As(err, &se) {
		code := string(se.Code)
		switch {
		case se.Code == stripe.ErrorCodeResourceAlreadyExists:
			return domain.NewProviderError(op, domain.ProviderPermanent, code, fmt.Errorf("%w: %s", domain.ErrProviderAlreadyExists, se.Msg))
		case se.HTTPStatusCode == http.StatusTooManyRequests, se.Code == stripe.ErrorCodeRateLimit:
			return domain.NewProviderError(op, domain.ProviderTransient, code, se)
		case se.HTTPStatusCode >= 500, se.Type == stripe.ErrorTypeAPI:
			return domain.NewProviderError(op, domain.ProviderTransient, code, se)
		default:
			return domain.NewProviderError(op, domain.ProviderPermanent, code, se)
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return domain.NewProviderError(op, domain.ProviderUnknown, "timeout", err)
		}
		return domain.NewProviderError(op, domain.ProviderTransient, "network", err)
	}
	return domain.NewProviderError(op, domain.ProviderPermanent, "", err)
}
